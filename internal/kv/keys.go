package kv

import "fmt"

// Keys builds the "block_builder:{cluster_id}:" namespaced key names used
// throughout the builder (spec.md §6). Lock keys (internal/lock, "lock:{name}")
// and nonce keys (internal/nonce, "next_{domain}_nonce", "reserved_{domain}")
// are not built here and carry no cluster prefix.
type Keys struct {
	ClusterID string
}

func NewKeys(clusterID string) Keys { return Keys{ClusterID: clusterID} }

func (k Keys) prefix() string { return fmt.Sprintf("block_builder:%s:", k.ClusterID) }

func (k Keys) Queue(domain string) string          { return k.prefix() + "queue:" + domain }

// Memo returns the per-block-id key backing the "memos" hash of spec.md
// §3. Redis hash fields cannot each carry their own TTL without HEXPIRE
// (Redis 7.4+), so each memo is instead stored as its own TTL'd string key
// — functionally the same "memos keyed by block_id, TTL 20 min" contract.
func (k Keys) Memo(blockID string) string { return k.prefix() + "memo:" + blockID }

// RequestBlock is the request_id -> block_id lookup of spec.md §3, same
// per-key-TTL reasoning as Memo.
func (k Keys) RequestBlock(requestID string) string { return k.prefix() + "request_block:" + requestID }

func (k Keys) Signatures(blockID string) string     { return k.prefix() + "signatures:" + blockID }
func (k Keys) PostTasksHi() string                  { return k.prefix() + "block_post_tasks_hi" }
func (k Keys) PostTasksLo() string                  { return k.prefix() + "block_post_tasks_lo" }
func (k Keys) DeadLetter() string                   { return k.prefix() + "block_post_tasks_dead" }
func (k Keys) LastProcessedAt(domain string) string { return k.prefix() + "last_processed_at:" + domain }
func (k Keys) EmptyBlockPostedAt() string           { return k.prefix() + "empty_block_posted_at" }
func (k Keys) Collateral(requestID string) string   { return k.prefix() + "collateral:" + requestID }
func (k Keys) FeeTask(blockID string) string        { return k.prefix() + "fee_task:" + blockID }
func (k Keys) FeeCollectionTasks() string           { return k.prefix() + "fee_collection_tasks" }

// PendingBlocks is a sorted set of block_ids awaiting finalization,
// scored by the memo's CreatedAt unix timestamp, so the finalizer loop
// can discover candidates without a KV scan.
func (k Keys) PendingBlocks() string { return k.prefix() + "pending_blocks" }
