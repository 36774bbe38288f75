// Package proposal implements the batch formation engine (spec.md §4.4):
// it drains a domain's request queue into 32-leaf blocks, builds the tx
// tree, reserves a nonce and persists the resulting memo for signers to
// retrieve and sign against.
package proposal

import (
	"context"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/merkletree"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
)

// MemoTTL is the lifetime of a ProposalMemo and its request_id->block_id
// mappings, spec.md §4.4 "Memo expiry".
const MemoTTL = 20 * time.Minute

const lockTTL = 10 * time.Second

// Engine runs the per-domain batching loop and serves proposal lookups.
type Engine struct {
	store          kv.Store
	keys           kv.Keys
	locks          *lock.Manager
	nonces         *nonce.Manager
	builderAddress string
	interval       time.Duration
	metrics        *metrics.Registry
	log            logging.Logger
}

func New(store kv.Store, keys kv.Keys, locks *lock.Manager, nonces *nonce.Manager, builderAddress string, interval time.Duration) *Engine {
	return &Engine{
		store:          store,
		keys:           keys,
		locks:          locks,
		nonces:         nonces,
		builderAddress: builderAddress,
		interval:       interval,
		log:            logging.New("component", "proposal"),
	}
}

// WithMetrics attaches a metrics registry; left unset, metric recording is
// a no-op (e.g. in tests that construct an Engine directly).
func (e *Engine) WithMetrics(reg *metrics.Registry) *Engine {
	e.metrics = reg
	return e
}

// Run executes ProcessOnce for domain t on a fixed tick until ctx is
// canceled, one goroutine per domain per spec.md §4.4.
func (e *Engine) Run(ctx context.Context, t model.BlockType) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessOnce(ctx, t); err != nil {
				e.log.Error("batch formation failed", "domain", t, "err", err)
			}
		}
	}
}

// ProcessOnce attempts one batching tick for domain t. It returns the
// memo it formed, or nil if no batch was due or the lock was already held
// by another instance.
func (e *Engine) ProcessOnce(ctx context.Context, t model.BlockType) (*model.ProposalMemo, error) {
	guard, err := e.locks.TryAcquire(ctx, "process_requests:"+t.QueueKey(), lockTTL)
	if err == lock.ErrBusy {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer e.locks.Release(ctx, guard)

	queueKey := e.keys.Queue(t.QueueKey())
	depth, err := e.store.LLen(ctx, queueKey)
	if err != nil {
		return nil, errs.Transientf("proposal_queue_len", err)
	}
	if e.metrics != nil {
		e.metrics.QueueDepth.WithLabelValues(t.String(), "tx_requests").Set(float64(depth))
	}
	if depth == 0 {
		return nil, nil
	}

	due, lastAt, err := e.isDue(ctx, t, depth)
	if err != nil {
		return nil, err
	}
	if !due {
		return nil, nil
	}

	raw, err := e.store.LPopN(ctx, queueKey, model.NumSendersInBlock)
	if err != nil {
		return nil, errs.Transientf("proposal_lpop", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	requests := make([]model.QueuedRequest, 0, len(raw))
	for _, r := range raw {
		var qr model.QueuedRequest
		if err := qr.UnmarshalBinary([]byte(r)); err != nil {
			return nil, errs.Inconsistentf("proposal_corrupt_request", err)
		}
		requests = append(requests, qr)
	}

	if e.metrics != nil {
		oldest := requests[0].SubmittedAt
		for _, r := range requests[1:] {
			if r.SubmittedAt.Before(oldest) {
				oldest = r.SubmittedAt
			}
		}
		e.metrics.BatchLatency.WithLabelValues(t.String()).Observe(time.Since(oldest).Seconds())
	}

	memo, err := e.buildMemo(ctx, t, requests)
	if err != nil {
		// restore requests to the head of the queue in submission order
		// and surface the failure; the next tick will retry them.
		restored := make([]string, len(raw))
		copy(restored, raw)
		if rerr := e.store.LPushFront(ctx, queueKey, 20*time.Minute, restored...); rerr != nil {
			e.log.Error("failed to restore queue after batch failure", "domain", t, "err", rerr)
		}
		return nil, err
	}

	if err := e.persist(ctx, t, memo, lastAt); err != nil {
		if relErr := e.nonces.Release(ctx, t, memo.ReservedNonce); relErr != nil {
			e.log.Error("failed to release nonce after persist failure", "domain", t, "err", relErr)
		}
		restored := make([]string, len(raw))
		copy(restored, raw)
		if rerr := e.store.LPushFront(ctx, queueKey, 20*time.Minute, restored...); rerr != nil {
			e.log.Error("failed to restore queue after persist failure", "domain", t, "err", rerr)
		}
		return nil, err
	}

	e.log.Info("block proposed", "domain", t, "block_id", memo.BlockID, "nonce", memo.ReservedNonce, "tx_count", len(requests))
	return memo, nil
}

// isDue implements spec.md §4.4 step 2: emit if queue >= 32, or queue >= 1
// and the interval has elapsed since the domain's last batch.
func (e *Engine) isDue(ctx context.Context, t model.BlockType, depth int64) (bool, time.Time, error) {
	if depth >= model.NumSendersInBlock {
		lastAt, _ := e.lastProcessedAt(ctx, t)
		return true, lastAt, nil
	}
	lastAt, ok := e.lastProcessedAt(ctx, t)
	if !ok {
		// first tick this process has seen for this domain: start the
		// clock now rather than flushing a lone request immediately.
		if err := e.store.Set(ctx, e.keys.LastProcessedAt(t.QueueKey()), formatTime(time.Now()), 0); err != nil {
			return false, time.Time{}, errs.Transientf("proposal_init_last_processed", err)
		}
		return false, time.Time{}, nil
	}
	return time.Since(lastAt) >= e.interval, lastAt, nil
}

func (e *Engine) lastProcessedAt(ctx context.Context, t model.BlockType) (time.Time, bool) {
	v, err := e.store.Get(ctx, e.keys.LastProcessedAt(t.QueueKey()))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := parseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (e *Engine) buildMemo(ctx context.Context, t model.BlockType, requests []model.QueuedRequest) (*model.ProposalMemo, error) {
	distinct := make([]model.PublicKey, 0, len(requests))
	seen := make(map[model.PublicKey]bool, len(requests))
	for _, r := range requests {
		pk := r.Request.SenderPubkey
		if !seen[pk] {
			seen[pk] = true
			distinct = append(distinct, pk)
		}
	}
	sortedPubkeys := model.SortDescendingPadded(distinct)

	positionOf := make(map[model.PublicKey]int, len(distinct))
	for i, pk := range sortedPubkeys {
		if !pk.IsDummy() {
			positionOf[pk] = i
		}
	}

	var leafData [model.NumSendersInBlock][]byte
	for _, r := range requests {
		pos := positionOf[r.Request.SenderPubkey]
		leafData[pos] = r.Request.Encode()
	}
	tree := merkletree.Build(leafData)
	txTreeRoot := tree.Root()

	pubkeyConcat := make([]byte, 0, model.NumSendersInBlock*32)
	for _, pk := range sortedPubkeys {
		pubkeyConcat = append(pubkeyConcat, pk.Bytes()...)
	}
	pubkeyHash := model.HashBytes(pubkeyConcat)

	n, err := e.nonces.Reserve(ctx, t)
	if err != nil {
		return nil, err
	}

	isReg := byte(0)
	if t == model.Registration {
		isReg = 1
	}
	blockSignPayload := model.HashBytes(
		txTreeRoot.Bytes(),
		pubkeyHash.Bytes(),
		[]byte{isReg},
		encodeUint64(n),
		[]byte(e.builderAddress),
	)

	proposals := make([]model.MerkleProof, len(requests))
	for i, r := range requests {
		pos := positionOf[r.Request.SenderPubkey]
		proposals[i] = tree.ProofFor(pos)
	}

	return &model.ProposalMemo{
		BlockID:             model.NewBlockID(),
		CreatedAt:           time.Now(),
		IsRegistrationBlock: t == model.Registration,
		ReservedNonce:       n,
		SortedPubkeys:       sortedPubkeys,
		PubkeyHash:          pubkeyHash,
		TxRequests:          requests,
		Proposals:           proposals,
		TxTreeRoot:          txTreeRoot,
		BlockSignPayload:    blockSignPayload,
	}, nil
}

// persist writes the memo, the request->block mappings and the domain's
// last_processed_at in sequence. True cross-key atomicity would need a Lua
// script spanning an unbounded number of keys (one per request); instead
// each write is best-effort in order, and the caller rolls the nonce and
// queue back on any failure.
func (e *Engine) persist(ctx context.Context, t model.BlockType, memo *model.ProposalMemo, _ time.Time) error {
	data, err := memo.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, e.keys.Memo(memo.BlockID.String()), string(data), MemoTTL); err != nil {
		return errs.Transientf("proposal_persist_memo", err)
	}
	for _, r := range memo.TxRequests {
		if err := e.store.Set(ctx, e.keys.RequestBlock(r.RequestID.String()), memo.BlockID.String(), MemoTTL); err != nil {
			return errs.Transientf("proposal_persist_mapping", err)
		}
	}
	if err := e.store.Set(ctx, e.keys.LastProcessedAt(t.QueueKey()), formatTime(time.Now()), 0); err != nil {
		return errs.Transientf("proposal_persist_last_processed", err)
	}
	if err := e.store.ZAdd(ctx, e.keys.PendingBlocks(), float64(memo.CreatedAt.Unix()), memo.BlockID.String()); err != nil {
		return errs.Transientf("proposal_persist_pending", err)
	}
	return nil
}

// Lookup resolves a request to its memo and the request's Merkle proof
// (spec.md §4.4 "query_proposal"). ok is false if the request has not yet
// been batched (the caller should respond Pending).
func (e *Engine) Lookup(ctx context.Context, requestID model.RequestID) (memo *model.ProposalMemo, proof model.MerkleProof, ok bool, err error) {
	blockIDStr, err := e.store.Get(ctx, e.keys.RequestBlock(requestID.String()))
	if err == kv.ErrNotFound {
		return nil, model.MerkleProof{}, false, nil
	}
	if err != nil {
		return nil, model.MerkleProof{}, false, errs.Transientf("proposal_lookup_mapping", err)
	}
	data, err := e.store.Get(ctx, e.keys.Memo(blockIDStr))
	if err == kv.ErrNotFound {
		return nil, model.MerkleProof{}, false, nil
	}
	if err != nil {
		return nil, model.MerkleProof{}, false, errs.Transientf("proposal_lookup_memo", err)
	}
	var m model.ProposalMemo
	if err := m.UnmarshalBinary([]byte(data)); err != nil {
		return nil, model.MerkleProof{}, false, errs.Inconsistentf("proposal_corrupt_memo", err)
	}
	pos := m.PositionOf(requestID)
	if pos < 0 {
		return nil, model.MerkleProof{}, false, errs.Inconsistentf("proposal_missing_request", errMissingRequest)
	}
	return &m, m.Proposals[pos], true, nil
}

func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

var errMissingRequest = lookupError("request mapped to a block that no longer contains it")

type lookupError string

func (e lookupError) Error() string { return string(e) }
