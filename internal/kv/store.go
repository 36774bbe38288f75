// Package kv is a thin, multi-instance-safe layer over a key/value server.
// Every cross-instance coordination primitive in the block builder — locks,
// nonce reservations, request queues, memos, signatures — flows through
// this interface. See internal/kv/redis.go for the production
// implementation and internal/kv/kvtest for the in-memory test double.
package kv

import (
	"context"
	"time"
)

// Store is the KV surface the rest of the block builder depends on. All
// methods are safe for concurrent use from multiple processes talking to
// the same backing server.
type Store interface {
	// Get returns ErrNotFound if key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if absent, returns whether it set the value.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// DelIfEqual deletes key only if its current value equals expected,
	// atomically (Lua EVAL under Redis). Returns whether it deleted.
	DelIfEqual(ctx context.Context, key, expected string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr atomically increments key (treated as a base-10 integer,
	// defaulting to 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// RPush appends values to the tail of a list and (re)sets its TTL; a
	// ttl of zero leaves the list's TTL unchanged.
	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error
	// LPopN atomically removes and returns up to n elements from the head.
	LPopN(ctx context.Context, key string, n int) ([]string, error)
	// LPushFront restores values to the head of the list, in the order
	// given (values[0] ends up at the head).
	LPushFront(ctx context.Context, key string, ttl time.Duration, values ...string) error
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// BLPop blocks up to timeout for an element to appear, or returns
	// ErrNotFound if the context/timeout expires first.
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	// ZRange returns members in ascending score order for indices
	// [start, stop] (inclusive, Redis ZRANGE semantics).
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	Close() error
}

// ErrNotFound is returned by Get/HGet/BLPop when the key/field/element is
// absent. It is not itself a Transient or Inconsistent error: callers
// interpret absence according to their own semantics.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "kv: not found" }
