package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
)

// client is the subset of *redis.Client this package depends on, mirroring
// the teacher's ethdb/redisdb "simpleClient" seam so tests can substitute a
// mock without a live Redis server.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd

	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd

	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd

	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd

	Close() error
}

var _ client = (*redis.Client)(nil)

// redisStore is the production kv.Store, backed by a Redis-compatible server.
type redisStore struct {
	c client
}

// NewRedisStore dials the given Redis URL (redis://[:password@]host:port/db)
// and returns a Store.
func NewRedisStore(url string) (Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Fatalf("kv_bad_url", err)
	}
	return &redisStore{c: redis.NewClient(opt)}, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return errs.Transientf("kv_unavailable", err)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.Get(ctx, key).Result()
	return v, wrapErr(err)
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr(s.c.Set(ctx, key, value, ttl).Err())
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.c.SetNX(ctx, key, value, ttl).Result()
	return ok, wrapErr(err)
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	return wrapErr(s.c.Del(ctx, keys...).Err())
}

// delIfEqualScript atomically checks-and-deletes, the Lua-equivalent
// compare-and-delete named in spec.md §2. Returns 1 if deleted, 0 otherwise.
const delIfEqualScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func (s *redisStore) DelIfEqual(ctx context.Context, key, expected string) (bool, error) {
	res, err := s.c.Eval(ctx, delIfEqualScript, []string{key}, expected).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapErr(s.c.Expire(ctx, key, ttl).Err())
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.c.Incr(ctx, key).Result()
	return n, wrapErr(err)
}

func (s *redisStore) HSet(ctx context.Context, key, field, value string) error {
	return wrapErr(s.c.HSet(ctx, key, field, value).Err())
}

func (s *redisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.c.HGet(ctx, key, field).Result()
	return v, wrapErr(err)
}

func (s *redisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return wrapErr(s.c.HDel(ctx, key, fields...).Err())
}

func (s *redisStore) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.c.RPush(ctx, key, args...).Err(); err != nil {
		return wrapErr(err)
	}
	if ttl <= 0 {
		return nil
	}
	return wrapErr(s.c.Expire(ctx, key, ttl).Err())
}

func (s *redisStore) LPopN(ctx context.Context, key string, n int) ([]string, error) {
	vals, err := s.c.LPopCount(ctx, key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return vals, wrapErr(err)
}

func (s *redisStore) LPushFront(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	// LPush pushes each argument in turn onto the head, reversing order;
	// push in reverse so values[0] ends up at the head as documented.
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[len(values)-1-i] = v
	}
	if err := s.c.LPush(ctx, key, args...).Err(); err != nil {
		return wrapErr(err)
	}
	if ttl <= 0 {
		return nil
	}
	return wrapErr(s.c.Expire(ctx, key, ttl).Err())
}

func (s *redisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.c.LLen(ctx, key).Result()
	return n, wrapErr(err)
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.c.LRange(ctx, key, start, stop).Result()
	return vals, wrapErr(err)
}

func (s *redisStore) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	vals, err := s.c.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr(err)
	}
	if len(vals) < 2 {
		return "", ErrNotFound
	}
	return vals[1], nil
}

func (s *redisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrapErr(s.c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *redisStore) ZRem(ctx context.Context, key string, member string) error {
	return wrapErr(s.c.ZRem(ctx, key, member).Err())
}

func (s *redisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.c.ZRange(ctx, key, start, stop).Result()
	return vals, wrapErr(err)
}

func (s *redisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return wrapErr(s.c.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err())
}

func (s *redisStore) Close() error { return s.c.Close() }

func formatScore(f float64) string {
	if f == negInf {
		return "-inf"
	}
	if f == posInf {
		return "+inf"
	}
	return formatFloat(f)
}
