// Package kvtest provides an in-memory kv.Store fake for unit tests,
// following the same "swap the backing client behind a narrow interface"
// idea as the teacher's ethdb/redisdb mock client, but implementing real
// semantics so higher-level components can be tested without a live Redis
// server.
package kvtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
)

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

type zentry struct {
	member string
	score  float64
}

// Fake is an in-memory kv.Store. Create it with New; the zero value has
// nil maps and cannot be written to.
type Fake struct {
	mu     sync.Mutex
	values map[string]entry
	lists  map[string][]string
	hashes map[string]map[string]string
	zsets  map[string][]zentry

	// Notify, if set, is called after every mutating operation; tests use
	// it to simulate BLPop wakeups.
	Notify func()
}

func New() *Fake {
	return &Fake{
		values: map[string]entry{},
		lists:  map[string][]string{},
		hashes: map[string]map[string]string{},
		zsets:  map[string][]zentry{},
	}
}

var _ kv.Store = (*Fake)(nil)

func (f *Fake) expired(key string) bool {
	e, ok := f.values[key]
	if !ok {
		return false
	}
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (f *Fake) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.values, key)
	}
	e, ok := f.values[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return e.value, nil
}

func (f *Fake) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(key, value, ttl)
	return nil
}

func (f *Fake) setLocked(key, value string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.values[key] = entry{value: value, expires: exp}
}

func (f *Fake) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.values, key)
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.setLocked(key, value, ttl)
	return true, nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *Fake) DelIfEqual(ctx context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.values, key)
	}
	e, ok := f.values[key]
	if !ok || e.value != expected {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.values[key]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(ttl)
	f.values[key] = e
	return nil
}

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.values[key]
	var n int64
	if e.value != "" {
		for _, c := range e.value {
			n = n*10 + int64(c-'0')
		}
	}
	n++
	e.value = itoa(n)
	f.values[key] = e
	return n, nil
}

func (f *Fake) HSet(ctx context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (f *Fake) HGet(ctx context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

func (f *Fake) HDel(ctx context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return nil
	}
	for _, fl := range fields {
		delete(h, fl)
	}
	return nil
}

func (f *Fake) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	if f.Notify != nil {
		go f.Notify()
	}
	return nil
}

func (f *Fake) LPopN(ctx context.Context, key string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if n > len(l) {
		n = len(l)
	}
	popped := append([]string(nil), l[:n]...)
	f.lists[key] = l[n:]
	return popped, nil
}

func (f *Fake) LPushFront(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(append([]string(nil), values...), f.lists[key]...)
	if f.Notify != nil {
		go f.Notify()
	}
	return nil
}

func (f *Fake) LLen(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *Fake) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), l[start:stop+1]...), nil
}

func (f *Fake) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		l := f.lists[key]
		if len(l) > 0 {
			v := l[0]
			f.lists[key] = l[1:]
			f.mu.Unlock()
			return v, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", kv.ErrNotFound
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return "", kv.ErrNotFound
		}
	}
}

func (f *Fake) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	for i, e := range z {
		if e.member == member {
			z[i].score = score
			f.sortZLocked(key)
			return nil
		}
	}
	f.zsets[key] = append(z, zentry{member: member, score: score})
	f.sortZLocked(key)
	return nil
}

func (f *Fake) sortZLocked(key string) {
	z := f.zsets[key]
	sort.Slice(z, func(i, j int) bool { return z[i].score < z[j].score })
}

func (f *Fake) ZRem(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	for i, e := range z {
		if e.member == member {
			f.zsets[key] = append(z[:i], z[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	n := int64(len(z))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, e := range z[start : stop+1] {
		out = append(out, e.member)
	}
	return out, nil
}

func (f *Fake) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	kept := z[:0:0]
	for _, e := range z {
		if e.score < min || e.score > max {
			kept = append(kept, e)
		}
	}
	f.zsets[key] = kept
	return nil
}

func (f *Fake) Close() error { return nil }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
