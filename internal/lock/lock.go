// Package lock implements named, TTL-bounded distributed leases on top of
// kv.Store: acquire is a conditional set-if-absent with expiry, release is a
// delete-if-value-matches. This is the same shape as redsync's
// single-instance mutex (github.com/go-redsync/redsync), adapted to our kv
// abstraction instead of talking to Redis directly so the same lock manager
// works against the in-memory test fake.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
)

const keyPrefix = "lock:"

// ErrBusy is returned by TryAcquire when another owner currently holds the
// named lock. It is not itself a Transient error: the caller is expected to
// back off and try again on the next tick, not retry immediately.
var ErrBusy = errors.New("lock: busy")

// Guard represents a held lease. Release must be called exactly once,
// ideally via defer right after a successful TryAcquire.
type Guard struct {
	name  string
	owner string
	store kv.Store
}

// Manager hands out named leases. builderID is prefixed onto every owner
// token so lock holders are attributable in observability and two
// processes never generate colliding owner tokens.
type Manager struct {
	store     kv.Store
	builderID string
	log       logging.Logger
}

func New(store kv.Store, builderID string) *Manager {
	return &Manager{store: store, builderID: builderID, log: logging.New("component", "lock")}
}

// TryAcquire attempts to take the named lock for ttl. Returns ErrBusy if
// another owner currently holds it.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Guard, error) {
	owner := m.builderID + ":" + randomNonce()
	key := keyPrefix + name
	ok, err := m.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, errs.Transientf("lock_acquire", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	m.log.Debug("lock acquired", "name", name, "owner", owner, "ttl", ttl)
	return &Guard{name: name, owner: owner, store: m.store}, nil
}

// Release drops the lease if, and only if, it is still held by this guard's
// owner token. A guard whose TTL has already elapsed releases harmlessly:
// DelIfEqual simply reports no-op, since some other owner (or no one) holds
// the key by then.
func (m *Manager) Release(ctx context.Context, g *Guard) error {
	if g == nil {
		return nil
	}
	_, err := g.store.DelIfEqual(ctx, keyPrefix+g.name, g.owner)
	if err != nil {
		return errs.Transientf("lock_release", err)
	}
	return nil
}

func randomNonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
