// Package nonce manages the two independent per-domain nonce counters
// (registration, non-registration) that the posting scheduler uses to
// enforce gap-free submission to the L2 rollup contract.
package nonce

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// ChainReader exposes the single piece of on-chain state the nonce manager
// needs: the contract's current nonce for a domain.
type ChainReader interface {
	CurrentNonce(ctx context.Context, blockType model.BlockType) (uint64, error)
}

// Manager reserves and reconciles nonces for both domains. One Manager is
// shared by every background loop and HTTP handler in a process.
type Manager struct {
	store   kv.Store
	locks   *lock.Manager
	chain   ChainReader
	metrics *metrics.Registry
	log     logging.Logger
}

func New(store kv.Store, locks *lock.Manager, chain ChainReader) *Manager {
	return &Manager{store: store, locks: locks, chain: chain, log: logging.New("component", "nonce")}
}

// WithMetrics attaches a metrics registry; left unset, metric recording is
// a no-op (e.g. in tests that construct a Manager directly).
func (m *Manager) WithMetrics(reg *metrics.Registry) *Manager {
	m.metrics = reg
	return m
}

func nextKey(t model.BlockType) string     { return "next_" + t.QueueKey() + "_nonce" }
func reservedKey(t model.BlockType) string { return "reserved_" + t.QueueKey() }

// Reserve claims the next monotonically increasing nonce in domain t and
// records it in the reservation set.
func (m *Manager) Reserve(ctx context.Context, t model.BlockType) (uint64, error) {
	n, err := m.store.Incr(ctx, nextKey(t))
	if err != nil {
		return 0, errs.Transientf("nonce_reserve", err)
	}
	nonce := uint64(n)
	if err := m.store.ZAdd(ctx, reservedKey(t), float64(nonce), strconv.FormatUint(nonce, 10)); err != nil {
		return 0, errs.Transientf("nonce_reserve_record", err)
	}
	m.log.Debug("nonce reserved", "domain", t, "nonce", nonce)
	return nonce, nil
}

// Release drops a reservation, e.g. after the corresponding block is posted
// or its memo expired with no signatures and no collateral.
func (m *Manager) Release(ctx context.Context, t model.BlockType, n uint64) error {
	if err := m.store.ZRem(ctx, reservedKey(t), strconv.FormatUint(n, 10)); err != nil {
		return errs.Transientf("nonce_release", err)
	}
	m.log.Debug("nonce released", "domain", t, "nonce", n)
	return nil
}

// SmallestReserved returns the lowest outstanding reservation for domain t,
// and false if there are none.
func (m *Manager) SmallestReserved(ctx context.Context, t model.BlockType) (uint64, bool, error) {
	members, err := m.store.ZRange(ctx, reservedKey(t), 0, 0)
	if err != nil {
		return 0, false, errs.Transientf("nonce_smallest", err)
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return 0, false, errs.Inconsistentf("nonce_corrupt_member", err)
	}
	return n, true, nil
}

// SyncWithChain reconciles the domain's local counters against the
// contract's authoritative nonce: under the nonce_sync lock, it advances
// next_{domain}_nonce if the chain has moved past it and drops any
// reservation the chain has already passed (it will never be included).
func (m *Manager) SyncWithChain(ctx context.Context, t model.BlockType) error {
	g, err := m.locks.TryAcquire(ctx, "nonce_sync", 10*time.Second)
	if err != nil {
		if err == lock.ErrBusy {
			return nil // another instance is already syncing
		}
		return err
	}
	defer m.locks.Release(ctx, g)

	onChain, err := m.chain.CurrentNonce(ctx, t)
	if err != nil {
		return errs.Transientf("nonce_sync_chain_read", err)
	}

	cur, err := m.store.Get(ctx, nextKey(t))
	if err != nil && err != kv.ErrNotFound {
		return errs.Transientf("nonce_sync_read", err)
	}
	curVal := uint64(0)
	if err == nil {
		v, perr := strconv.ParseUint(cur, 10, 64)
		if perr != nil {
			return errs.Inconsistentf("nonce_sync_corrupt", perr)
		}
		curVal = v
	}
	if curVal < onChain {
		if err := m.store.Set(ctx, nextKey(t), strconv.FormatUint(onChain, 10), 0); err != nil {
			return errs.Transientf("nonce_sync_write", err)
		}
		m.log.Info("nonce counter advanced to chain", "domain", t, "chain_nonce", onChain)
	}

	if onChain > 0 {
		if err := m.store.ZRemRangeByScore(ctx, reservedKey(t), negInf, float64(onChain-1)); err != nil {
			return errs.Transientf("nonce_sync_gc", err)
		}
	}

	if m.metrics != nil {
		gap := curVal - onChain
		if curVal < onChain {
			gap = 0
		}
		m.metrics.NonceGap.WithLabelValues(t.String()).Set(float64(gap))
	}
	return nil
}

var negInf = math.Inf(-1)

// RunSyncLoop runs SyncWithChain for both domains on a fixed interval until
// ctx is canceled. It also runs once immediately, satisfying spec.md's
// "before the first reservation in a process's lifetime" requirement when
// called during startup.
func (m *Manager) RunSyncLoop(ctx context.Context, interval time.Duration) {
	sync := func() {
		for _, t := range []model.BlockType{model.Registration, model.NonRegistration} {
			if err := m.SyncWithChain(ctx, t); err != nil {
				m.log.Error("nonce sync failed", "domain", t, "err", err)
			}
		}
	}
	sync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
