package validity

import (
	"context"
	"sync"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// Fake is an in-memory Client used across package tests and internal/intake
// tests; not behind a _test.go so other packages' test files can import it.
type Fake struct {
	mu         sync.Mutex
	KnownAccts map[model.PublicKey]model.AccountID
	Pending    bool
}

func NewFake() *Fake {
	return &Fake{KnownAccts: map[model.PublicKey]model.AccountID{}}
}

func (f *Fake) AccountExists(ctx context.Context, pubkey model.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.KnownAccts[pubkey]
	return ok, nil
}

func (f *Fake) AccountID(ctx context.Context, pubkey model.PublicKey) (model.AccountID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.KnownAccts[pubkey]
	if !ok {
		return 0, errs.Validationf("unknown_sender", "pubkey %s has no assigned account id", pubkey.Hex())
	}
	return id, nil
}

func (f *Fake) PendingDeposits(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pending, nil
}

func (f *Fake) Register(pubkey model.PublicKey, id model.AccountID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KnownAccts[pubkey] = id
}
