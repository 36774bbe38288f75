package storevault

import (
	"context"
	"sync"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// Fake is an in-memory Client for use across package tests.
type Fake struct {
	mu         sync.Mutex
	AlwaysFail bool
	Recorded   map[string]bool
	Finalized  map[string]bool
}

func NewFake() *Fake {
	return &Fake{Recorded: map[string]bool{}, Finalized: map[string]bool{}}
}

func key(blockID model.BlockID, pubkey model.PublicKey) string {
	return blockID.String() + ":" + pubkey.Hex()
}

func (f *Fake) ValidateFeeProof(ctx context.Context, pubkey model.PublicKey, blockType model.BlockType, proof model.FeeProof) error {
	if f.AlwaysFail {
		return errs.Validationf("fee_payment_invalid", "fake rejects all proofs")
	}
	return nil
}

func (f *Fake) RecordFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recorded[key(blockID, pubkey)] = true
	return nil
}

func (f *Fake) FinalizeFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Finalized[key(blockID, pubkey)] = true
	return nil
}

func (f *Fake) IsFinalized(blockID model.BlockID, pubkey model.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Finalized[key(blockID, pubkey)]
}
