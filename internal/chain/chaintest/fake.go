// Package chaintest provides an in-memory chain.Contract fake used by
// internal/posting and internal/nonce tests to script on-chain nonce state
// and submission outcomes without a live RPC endpoint.
package chaintest

import (
	"context"
	"sync"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

type Fake struct {
	mu     sync.Mutex
	nonces map[model.BlockType]uint64
	// NextResult, if set, overrides the default nonce-based acceptance
	// logic for the next call to PostRegistrationBlock/PostNonRegistrationBlock.
	NextResult *chain.SubmitResult
	NextErr    error
	Posted     []*model.BlockPostTask
}

func New() *Fake {
	return &Fake{nonces: map[model.BlockType]uint64{}}
}

func (f *Fake) SetNonce(t model.BlockType, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[t] = n
}

func (f *Fake) CurrentNonce(ctx context.Context, t model.BlockType) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[t], nil
}

func (f *Fake) PostRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (chain.SubmitResult, error) {
	return f.post(task)
}

func (f *Fake) PostNonRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (chain.SubmitResult, error) {
	return f.post(task)
}

func (f *Fake) post(task *model.BlockPostTask) (chain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NextResult != nil {
		res := *f.NextResult
		f.NextResult = nil
		err := f.NextErr
		f.NextErr = nil
		if res == chain.Accepted {
			f.nonces[task.BlockType] = task.Nonce + 1
			f.Posted = append(f.Posted, task)
		}
		return res, err
	}

	current := f.nonces[task.BlockType]
	if task.Nonce != current {
		return chain.NonceMismatch, errNonceMismatch
	}
	f.nonces[task.BlockType] = current + 1
	f.Posted = append(f.Posted, task)
	return chain.Accepted, nil
}

var errNonceMismatch = fakeErr("chaintest: nonce mismatch")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
