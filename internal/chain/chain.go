// Package chain abstracts the L2 rollup contract: reading the current
// per-domain nonce and submitting finished blocks. The concrete on-chain
// ABI encoding is the rollup's responsibility (spec.md §6); this package
// only defines the interface the block builder calls through and a
// transaction-submission client shaped like an Ethereum JSON-RPC backend.
package chain

import (
	"context"
	"errors"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// SubmitResult classifies what happened when a block was submitted,
// driving the retry/backoff behavior of internal/posting (spec.md §4.6
// step 5).
type SubmitResult int

const (
	Accepted SubmitResult = iota
	NonceMismatch
	InsufficientGas
	TxTimeout
	PermanentFailure
)

// Contract is the block builder's view of the on-chain rollup contract:
// two entry points and one read. Bit-exact ABI layout is out of scope
// (spec.md §1); this interface is what internal/posting depends on.
type Contract interface {
	// CurrentNonce reads the contract's currently expected nonce for the
	// given domain.
	CurrentNonce(ctx context.Context, blockType model.BlockType) (uint64, error)

	// PostRegistrationBlock submits a registration block: sender identity
	// is the sorted pubkey array itself.
	PostRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (SubmitResult, error)

	// PostNonRegistrationBlock submits a non-registration block (senders
	// already hold account IDs). RPCContract sends the sorted pubkey array
	// for this entry point too; task.AccountIDs is not sent.
	PostNonRegistrationBlock(ctx context.Context, task *model.BlockPostTask) (SubmitResult, error)
}

// Submit dispatches to the right contract entry point for task's domain.
func Submit(ctx context.Context, c Contract, task *model.BlockPostTask) (SubmitResult, error) {
	if task.BlockType == model.Registration {
		return c.PostRegistrationBlock(ctx, task)
	}
	return c.PostNonRegistrationBlock(ctx, task)
}

var ErrUnsupportedDomain = errors.New("chain: unsupported block type")
