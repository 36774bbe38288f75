// Package signature implements the signature collector and block
// finalizer (spec.md §4.5): verifying and recording per-sender BLS
// signatures against a proposal memo, then aggregating them (or falling
// back to collateral) into a BlockPostTask for the posting scheduler.
package signature

import (
	"context"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/bls"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
)

const lockTTL = 10 * time.Second

// SignaturesTTL is the TTL refreshed on every RPUSH to a block's signature
// list, spec.md §3.
const SignaturesTTL = 20 * time.Minute

// FeeScheduler is the narrow surface internal/feecollection implements;
// the finalizer calls it once per finalized memo when fee collection is
// enabled. Left nil, fee scheduling is skipped entirely.
type FeeScheduler interface {
	Enqueue(ctx context.Context, memo *model.ProposalMemo, attendance model.AttendanceBitmap) error
}

// CollateralSource resolves the pre-signed collateral BlockPostTask for a
// memo's participants, if the builder holds one (spec.md §4.5 "Collateral
// semantics"). Left nil, collateral fallback is skipped (UseCollateral off).
type CollateralSource interface {
	Find(ctx context.Context, memo *model.ProposalMemo) (*model.BlockPostTask, bool, error)
}

type Engine struct {
	store      kv.Store
	keys       kv.Keys
	locks      *lock.Manager
	nonces     *nonce.Manager
	interval   time.Duration
	fees       FeeScheduler
	collateral CollateralSource
	metrics    *metrics.Registry
	log        logging.Logger
}

func New(store kv.Store, keys kv.Keys, locks *lock.Manager, nonces *nonce.Manager, interval time.Duration) *Engine {
	return &Engine{store: store, keys: keys, locks: locks, nonces: nonces, interval: interval, log: logging.New("component", "signature")}
}

func (e *Engine) WithFeeScheduler(f FeeScheduler) *Engine         { e.fees = f; return e }
func (e *Engine) WithCollateralSource(c CollateralSource) *Engine { e.collateral = c; return e }

// WithMetrics attaches a metrics registry; left unset, metric recording is
// a no-op (e.g. in tests that construct an Engine directly).
func (e *Engine) WithMetrics(reg *metrics.Registry) *Engine {
	e.metrics = reg
	return e
}

// PostSignature implements spec.md §4.5 "post_signature". It verifies the
// signature against the memo's block_sign_payload and that pubkey holds
// one of the memo's 32 slots, then appends it to the block's signature
// list.
func (e *Engine) PostSignature(ctx context.Context, requestID model.RequestID, pubkey model.PublicKey, sig model.BLSSignature) error {
	blockIDStr, err := e.store.Get(ctx, e.keys.RequestBlock(requestID.String()))
	if err == kv.ErrNotFound {
		return errs.Validationf("unknown_request", "request %s has no pending proposal", requestID)
	}
	if err != nil {
		return errs.Transientf("signature_lookup_mapping", err)
	}
	data, err := e.store.Get(ctx, e.keys.Memo(blockIDStr))
	if err == kv.ErrNotFound {
		return errs.Validationf("unknown_request", "proposal for request %s has expired", requestID)
	}
	if err != nil {
		return errs.Transientf("signature_lookup_memo", err)
	}
	var memo model.ProposalMemo
	if err := memo.UnmarshalBinary([]byte(data)); err != nil {
		return errs.Inconsistentf("signature_corrupt_memo", err)
	}

	ok, err := bls.Verify(pubkey, memo.BlockSignPayload, sig)
	if err != nil || !ok {
		return errs.Validationf("invalid_signature", "signature does not verify under pubkey %s", pubkey.Hex())
	}

	member := false
	for _, pk := range memo.SortedPubkeys {
		if pk == pubkey {
			member = true
			break
		}
	}
	if !member {
		return errs.Validationf("unknown_sender", "pubkey %s is not part of block %s", pubkey.Hex(), memo.BlockID)
	}

	entry := model.SignatureEntry{BlockID: memo.BlockID, Pubkey: pubkey, Signature: sig}
	encoded, err := entry.MarshalBinary()
	if err != nil {
		return err
	}
	sigsKey := e.keys.Signatures(memo.BlockID.String())
	if err := e.store.RPush(ctx, sigsKey, SignaturesTTL, string(encoded)); err != nil {
		return errs.Transientf("signature_append", err)
	}
	e.log.Info("signature accepted", "block_id", memo.BlockID, "pubkey", pubkey.Hex())
	return nil
}

// Run executes ProcessOnce on a fixed tick until ctx is canceled.
func (e *Engine) Run(ctx context.Context, blockIDs func(ctx context.Context) ([]model.BlockID, error)) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := blockIDs(ctx)
			if err != nil {
				e.log.Error("failed to list candidate memos", "err", err)
				continue
			}
			for _, id := range ids {
				if err := e.ProcessOnce(ctx, id); err != nil {
					e.log.Error("finalization failed", "block_id", id, "err", err)
				}
			}
		}
	}
}

// ProcessOnce implements spec.md §4.5 "process_signatures" for a single
// memo, under the shared process_signatures lock. It is a no-op (not an
// error) if the memo is missing, already finalized, or not yet due.
func (e *Engine) ProcessOnce(ctx context.Context, blockID model.BlockID) error {
	guard, err := e.locks.TryAcquire(ctx, "process_signatures", lockTTL)
	if err == lock.ErrBusy {
		return nil
	}
	if err != nil {
		return err
	}
	defer e.locks.Release(ctx, guard)

	data, err := e.store.Get(ctx, e.keys.Memo(blockID.String()))
	if err == kv.ErrNotFound {
		_ = e.store.ZRem(ctx, e.keys.PendingBlocks(), blockID.String())
		return nil
	}
	if err != nil {
		return errs.Transientf("finalize_read_memo", err)
	}
	var memo model.ProposalMemo
	if err := memo.UnmarshalBinary([]byte(data)); err != nil {
		return errs.Inconsistentf("finalize_corrupt_memo", err)
	}
	if time.Since(memo.CreatedAt) < e.interval {
		return nil
	}

	sigsKey := e.keys.Signatures(blockID.String())
	rawSigs, err := e.store.LPopN(ctx, sigsKey, len(memo.SortedPubkeys))
	if err != nil {
		return errs.Transientf("finalize_drain_signatures", err)
	}

	bySlot := make(map[int]model.BLSSignature, len(rawSigs))
	for _, raw := range rawSigs {
		var entry model.SignatureEntry
		if err := entry.UnmarshalBinary([]byte(raw)); err != nil {
			e.log.Error("dropping corrupt signature entry", "block_id", blockID, "err", err)
			continue
		}
		slot := -1
		for i, pk := range memo.SortedPubkeys {
			if pk == entry.Pubkey {
				slot = i
				break
			}
		}
		if slot < 0 {
			continue // stale signature from a pubkey no longer in this memo
		}
		if _, dup := bySlot[slot]; dup {
			continue // first signature per pubkey wins
		}
		bySlot[slot] = entry.Signature
	}

	if err := e.finalize(ctx, &memo, bySlot); err != nil {
		return err
	}

	if err := e.store.Del(ctx, e.keys.Memo(blockID.String()), sigsKey); err != nil {
		e.log.Error("failed to clean up finalized memo", "block_id", blockID, "err", err)
	}
	for _, r := range memo.TxRequests {
		_ = e.store.Del(ctx, e.keys.RequestBlock(r.RequestID.String()))
	}
	_ = e.store.ZRem(ctx, e.keys.PendingBlocks(), blockID.String())
	return nil
}

// PendingBlockIDs lists every block_id awaiting finalization, the
// candidate source Run polls each tick.
func (e *Engine) PendingBlockIDs(ctx context.Context) ([]model.BlockID, error) {
	members, err := e.store.ZRange(ctx, e.keys.PendingBlocks(), 0, -1)
	if err != nil {
		return nil, errs.Transientf("pending_blocks_list", err)
	}
	ids := make([]model.BlockID, 0, len(members))
	for _, m := range members {
		id, err := model.ParseBlockID(m)
		if err != nil {
			e.log.Error("dropping corrupt pending block id", "raw", m, "err", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) finalize(ctx context.Context, memo *model.ProposalMemo, bySlot map[int]model.BLSSignature) error {
	if e.metrics != nil {
		e.metrics.SignersPerBlock.Observe(float64(len(bySlot)))
	}
	if len(bySlot) == 0 {
		if e.collateral != nil {
			task, found, err := e.collateral.Find(ctx, memo)
			if err != nil {
				return err
			}
			if found {
				data, err := task.MarshalBinary()
				if err != nil {
					return err
				}
				if err := e.store.RPush(ctx, e.keys.PostTasksHi(), 0, string(data)); err != nil {
					return errs.Transientf("finalize_enqueue_collateral", err)
				}
				e.log.Info("zero signatures; posting collateral block", "block_id", memo.BlockID, "nonce", memo.ReservedNonce)
				return nil
			}
		}
		if err := e.nonces.Release(ctx, memo.BlockType(), memo.ReservedNonce); err != nil {
			return err
		}
		e.log.Info("zero signatures and no collateral; nonce released", "block_id", memo.BlockID, "nonce", memo.ReservedNonce)
		return nil
	}

	var attendance model.AttendanceBitmap
	sigs := make([]model.BLSSignature, 0, len(bySlot))
	for slot, sig := range bySlot {
		attendance = attendance.Set(slot)
		sigs = append(sigs, sig)
	}
	aggregated, err := bls.Aggregate(sigs)
	if err != nil {
		return errs.Inconsistentf("finalize_aggregate", err)
	}

	task := &model.BlockPostTask{
		BlockID:             memo.BlockID,
		BlockType:           memo.BlockType(),
		Nonce:               memo.ReservedNonce,
		TxTreeRoot:          memo.TxTreeRoot,
		BlockSignPayload:    memo.BlockSignPayload,
		PubkeyHash:          memo.PubkeyHash,
		SortedPubkeys:       memo.SortedPubkeys,
		AggregatedSignature: aggregated,
		Attendance:          attendance,
		IsEmpty:             false,
		Priority:            model.PriorityHigh,
		EnqueuedAt:          time.Now(),
	}
	if memo.BlockType() == model.NonRegistration {
		for _, r := range memo.TxRequests {
			if r.Request.AccountID != nil {
				task.AccountIDs = append(task.AccountIDs, *r.Request.AccountID)
			}
		}
	}
	data, err := task.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.store.RPush(ctx, e.keys.PostTasksHi(), 0, string(data)); err != nil {
		return errs.Transientf("finalize_enqueue_task", err)
	}

	if e.fees != nil {
		if err := e.fees.Enqueue(ctx, memo, attendance); err != nil {
			e.log.Error("fee scheduling failed", "block_id", memo.BlockID, "err", err)
		}
	}

	e.log.Info("block finalized", "block_id", memo.BlockID, "nonce", memo.ReservedNonce, "signers", len(bySlot))
	return nil
}
