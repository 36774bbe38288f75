// Package feecollection is the DOMAIN fee-collection loop supplementing
// spec.md's "use_fee" flag and §4.5 step 4: it turns a finalized block's
// attending senders into a single fee-paying block of its own, and marks
// their fee entries finalized once that block posts.
//
// Feature-flagged by config.UseFee; a nil or never-run Engine is a no-op.
package feecollection

import (
	"context"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
)

const lockTTL = 10 * time.Second

// FeeTaskTTL bounds how long a queued FeeCollectionTask and its
// BlockID->memo linkage survive before being considered abandoned.
const FeeTaskTTL = 20 * time.Minute

type Engine struct {
	store      kv.Store
	keys       kv.Keys
	locks      *lock.Manager
	nonces     *nonce.Manager
	storevault storevault.Client
	interval   time.Duration
	log        logging.Logger
}

func New(store kv.Store, keys kv.Keys, locks *lock.Manager, nonces *nonce.Manager, sv storevault.Client, interval time.Duration) *Engine {
	return &Engine{store: store, keys: keys, locks: locks, nonces: nonces, storevault: sv, interval: interval, log: logging.New("component", "feecollection")}
}

// Enqueue implements the internal/signature.FeeScheduler interface: called
// once per finalized memo when fee collection is enabled.
func (e *Engine) Enqueue(ctx context.Context, memo *model.ProposalMemo, attendance model.AttendanceBitmap) error {
	task := model.FeeCollectionTask{
		MemoBlockID:   memo.BlockID,
		BlockType:     memo.BlockType(),
		SortedPubkeys: memo.SortedPubkeys,
		Attendance:    attendance,
	}
	data, err := task.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.store.RPush(ctx, e.keys.FeeCollectionTasks(), FeeTaskTTL, string(data)); err != nil {
		return errs.Transientf("fee_collection_enqueue", err)
	}
	return nil
}

// Run drains queued FeeCollectionTasks on a fixed tick until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ProcessOnce(ctx); err != nil {
				e.log.Error("fee collection tick failed", "err", err)
			}
		}
	}
}

// ProcessOnce implements the feecollection loop body under the shared
// process_fee_collection lock: drain pending tasks, record a fee entry
// for each attending sender with the Store Vault, and enqueue one
// low-priority non-registration block per task whose sender list is the
// attending senders.
func (e *Engine) ProcessOnce(ctx context.Context) error {
	guard, err := e.locks.TryAcquire(ctx, "process_fee_collection", lockTTL)
	if err == lock.ErrBusy {
		return nil
	}
	if err != nil {
		return err
	}
	defer e.locks.Release(ctx, guard)

	raw, err := e.store.LPopN(ctx, e.keys.FeeCollectionTasks(), 64)
	if err != nil {
		return errs.Transientf("fee_collection_drain", err)
	}
	for _, r := range raw {
		var task model.FeeCollectionTask
		if err := task.UnmarshalBinary([]byte(r)); err != nil {
			e.log.Error("dropping corrupt fee collection task", "err", err)
			continue
		}
		if err := e.process(ctx, &task); err != nil {
			e.log.Error("fee collection task failed", "memo_block_id", task.MemoBlockID, "err", err)
		}
	}
	return nil
}

func (e *Engine) process(ctx context.Context, task *model.FeeCollectionTask) error {
	attending := make([]model.PublicKey, 0, task.Attendance.Count())
	for i, pk := range task.SortedPubkeys {
		if task.Attendance.Has(i) && !pk.IsDummy() {
			attending = append(attending, pk)
		}
	}
	if len(attending) == 0 {
		return nil
	}

	for _, pk := range attending {
		if err := e.storevault.RecordFee(ctx, task.MemoBlockID, pk); err != nil {
			return err
		}
	}

	n, err := e.nonces.Reserve(ctx, model.NonRegistration)
	if err != nil {
		return err
	}
	feeBlock := &model.BlockPostTask{
		BlockID:       model.NewBlockID(),
		BlockType:     model.NonRegistration,
		Nonce:         n,
		SortedPubkeys: model.SortDescendingPadded(attending),
		IsEmpty:       false,
		Priority:      model.PriorityLow,
		EnqueuedAt:    time.Now(),
	}
	data, err := feeBlock.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, e.keys.FeeTask(feeBlock.BlockID.String()), task.MemoBlockID.String(), FeeTaskTTL); err != nil {
		return errs.Transientf("fee_collection_link", err)
	}
	if err := e.store.RPush(ctx, e.keys.PostTasksLo(), 0, string(data)); err != nil {
		return errs.Transientf("fee_collection_enqueue_block", err)
	}
	e.log.Info("fee collection block enqueued", "memo_block_id", task.MemoBlockID, "fee_block_id", feeBlock.BlockID, "attendees", len(attending))
	return nil
}

// Finalize implements internal/posting.FeeFinalizer: once a fee-collection
// block itself posts, mark its underlying fee entries as collected
// (closing spec.md §8 invariant 6).
func (e *Engine) Finalize(ctx context.Context, task *model.BlockPostTask) error {
	memoBlockIDStr, err := e.store.Get(ctx, e.keys.FeeTask(task.BlockID.String()))
	if err == kv.ErrNotFound {
		return nil // not a fee-collection block
	}
	if err != nil {
		return errs.Transientf("fee_collection_finalize_lookup", err)
	}
	memoBlockID, err := model.ParseBlockID(memoBlockIDStr)
	if err != nil {
		return errs.Inconsistentf("fee_collection_finalize_corrupt_link", err)
	}

	// task.SortedPubkeys was built by SortDescendingPadded(attending) in
	// process(), so every non-dummy slot here is exactly one attending
	// sender from the originating memo.
	for _, pk := range task.SortedPubkeys {
		if pk.IsDummy() {
			continue
		}
		if err := e.storevault.FinalizeFee(ctx, memoBlockID, pk); err != nil {
			e.log.Error("fee finalization failed for pubkey", "pubkey", pk.Hex(), "err", err)
		}
	}
	_ = e.store.Del(ctx, e.keys.FeeTask(task.BlockID.String()))
	return nil
}
