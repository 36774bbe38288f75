// Package posting implements the block posting scheduler (spec.md §4.6):
// two priority consumers that submit finished BlockPostTasks to the L2
// rollup contract in nonce order, plus the optional deposit watcher that
// keeps non-registration deposits flowing even with no pending user txs.
package posting

import (
	"context"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/merkletree"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

// MaxAttempts bounds the retryable-failure backoff loop of spec.md §4.6
// step 5 before a task is moved to the dead letter list.
const MaxAttempts = 5

const emptyBlockLockTTL = 10 * time.Second

// maxNonceAheadStalls bounds how many times RunHi will requeue a
// not-yet-due task before forcing a chain resync, spec.md §4.6 "on
// repeated stalls, invoke sync_with_chain".
const maxNonceAheadStalls = 20

const nonceAheadBackoff = 50 * time.Millisecond

// FeeFinalizer is called once a task that carries fee-collection entries
// posts successfully, so internal/feecollection can mark them collected.
// Left nil when fee collection is disabled.
type FeeFinalizer interface {
	Finalize(ctx context.Context, task *model.BlockPostTask) error
}

type Scheduler struct {
	store            kv.Store
	keys             kv.Keys
	chain            chain.Contract
	nonces           *nonce.Manager
	locks            *lock.Manager
	validity         validity.Client
	nonceWaitingTime time.Duration
	fees             FeeFinalizer
	metrics          *metrics.Registry
	nonceAheadStalls int
	log              logging.Logger
}

func New(store kv.Store, keys kv.Keys, chainContract chain.Contract, nonces *nonce.Manager, locks *lock.Manager, v validity.Client, nonceWaitingTime time.Duration) *Scheduler {
	return &Scheduler{
		store:            store,
		keys:             keys,
		chain:            chainContract,
		nonces:           nonces,
		locks:            locks,
		validity:         v,
		nonceWaitingTime: nonceWaitingTime,
		log:              logging.New("component", "posting"),
	}
}

func (s *Scheduler) WithFeeFinalizer(f FeeFinalizer) *Scheduler { s.fees = f; return s }

// WithMetrics attaches a metrics registry; left unset, metric recording is
// a no-op (e.g. in tests that construct a Scheduler directly).
func (s *Scheduler) WithMetrics(reg *metrics.Registry) *Scheduler {
	s.metrics = reg
	return s
}

// RunHi implements the high-priority consumer of spec.md §4.6: it never
// pops a task whose nonce is ahead of the domain's smallest outstanding
// reservation without first waiting NONCE_WAITING_TIME for the gap to
// close, preventing nonce-order violations on chain.
func (s *Scheduler) RunHi(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := s.store.LRange(ctx, s.keys.PostTasksHi(), 0, 0)
		if err != nil {
			s.log.Error("hi queue peek failed", "err", err)
			sleep(ctx, time.Second)
			continue
		}
		if len(raw) == 0 {
			sleep(ctx, 200*time.Millisecond)
			continue
		}
		var task model.BlockPostTask
		if err := task.UnmarshalBinary([]byte(raw[0])); err != nil {
			s.log.Error("dropping corrupt hi task", "err", err)
			_, _ = s.store.LPopN(ctx, s.keys.PostTasksHi(), 1)
			continue
		}

		minN, ok, err := s.nonces.SmallestReserved(ctx, task.BlockType)
		if err != nil {
			s.log.Error("smallest reserved lookup failed", "err", err)
			sleep(ctx, time.Second)
			continue
		}
		if !ok || task.Nonce != minN {
			s.waitForNonce(ctx, task.BlockType, task.Nonce)
		}

		popped, err := s.store.LPopN(ctx, s.keys.PostTasksHi(), 1)
		if err != nil || len(popped) == 0 {
			continue
		}
		var head model.BlockPostTask
		if err := head.UnmarshalBinary([]byte(popped[0])); err != nil {
			s.log.Error("dropping corrupt popped hi task", "err", err)
			continue
		}
		s.submit(ctx, &head)
	}
}

// waitForNonce blocks up to s.nonceWaitingTime for min(reserved nonce) to
// reach target, returning early if it does.
func (s *Scheduler) waitForNonce(ctx context.Context, t model.BlockType, target uint64) {
	deadline := time.Now().Add(s.nonceWaitingTime)
	for time.Now().Before(deadline) {
		minN, ok, err := s.nonces.SmallestReserved(ctx, t)
		if err == nil && ok && minN == target {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// RunLo implements the low-priority FIFO consumer.
func (s *Scheduler) RunLo(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		raw, err := s.store.BLPop(ctx, 30*time.Second, s.keys.PostTasksLo())
		if err == kv.ErrNotFound {
			continue
		}
		if err != nil {
			s.log.Error("lo queue pop failed", "err", err)
			sleep(ctx, time.Second)
			continue
		}
		var task model.BlockPostTask
		if err := task.UnmarshalBinary([]byte(raw)); err != nil {
			s.log.Error("dropping corrupt lo task", "err", err)
			continue
		}
		s.submit(ctx, &task)
	}
}

// submit implements spec.md §4.6 "Submit logic".
func (s *Scheduler) submit(ctx context.Context, task *model.BlockPostTask) {
	onChain, err := s.chain.CurrentNonce(ctx, task.BlockType)
	if err != nil {
		s.log.Error("current nonce read failed; requeuing", "block_id", task.BlockID, "err", err)
		s.requeue(ctx, task)
		return
	}
	if task.Nonce < onChain {
		s.log.Info("discarding already-posted task", "block_id", task.BlockID, "nonce", task.Nonce, "on_chain", onChain)
		if err := s.nonces.Release(ctx, task.BlockType, task.Nonce); err != nil {
			s.log.Error("nonce release failed for discarded task", "block_id", task.BlockID, "err", err)
		}
		return
	}
	if task.Nonce > onChain {
		s.nonceAheadStalls++
		if s.nonceAheadStalls >= maxNonceAheadStalls {
			s.nonceAheadStalls = 0
			if serr := s.nonces.SyncWithChain(ctx, task.BlockType); serr != nil {
				s.log.Error("nonce resync after repeated stalls failed", "block_id", task.BlockID, "err", serr)
			}
		}
		sleep(ctx, nonceAheadBackoff)
		s.requeue(ctx, task)
		return
	}
	s.nonceAheadStalls = 0

	result, err := chain.Submit(ctx, s.chain, task)
	if s.metrics != nil {
		s.metrics.PostOutcomesTotal.WithLabelValues(task.BlockType.String(), outcomeLabel(result)).Inc()
	}
	switch result {
	case chain.Accepted:
		if err := s.nonces.Release(ctx, task.BlockType, task.Nonce); err != nil {
			s.log.Error("nonce release failed after acceptance", "block_id", task.BlockID, "err", err)
		}
		if s.fees != nil {
			if ferr := s.fees.Finalize(ctx, task); ferr != nil {
				s.log.Error("fee finalization failed", "block_id", task.BlockID, "err", ferr)
			}
		}
		s.log.Info("block posted", "block_id", task.BlockID, "nonce", task.Nonce, "domain", task.BlockType)
	case chain.NonceMismatch:
		if serr := s.nonces.SyncWithChain(ctx, task.BlockType); serr != nil {
			s.log.Error("nonce resync after mismatch failed", "block_id", task.BlockID, "err", serr)
		}
		s.requeue(ctx, task)
	case chain.InsufficientGas, chain.TxTimeout:
		s.retryOrDeadLetter(ctx, task, err)
	default: // PermanentFailure or an unclassified contract error
		s.log.Error("permanent submission failure; dropping task", "block_id", task.BlockID, "err", err)
		s.deadLetter(ctx, task)
	}
}

func outcomeLabel(r chain.SubmitResult) string {
	switch r {
	case chain.Accepted:
		return "accepted"
	case chain.NonceMismatch:
		return "nonce_mismatch"
	case chain.InsufficientGas:
		return "insufficient_gas"
	case chain.TxTimeout:
		return "tx_timeout"
	default:
		return "permanent_failure"
	}
}

func (s *Scheduler) retryOrDeadLetter(ctx context.Context, task *model.BlockPostTask, cause error) {
	task.Attempts++
	if task.Attempts >= MaxAttempts {
		s.log.Error("task exhausted retry attempts; dead-lettering", "block_id", task.BlockID, "attempts", task.Attempts, "err", cause)
		s.deadLetter(ctx, task)
		return
	}
	backoff := time.Duration(1<<uint(task.Attempts)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	s.log.Info("retryable submission failure; backing off", "block_id", task.BlockID, "attempt", task.Attempts, "backoff", backoff, "err", cause)
	sleep(ctx, backoff)
	s.requeue(ctx, task)
}

func (s *Scheduler) requeue(ctx context.Context, task *model.BlockPostTask) {
	data, err := task.MarshalBinary()
	if err != nil {
		s.log.Error("failed to marshal task for requeue; dropping", "block_id", task.BlockID, "err", err)
		return
	}
	key := s.keys.PostTasksLo()
	if task.Priority == model.PriorityHigh {
		key = s.keys.PostTasksHi()
	}
	if err := s.store.LPushFront(ctx, key, 0, string(data)); err != nil {
		s.log.Error("failed to requeue task", "block_id", task.BlockID, "err", err)
	}
}

func (s *Scheduler) deadLetter(ctx context.Context, task *model.BlockPostTask) {
	data, err := task.MarshalBinary()
	if err != nil {
		s.log.Error("failed to marshal task for dead letter", "block_id", task.BlockID, "err", err)
		return
	}
	if err := s.store.RPush(ctx, s.keys.DeadLetter(), 0, string(data)); err != nil {
		s.log.Error("failed to append to dead letter list", "block_id", task.BlockID, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// RunDepositWatcher implements spec.md §4.6 "Deposit watcher".
func (s *Scheduler) RunDepositWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkDeposits(ctx, interval); err != nil {
				s.log.Error("deposit watcher tick failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) checkDeposits(ctx context.Context, interval time.Duration) error {
	guard, err := s.locks.TryAcquire(ctx, "enqueue_empty_block", emptyBlockLockTTL)
	if err == lock.ErrBusy {
		return nil
	}
	if err != nil {
		return err
	}
	defer s.locks.Release(ctx, guard)

	pending, err := s.validity.PendingDeposits(ctx)
	if err != nil || !pending {
		return err
	}
	hiLen, err := s.store.LLen(ctx, s.keys.PostTasksHi())
	if err != nil {
		return errs.Transientf("deposit_watcher_hi_len", err)
	}
	if hiLen > 0 {
		return nil
	}

	lastStr, err := s.store.Get(ctx, s.keys.EmptyBlockPostedAt())
	if err == nil {
		last, perr := time.Parse(time.RFC3339Nano, lastStr)
		if perr == nil && time.Since(last) < interval {
			return nil
		}
	} else if err != kv.ErrNotFound {
		return errs.Transientf("deposit_watcher_last_posted", err)
	}

	n, err := s.nonces.Reserve(ctx, model.NonRegistration)
	if err != nil {
		return err
	}
	sortedPubkeys := model.SortDescendingPadded(nil)
	var empty [model.NumSendersInBlock][]byte
	txTreeRoot := merkletree.Build(empty).Root()
	pubkeyConcat := make([]byte, 0, model.NumSendersInBlock*32)
	for _, pk := range sortedPubkeys {
		pubkeyConcat = append(pubkeyConcat, pk.Bytes()...)
	}

	task := &model.BlockPostTask{
		BlockID:       model.NewBlockID(),
		BlockType:     model.NonRegistration,
		Nonce:         n,
		TxTreeRoot:    txTreeRoot,
		PubkeyHash:    model.HashBytes(pubkeyConcat),
		SortedPubkeys: sortedPubkeys,
		IsEmpty:       true,
		Priority:      model.PriorityLow,
		EnqueuedAt:    time.Now(),
	}
	data, err := task.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.store.RPush(ctx, s.keys.PostTasksLo(), 0, string(data)); err != nil {
		return errs.Transientf("deposit_watcher_enqueue", err)
	}
	if err := s.store.Set(ctx, s.keys.EmptyBlockPostedAt(), time.Now().UTC().Format(time.RFC3339Nano), 0); err != nil {
		return errs.Transientf("deposit_watcher_mark_posted", err)
	}
	s.log.Info("empty block enqueued to absorb pending deposits", "block_id", task.BlockID, "nonce", n)
	return nil
}
