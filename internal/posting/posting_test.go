package posting

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain/chaintest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

func newTestScheduler(t *testing.T) (*Scheduler, kv.Store, kv.Keys, *chaintest.Fake, *nonce.Manager) {
	t.Helper()
	store := kvtest.New()
	keys := kv.NewKeys("test")
	locks := lock.New(store, "builder-1")
	fakeChain := chaintest.New()
	nonces := nonce.New(store, locks, fakeChain)
	v := validity.NewFake()
	return New(store, keys, fakeChain, nonces, locks, v, 50*time.Millisecond), store, keys, fakeChain, nonces
}

func makeTask(t *testing.T, n uint64, priority model.TaskPriority) *model.BlockPostTask {
	t.Helper()
	return &model.BlockPostTask{
		BlockID:       model.NewBlockID(),
		BlockType:     model.Registration,
		Nonce:         n,
		SortedPubkeys: model.SortDescendingPadded(nil),
		Priority:      priority,
		EnqueuedAt:    time.Now(),
	}
}

func TestSubmit_AcceptedReleasesNonce(t *testing.T) {
	s, store, keys, _, nonces := newTestScheduler(t)
	ctx := context.Background()
	n, err := nonces.Reserve(ctx, model.Registration)
	require.NoError(t, err)

	task := makeTask(t, n, model.PriorityHigh)
	s.submit(ctx, task)

	_, ok, err := nonces.SmallestReserved(ctx, model.Registration)
	require.NoError(t, err)
	assert.False(t, ok)

	hiLen, err := store.LLen(ctx, keys.PostTasksHi())
	require.NoError(t, err)
	assert.Zero(t, hiLen)
}

func TestSubmit_AheadOfChainRequeues(t *testing.T) {
	s, store, keys, _, _ := newTestScheduler(t)
	ctx := context.Background()
	task := makeTask(t, 5, model.PriorityHigh)

	s.submit(ctx, task)

	raw, err := store.LPopN(ctx, keys.PostTasksHi(), 1)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var requeued model.BlockPostTask
	require.NoError(t, requeued.UnmarshalBinary([]byte(raw[0])))
	assert.Equal(t, uint64(5), requeued.Nonce)
}

func TestSubmit_BehindChainDiscardsAndReleases(t *testing.T) {
	s, _, _, fakeChain, nonces := newTestScheduler(t)
	ctx := context.Background()
	fakeChain.SetNonce(model.Registration, 10)
	n, err := nonces.Reserve(ctx, model.Registration)
	require.NoError(t, err)
	_ = n

	task := makeTask(t, 3, model.PriorityHigh)
	s.submit(ctx, task)

	_, ok, err := nonces.SmallestReserved(ctx, model.Registration)
	require.NoError(t, err)
	assert.True(t, ok, "the unrelated still-pending reservation should remain")
}

func TestSubmit_NonceMismatchRequeuesAndResyncs(t *testing.T) {
	s, store, keys, fakeChain, _ := newTestScheduler(t)
	ctx := context.Background()
	result := chain.NonceMismatch
	fakeChain.NextResult = &result
	task := makeTask(t, 0, model.PriorityHigh)

	s.submit(ctx, task)

	hiLen, err := store.LLen(ctx, keys.PostTasksHi())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hiLen)
}

func TestSubmit_PermanentFailureDeadLetters(t *testing.T) {
	s, store, keys, fakeChain, _ := newTestScheduler(t)
	ctx := context.Background()
	result := chain.PermanentFailure
	fakeChain.NextResult = &result
	task := makeTask(t, 0, model.PriorityHigh)

	s.submit(ctx, task)

	deadLen, err := store.LLen(ctx, keys.DeadLetter())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deadLen)
}

func TestSubmit_RecordsPostOutcomeMetric(t *testing.T) {
	s, _, _, _, nonces := newTestScheduler(t)
	reg := metrics.NewRegistry()
	s.WithMetrics(reg)
	ctx := context.Background()
	n, err := nonces.Reserve(ctx, model.Registration)
	require.NoError(t, err)

	s.submit(ctx, makeTask(t, n, model.PriorityHigh))

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.PostOutcomesTotal.WithLabelValues("registration", "accepted")))
}

func TestSubmit_AheadOfChainStallCounterTriggersResync(t *testing.T) {
	s, _, _, fakeChain, _ := newTestScheduler(t)
	ctx := context.Background()
	fakeChain.SetNonce(model.Registration, 0)
	task := makeTask(t, 5, model.PriorityHigh)

	for i := 0; i < maxNonceAheadStalls; i++ {
		s.submit(ctx, task)
	}

	assert.Equal(t, 0, s.nonceAheadStalls, "stall counter should have reset after forcing a resync")
}

func TestCheckDeposits_EnqueuesEmptyBlockWhenDue(t *testing.T) {
	s, store, keys, _, _ := newTestScheduler(t)
	ctx := context.Background()
	v := s.validity.(*validity.Fake)
	v.Pending = true

	require.NoError(t, s.checkDeposits(ctx, time.Minute))

	loLen, err := store.LLen(ctx, keys.PostTasksLo())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loLen)
}

func TestCheckDeposits_SkipsWhenHiQueueNonEmpty(t *testing.T) {
	s, store, keys, _, _ := newTestScheduler(t)
	ctx := context.Background()
	v := s.validity.(*validity.Fake)
	v.Pending = true
	require.NoError(t, store.RPush(ctx, keys.PostTasksHi(), 0, "x"))

	require.NoError(t, s.checkDeposits(ctx, time.Minute))

	loLen, err := store.LLen(ctx, keys.PostTasksLo())
	require.NoError(t, err)
	assert.Zero(t, loLen)
}
