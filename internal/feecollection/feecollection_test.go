package feecollection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain/chaintest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
)

func newTestEngine(t *testing.T) (*Engine, kv.Store, kv.Keys, *storevault.Fake) {
	t.Helper()
	store := kvtest.New()
	keys := kv.NewKeys("test")
	locks := lock.New(store, "builder-1")
	nonces := nonce.New(store, locks, chaintest.New())
	sv := storevault.NewFake()
	return New(store, keys, locks, nonces, sv, time.Hour), store, keys, sv
}

func pubkeyFromByte(b byte) model.PublicKey {
	var p model.PublicKey
	p[31] = b
	p[0] = 0xAA
	return p
}

func TestEnqueue_PersistsTask(t *testing.T) {
	eng, store, keys, _ := newTestEngine(t)
	memo := &model.ProposalMemo{
		BlockID:       model.NewBlockID(),
		SortedPubkeys: model.SortDescendingPadded([]model.PublicKey{pubkeyFromByte(1)}),
	}
	var attendance model.AttendanceBitmap
	attendance = attendance.Set(0)

	require.NoError(t, eng.Enqueue(context.Background(), memo, attendance))

	n, err := store.LLen(context.Background(), keys.FeeCollectionTasks())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessOnce_RecordsFeesAndEnqueuesBlock(t *testing.T) {
	eng, store, keys, sv := newTestEngine(t)
	ctx := context.Background()
	memoID := model.NewBlockID()
	pk := pubkeyFromByte(7)
	sorted := model.SortDescendingPadded([]model.PublicKey{pk})
	var attendance model.AttendanceBitmap
	attendance = attendance.Set(0)

	memo := &model.ProposalMemo{BlockID: memoID, SortedPubkeys: sorted}
	require.NoError(t, eng.Enqueue(ctx, memo, attendance))

	require.NoError(t, eng.ProcessOnce(ctx))

	assert.True(t, sv.Recorded[memoID.String()+":"+pk.Hex()])

	loLen, err := store.LLen(ctx, keys.PostTasksLo())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loLen)
}

func TestProcessOnce_NoAttendeesIsNoOp(t *testing.T) {
	eng, store, keys, _ := newTestEngine(t)
	ctx := context.Background()
	memo := &model.ProposalMemo{
		BlockID:       model.NewBlockID(),
		SortedPubkeys: model.SortDescendingPadded(nil),
	}
	require.NoError(t, eng.Enqueue(ctx, memo, model.AttendanceBitmap(0)))
	require.NoError(t, eng.ProcessOnce(ctx))

	loLen, err := store.LLen(ctx, keys.PostTasksLo())
	require.NoError(t, err)
	assert.Zero(t, loLen)
}

func TestFinalize_MarksFeeEntriesFinalized(t *testing.T) {
	eng, store, keys, sv := newTestEngine(t)
	ctx := context.Background()
	memoID := model.NewBlockID()
	pk := pubkeyFromByte(3)

	feeBlock := &model.BlockPostTask{
		BlockID:       model.NewBlockID(),
		BlockType:     model.NonRegistration,
		SortedPubkeys: model.SortDescendingPadded([]model.PublicKey{pk}),
	}
	require.NoError(t, store.Set(ctx, keys.FeeTask(feeBlock.BlockID.String()), memoID.String(), time.Hour))

	require.NoError(t, eng.Finalize(ctx, feeBlock))

	assert.True(t, sv.IsFinalized(memoID, pk))
}

func TestFinalize_NonFeeBlockIsNoOp(t *testing.T) {
	eng, _, _, sv := newTestEngine(t)
	task := &model.BlockPostTask{BlockID: model.NewBlockID()}
	require.NoError(t, eng.Finalize(context.Background(), task))
	assert.Empty(t, sv.Finalized)
}
