package proposal

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain/chaintest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/merkletree"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
)

func newTestEngine(interval time.Duration) (*Engine, kv.Store) {
	store := kvtest.New()
	keys := kv.NewKeys("test")
	locks := lock.New(store, "builder-1")
	nonces := nonce.New(store, locks, chaintest.New())
	eng := New(store, keys, locks, nonces, "0xBUILDER", interval)
	return eng, store
}

func pubkeyFromByte(b byte) model.PublicKey {
	var p model.PublicKey
	p[31] = b
	p[0] = 0xAA
	return p
}

func pushRequest(t *testing.T, store kv.Store, blockType model.BlockType, pk model.PublicKey, body string) model.RequestID {
	t.Helper()
	qr := model.QueuedRequest{
		Request:     model.TxRequest{SenderPubkey: pk, BlockType: blockType, TxBody: []byte(body)},
		RequestID:   model.NewRequestID(),
		SubmittedAt: time.Now(),
	}
	data, err := qr.MarshalBinary()
	require.NoError(t, err)
	keys := kv.NewKeys("test")
	require.NoError(t, store.RPush(context.Background(), keys.Queue(blockType.QueueKey()), 20*time.Minute, string(data)))
	return qr.RequestID
}

func TestProcessOnce_FullBatchEmitsImmediately(t *testing.T) {
	eng, store := newTestEngine(time.Hour)
	ctx := context.Background()

	ids := make([]model.RequestID, 0, model.NumSendersInBlock)
	for i := 0; i < model.NumSendersInBlock; i++ {
		ids = append(ids, pushRequest(t, store, model.Registration, pubkeyFromByte(byte(i+1)), "tx"))
	}

	memo, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	require.NotNil(t, memo)
	assert.Len(t, memo.TxRequests, model.NumSendersInBlock)
	assert.True(t, memo.IsRegistrationBlock)
	assert.Equal(t, uint64(1), memo.ReservedNonce)

	for _, id := range ids {
		m, proof, ok, err := eng.Lookup(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, memo.BlockID, m.BlockID)
		leaf := m.TxRequests[m.PositionOf(id)].Request.Encode()
		assert.True(t, merkletree.Verify(m.TxTreeRoot, leaf, proof))
	}
}

func TestProcessOnce_PartialBatchWaitsForInterval(t *testing.T) {
	eng, store := newTestEngine(30 * time.Millisecond)
	ctx := context.Background()
	pushRequest(t, store, model.Registration, pubkeyFromByte(1), "tx")

	// First tick only starts the clock; it must not flush a lone request.
	memo, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	assert.Nil(t, memo)

	time.Sleep(40 * time.Millisecond)

	memo, err = eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	require.NotNil(t, memo)
	assert.Len(t, memo.TxRequests, 1)
}

func TestProcessOnce_EmptyQueueNoOp(t *testing.T) {
	eng, _ := newTestEngine(time.Millisecond)
	memo, err := eng.ProcessOnce(context.Background(), model.Registration)
	require.NoError(t, err)
	assert.Nil(t, memo)
}

func TestProcessOnce_DistinctDomainsIndependentNonces(t *testing.T) {
	eng, store := newTestEngine(time.Millisecond)
	ctx := context.Background()

	pushRequest(t, store, model.Registration, pubkeyFromByte(1), "tx")
	pushRequest(t, store, model.NonRegistration, pubkeyFromByte(2), "tx")
	// the first tick per domain only starts its batching clock
	_, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	_, err = eng.ProcessOnce(ctx, model.NonRegistration)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	regMemo, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	require.NotNil(t, regMemo)

	nonregMemo, err := eng.ProcessOnce(ctx, model.NonRegistration)
	require.NoError(t, err)
	require.NotNil(t, nonregMemo)

	assert.Equal(t, uint64(1), regMemo.ReservedNonce)
	assert.Equal(t, uint64(1), nonregMemo.ReservedNonce)
}

func TestLookup_UnknownRequestReturnsNotOK(t *testing.T) {
	eng, _ := newTestEngine(time.Hour)
	_, _, ok, err := eng.Lookup(context.Background(), model.NewRequestID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessOnce_RecordsQueueDepthMetric(t *testing.T) {
	eng, store := newTestEngine(time.Hour)
	reg := metrics.NewRegistry()
	eng.WithMetrics(reg)
	ctx := context.Background()

	pushRequest(t, store, model.Registration, pubkeyFromByte(1), "tx")
	pushRequest(t, store, model.Registration, pubkeyFromByte(2), "tx")

	_, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(reg.QueueDepth.WithLabelValues("registration", "tx_requests")))
}

func TestProcessOnce_SortedPubkeysDescendingAndPadded(t *testing.T) {
	eng, store := newTestEngine(time.Millisecond)
	ctx := context.Background()

	pushRequest(t, store, model.Registration, pubkeyFromByte(5), "tx")
	pushRequest(t, store, model.Registration, pubkeyFromByte(9), "tx")
	pushRequest(t, store, model.Registration, pubkeyFromByte(1), "tx")
	// the first tick only starts the batching clock
	_, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	memo, err := eng.ProcessOnce(ctx, model.Registration)
	require.NoError(t, err)
	require.NotNil(t, memo)

	assert.Equal(t, pubkeyFromByte(9), memo.SortedPubkeys[0])
	assert.Equal(t, pubkeyFromByte(5), memo.SortedPubkeys[1])
	assert.Equal(t, pubkeyFromByte(1), memo.SortedPubkeys[2])
	for i := 3; i < model.NumSendersInBlock; i++ {
		assert.True(t, memo.SortedPubkeys[i].IsDummy())
	}
}
