package signature

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/bls"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain/chaintest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
)

func newTestEngine(t *testing.T, interval time.Duration) (*Engine, kv.Store, kv.Keys) {
	t.Helper()
	store := kvtest.New()
	keys := kv.NewKeys("test")
	locks := lock.New(store, "builder-1")
	nonces := nonce.New(store, locks, chaintest.New())
	return New(store, keys, locks, nonces, interval), store, keys
}

func seedMemo(t *testing.T, store kv.Store, keys kv.Keys, signer model.PublicKey) *model.ProposalMemo {
	t.Helper()
	sorted := model.SortDescendingPadded([]model.PublicKey{signer})
	req := model.QueuedRequest{
		Request:     model.TxRequest{SenderPubkey: signer, BlockType: model.Registration, TxBody: []byte("tx")},
		RequestID:   model.NewRequestID(),
		SubmittedAt: time.Now(),
	}
	memo := &model.ProposalMemo{
		BlockID:             model.NewBlockID(),
		CreatedAt:           time.Now().Add(-time.Hour),
		IsRegistrationBlock: true,
		ReservedNonce:       1,
		SortedPubkeys:       sorted,
		PubkeyHash:          model.HashBytes(signer.Bytes()),
		TxRequests:          []model.QueuedRequest{req},
		Proposals:           []model.MerkleProof{{Index: 0}},
		TxTreeRoot:          model.Hash{0xAB},
		BlockSignPayload:    model.HashBytes([]byte("payload")),
	}
	data, err := memo.MarshalBinary()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, keys.Memo(memo.BlockID.String()), string(data), 20*time.Minute))
	require.NoError(t, store.Set(ctx, keys.RequestBlock(req.RequestID.String()), memo.BlockID.String(), 20*time.Minute))
	return memo
}

func TestPostSignature_ValidSignatureAccepted(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Hour)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	memo := seedMemo(t, store, keys, pub)
	sig := priv.Sign(memo.BlockSignPayload)

	err = eng.PostSignature(context.Background(), memo.TxRequests[0].RequestID, pub, sig)
	require.NoError(t, err)

	raw, err := store.LPopN(context.Background(), keys.Signatures(memo.BlockID.String()), 10)
	require.NoError(t, err)
	require.Len(t, raw, 1)
}

func TestPostSignature_WrongPubkeyRejected(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Hour)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	other, err := bls.GenerateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	memo := seedMemo(t, store, keys, pub)
	sig := other.Sign(memo.BlockSignPayload)

	err = eng.PostSignature(context.Background(), memo.TxRequests[0].RequestID, pub, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_signature")
}

func TestPostSignature_NonMemberPubkeyRejected(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Hour)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	memo := seedMemo(t, store, keys, priv.PublicKey())

	outsider, err := bls.GenerateKey()
	require.NoError(t, err)
	outsiderPub := outsider.PublicKey()
	sig := outsider.Sign(memo.BlockSignPayload)

	err = eng.PostSignature(context.Background(), memo.TxRequests[0].RequestID, outsiderPub, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_sender")
}

func TestPostSignature_UnknownRequestRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t, time.Hour)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	err = eng.PostSignature(context.Background(), model.NewRequestID(), priv.PublicKey(), model.BLSSignature{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_request")
}

func TestProcessOnce_AggregatesAndEnqueuesHiTask(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Millisecond)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	memo := seedMemo(t, store, keys, pub)
	sig := priv.Sign(memo.BlockSignPayload)
	require.NoError(t, eng.PostSignature(context.Background(), memo.TxRequests[0].RequestID, pub, sig))

	require.NoError(t, eng.ProcessOnce(context.Background(), memo.BlockID))

	raw, err := store.LPopN(context.Background(), keys.PostTasksHi(), 10)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var task model.BlockPostTask
	require.NoError(t, task.UnmarshalBinary([]byte(raw[0])))
	assert.Equal(t, memo.BlockID, task.BlockID)
	assert.Equal(t, 1, task.Attendance.Count())

	_, err = store.Get(context.Background(), keys.Memo(memo.BlockID.String()))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestProcessOnce_ZeroSignaturesReleasesNonce(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Millisecond)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	memo := seedMemo(t, store, keys, priv.PublicKey())

	require.NoError(t, eng.ProcessOnce(context.Background(), memo.BlockID))

	n, ok, err := eng.nonces.SmallestReserved(context.Background(), model.Registration)
	require.NoError(t, err)
	assert.False(t, ok, "expected nonce %d to have been released", n)
}

func TestProcessOnce_RecordsSignersPerBlockMetric(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Millisecond)
	reg := metrics.NewRegistry()
	eng.WithMetrics(reg)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	memo := seedMemo(t, store, keys, pub)
	sig := priv.Sign(memo.BlockSignPayload)
	require.NoError(t, eng.PostSignature(context.Background(), memo.TxRequests[0].RequestID, pub, sig))

	require.NoError(t, eng.ProcessOnce(context.Background(), memo.BlockID))

	assert.Equal(t, 1, testutil.CollectAndCount(reg.SignersPerBlock), "histogram should have observed exactly one block")
}

func TestProcessOnce_NotYetDueIsNoOp(t *testing.T) {
	eng, store, keys := newTestEngine(t, time.Hour)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	sorted := model.SortDescendingPadded([]model.PublicKey{priv.PublicKey()})
	memo := &model.ProposalMemo{
		BlockID:          model.NewBlockID(),
		CreatedAt:        time.Now(),
		SortedPubkeys:    sorted,
		BlockSignPayload: model.HashBytes([]byte("payload")),
	}
	data, err := memo.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), keys.Memo(memo.BlockID.String()), string(data), 20*time.Minute))

	require.NoError(t, eng.ProcessOnce(context.Background(), memo.BlockID))

	_, err = store.Get(context.Background(), keys.Memo(memo.BlockID.String()))
	require.NoError(t, err, "memo should not have been consumed yet")
}
