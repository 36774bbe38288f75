package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

func store_keys() kv.Keys { return kv.NewKeys("test") }

func pubkeyFromByte(b byte) model.PublicKey {
	var p model.PublicKey
	p[31] = b
	p[0] = 0xAA
	return p
}

func newTestIntake() (*Intake, *validity.Fake, *storevault.Fake) {
	store := kvtest.New()
	keys := store_keys()
	v := validity.NewFake()
	sv := storevault.NewFake()
	return New(store, keys, v, sv), v, sv
}

func TestSubmit_RegistrationBlock_UnknownSenderAccepted(t *testing.T) {
	in, _, _ := newTestIntake()
	ctx := context.Background()

	id, err := in.Submit(ctx, Input{
		SenderPubkey: pubkeyFromByte(1),
		BlockType:    model.Registration,
		TxBody:       []byte("tx"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, model.RequestID{}, id)
}

func TestSubmit_RegistrationBlock_AlreadyKnownSenderRejected(t *testing.T) {
	in, v, _ := newTestIntake()
	ctx := context.Background()
	pk := pubkeyFromByte(2)
	v.Register(pk, 7)

	_, err := in.Submit(ctx, Input{SenderPubkey: pk, BlockType: model.Registration, TxBody: []byte("tx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_sender")
}

func TestSubmit_NonRegistrationBlock_UnknownSenderRejected(t *testing.T) {
	in, _, _ := newTestIntake()
	ctx := context.Background()

	_, err := in.Submit(ctx, Input{SenderPubkey: pubkeyFromByte(3), BlockType: model.NonRegistration, TxBody: []byte("tx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_sender")
}

func TestSubmit_NonRegistrationBlock_KnownSenderResolvesAccountID(t *testing.T) {
	in, v, _ := newTestIntake()
	ctx := context.Background()
	pk := pubkeyFromByte(4)
	v.Register(pk, 42)

	id, err := in.Submit(ctx, Input{SenderPubkey: pk, BlockType: model.NonRegistration, TxBody: []byte("tx")})
	require.NoError(t, err)
	assert.NotEqual(t, model.RequestID{}, id)
}

func TestSubmit_InvalidFeeProofRejected(t *testing.T) {
	in, _, sv := newTestIntake()
	sv.AlwaysFail = true
	ctx := context.Background()

	_, err := in.Submit(ctx, Input{
		SenderPubkey: pubkeyFromByte(5),
		BlockType:    model.Registration,
		TxBody:       []byte("tx"),
		FeeProof:     []byte("proof"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_payment_invalid")
}

func TestSubmit_Backpressure(t *testing.T) {
	store := kvtest.New()
	keys := store_keys()
	v := validity.NewFake()
	sv := storevault.NewFake()
	in := New(store, keys, v, sv)
	ctx := context.Background()

	for i := 0; i < MaxQueuePerDomain*model.NumSendersInBlock; i++ {
		_, err := in.Submit(ctx, Input{SenderPubkey: pubkeyFromByte(byte(i % 250)), BlockType: model.Registration, TxBody: []byte("tx")})
		require.NoError(t, err)
	}

	_, err := in.Submit(ctx, Input{SenderPubkey: pubkeyFromByte(200), BlockType: model.Registration, TxBody: []byte("tx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backpressure")
}
