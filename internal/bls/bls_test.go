package bls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

func mustKey(t *testing.T) *PrivateKey {
	t.Helper()
	k, err := GenerateKey()
	require.NoError(t, err)
	return k
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	k := mustKey(t)
	payload := model.HashBytes([]byte("block sign payload"))
	sig := k.Sign(payload)

	ok, err := Verify(k.PublicKey(), payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsWrongPayload(t *testing.T) {
	k := mustKey(t)
	sig := k.Sign(model.HashBytes([]byte("payload A")))

	ok, err := Verify(k.PublicKey(), model.HashBytes([]byte("payload B")), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	k1 := mustKey(t)
	k2 := mustKey(t)
	payload := model.HashBytes([]byte("payload"))
	sig := k1.Sign(payload)

	ok, err := Verify(k2.PublicKey(), payload, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Invariant 5 from spec.md §8 at the aggregate level: an aggregated
// signature over a set of signers verifies against each individual pubkey
// only when checked member-wise before aggregation; aggregation itself
// must at least round-trip for a single signer.
func TestAggregate_SingleSignerRoundTrips(t *testing.T) {
	k := mustKey(t)
	payload := model.HashBytes([]byte("payload"))
	sig := k.Sign(payload)

	agg, err := Aggregate([]model.BLSSignature{sig})
	require.NoError(t, err)
	assert.Equal(t, sig, agg)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	k1, k2 := mustKey(t), mustKey(t)
	payload := model.HashBytes([]byte("payload"))
	s1 := k1.Sign(payload)
	s2 := k2.Sign(payload)

	aggAB, err := Aggregate([]model.BLSSignature{s1, s2})
	require.NoError(t, err)
	aggBA, err := Aggregate([]model.BLSSignature{s2, s1})
	require.NoError(t, err)
	assert.Equal(t, aggAB, aggBA)
}
