// Package bls implements BLS signing, verification and aggregation on
// BN254 via github.com/consensys/gnark-crypto, as used by the pairing
// primitives elsewhere in the example pack's BN256/BN254 tooling
// (crypto/bn256/gnark). Public keys live in G1 (32-byte compressed,
// matching model.PublicKey); signatures live in G2 (64-byte compressed,
// matching model.BLSSignature). Aggregation is the curve-agnostic
// group-wise addition spec.md §9 describes: concrete arithmetic is BN254,
// the aggregate()/verify() call shape is not tied to it.
package bls

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// PrivateKey is a BN254 scalar. Key management is out of scope for the
// block-builder core (spec.md §1 Non-goals); this type exists only so
// tests can construct valid signatures without an external signer.
type PrivateKey struct {
	s fr.Element
}

func GenerateKey() (*PrivateKey, error) {
	var s fr.Element
	if _, err := s.SetRandom(); err != nil {
		return nil, err
	}
	return &PrivateKey{s: s}, nil
}

func (k *PrivateKey) PublicKey() model.PublicKey {
	_, _, g1Gen, _ := bn254.Generators()
	var pub bn254.G1Affine
	pub.ScalarMultiplication(&g1Gen, k.s.BigInt(new(big.Int)))
	b := pub.Bytes()
	var out model.PublicKey
	copy(out[:], b[:])
	return out
}

// Sign produces a signature over payload: hash payload onto G2, then scale
// by the private key.
func (k *PrivateKey) Sign(payload model.Hash) model.BLSSignature {
	h := hashToG2(payload)
	var sig bn254.G2Affine
	sig.ScalarMultiplication(&h, k.s.BigInt(new(big.Int)))
	b := sig.Bytes()
	var out model.BLSSignature
	copy(out[:], b[:])
	return out
}

// hashToG2 maps a payload to a point on G2. This is a simplified
// hash-then-multiply construction (hash to a scalar, multiply the G2
// generator), not a constant-time RFC 9380 hash-to-curve suite — adequate
// for the builder's own signing domain but called out explicitly as a
// simplification rather than production crypto.
func hashToG2(payload model.Hash) bn254.G2Affine {
	_, _, _, g2Gen := bn254.Generators()
	var scalar fr.Element
	scalar.SetBytes(payload.Bytes())
	var p bn254.G2Affine
	p.ScalarMultiplication(&g2Gen, scalar.BigInt(new(big.Int)))
	return p
}

// Verify checks that sig is a valid signature over payload under pubkey.
func Verify(pubkey model.PublicKey, payload model.Hash, sig model.BLSSignature) (bool, error) {
	var pubAff bn254.G1Affine
	if _, err := pubAff.SetBytes(pubkey.Bytes()); err != nil {
		return false, fmt.Errorf("bls: malformed pubkey: %w", err)
	}
	var sigAff bn254.G2Affine
	if _, err := sigAff.SetBytes(sig.Bytes()); err != nil {
		return false, fmt.Errorf("bls: malformed signature: %w", err)
	}
	h := hashToG2(payload)

	_, _, g1Gen, _ := bn254.Generators()
	var negG1 bn254.G1Affine
	negG1.Neg(&g1Gen)

	// e(pubkey, H(payload)) == e(G1gen, sig)  <=>  e(-G1gen, sig) *
	// e(pubkey, H(payload)) == 1
	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negG1, pubAff},
		[]bn254.G2Affine{sigAff, h},
	)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Aggregate sums signatures group-wise in G2. Order-independent.
func Aggregate(sigs []model.BLSSignature) (model.BLSSignature, error) {
	var acc bn254.G2Jac
	for _, s := range sigs {
		var aff bn254.G2Affine
		if _, err := aff.SetBytes(s.Bytes()); err != nil {
			return model.BLSSignature{}, fmt.Errorf("bls: malformed signature in aggregate: %w", err)
		}
		var jac bn254.G2Jac
		jac.FromAffine(&aff)
		acc.AddAssign(&jac)
	}
	var resAff bn254.G2Affine
	resAff.FromJacobian(&acc)
	b := resAff.Bytes()
	var out model.BLSSignature
	copy(out[:], b[:])
	return out, nil
}
