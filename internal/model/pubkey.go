package model

import (
	"bytes"
	"encoding/hex"
	"sort"
	"strings"
)

// NumSendersInBlock is the fixed width of every block: 32 transaction slots.
const NumSendersInBlock = 32

// PublicKey is a 256-bit sender public key, compared as a big-endian
// unsigned integer. DummyPubkey is the sentinel used to pad a batch out to
// NumSendersInBlock entries.
type PublicKey [32]byte

var DummyPubkey = PublicKey{31: 1}

func (p PublicKey) Bytes() []byte { return p[:] }

func (p PublicKey) Hex() string { return "0x" + hex.EncodeToString(p[:]) }

func (p PublicKey) IsDummy() bool { return p == DummyPubkey }

// Cmp returns >0 if p > q, <0 if p < q, 0 if equal, treating both as
// big-endian unsigned integers.
func (p PublicKey) Cmp(q PublicKey) int {
	return bytes.Compare(p[:], q[:])
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var p PublicKey
	if len(b) != len(p) {
		return p, ErrMalformedPubkey
	}
	copy(p[:], b)
	return p, nil
}

// PublicKeyFromHex parses a "0x"-prefixed hex-encoded pubkey, as received
// over the HTTP API.
func PublicKeyFromHex(s string) (PublicKey, error) { return hexToPubkey(s) }

func hexToPubkey(s string) (PublicKey, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromBytes(b)
}

// SortDescendingPadded sorts the given distinct pubkeys in strict descending
// order and pads the result to NumSendersInBlock with DummyPubkey. The
// caller guarantees pubkeys are already deduplicated and len(pubkeys) <=
// NumSendersInBlock.
func SortDescendingPadded(pubkeys []PublicKey) [NumSendersInBlock]PublicKey {
	sorted := make([]PublicKey, len(pubkeys))
	copy(sorted, pubkeys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) > 0 })

	var out [NumSendersInBlock]PublicKey
	for i := range out {
		if i < len(sorted) {
			out[i] = sorted[i]
		} else {
			out[i] = DummyPubkey
		}
	}
	return out
}
