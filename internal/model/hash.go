package model

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func hexToHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return h, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes hashes arbitrary data with Keccak-256, the teacher's standard
// digest for on-chain-visible commitments.
func HashBytes(parts ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		d.Write(p)
	}
	var out Hash
	copy(out[:], d.Sum(nil))
	return out
}
