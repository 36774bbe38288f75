package config

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/sha3"
)

// deriveAddress recovers the builder's Ethereum address from its
// hex-encoded secp256k1 private key, the same pubkey->address derivation
// go-ethereum's crypto.PubkeyToAddress applies: Keccak-256 over the
// uncompressed public key's X||Y coordinates, low 20 bytes, EIP-55
// checksummed.
func deriveAddress(privateKeyHex string) (string, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", errAddr("block builder private key is not valid hex")
	}
	if len(keyBytes) != 32 {
		return "", errAddr("block builder private key must be 32 bytes")
	}

	_, pub := btcec.PrivKeyFromBytes(keyBytes)
	pubBytes := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)

	d := sha3.NewLegacyKeccak256()
	d.Write(pubBytes[1:])
	digest := d.Sum(nil)
	return toChecksumAddress(digest[len(digest)-20:]), nil
}

// toChecksumAddress applies EIP-55 mixed-case checksumming: each hex
// digit of the address is upper-cased when the corresponding nibble of
// Keccak256(lowercase hex) is >= 8.
func toChecksumAddress(addr []byte) string {
	lower := hex.EncodeToString(addr)
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(lower))
	hash := d.Sum(nil)

	out := make([]byte, len(lower))
	for i := range lower {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			var nibble byte
			if i%2 == 0 {
				nibble = hash[i/2] >> 4
			} else {
				nibble = hash[i/2] & 0x0f
			}
			if nibble >= 8 {
				c -= 'a' - 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}

type errAddr string

func (e errAddr) Error() string { return string(e) }
