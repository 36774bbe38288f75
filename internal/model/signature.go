package model

import "encoding/json"

// BLSSignature is a compressed G2 point on BN254.
type BLSSignature [64]byte

func (s BLSSignature) Bytes() []byte { return s[:] }

// BLSSignatureFromHex parses a "0x"-prefixed hex-encoded signature, as
// received over the HTTP API.
func BLSSignatureFromHex(str string) (BLSSignature, error) {
	var s BLSSignature
	b, err := hexDecode(str)
	if err != nil {
		return s, err
	}
	if len(b) != len(s) {
		return s, ErrMalformedSignature
	}
	copy(s[:], b)
	return s, nil
}

// SignatureEntry is one sender's signature over a memo's block-sign
// payload. Stored in list "signatures:{block_id}", TTL 20 minutes.
type SignatureEntry struct {
	BlockID   BlockID
	Pubkey    PublicKey
	Signature BLSSignature
}

type signatureWire struct {
	BlockID   string `json:"block_id"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

func (s *SignatureEntry) MarshalBinary() ([]byte, error) {
	return json.Marshal(signatureWire{
		BlockID:   s.BlockID.String(),
		Pubkey:    s.Pubkey.Hex(),
		Signature: "0x" + hexEncode(s.Signature[:]),
	})
}

func (s *SignatureEntry) UnmarshalBinary(data []byte) error {
	var w signatureWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	blockID, err := ParseBlockID(w.BlockID)
	if err != nil {
		return err
	}
	pk, err := hexToPubkey(w.Pubkey)
	if err != nil {
		return err
	}
	sigBytes, err := hexDecode(w.Signature)
	if err != nil {
		return err
	}
	if len(sigBytes) != len(s.Signature) {
		return ErrMalformedSignature
	}
	s.BlockID = blockID
	s.Pubkey = pk
	copy(s.Signature[:], sigBytes)
	return nil
}
