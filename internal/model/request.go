package model

import (
	"encoding/json"
	"time"
)

// Hash is a 32-byte digest, used for pubkey hashes, tx-tree roots and
// block-sign payloads.
type Hash [32]byte

func (h Hash) Bytes() []byte { return h[:] }

// AccountID is the 40-bit account identifier assigned to a sender once it
// has registered with the rollup. Only meaningful for non-registration
// blocks.
type AccountID uint64

// FeeProof is an opaque proof, validated by the Store Vault, that the
// sender has paid (or escrowed) the builder's posting fee.
type FeeProof []byte

// TxRequest is a user-submitted transaction awaiting batching. Immutable
// once created; destroyed when its enclosing memo expires or is consumed.
type TxRequest struct {
	SenderPubkey   PublicKey
	AccountID      *AccountID // present only for non-registration requests
	BlockType      BlockType
	TxBody         []byte
	FeeProof       FeeProof
}

// Encode produces the canonical leaf encoding of a transaction for the
// tx-tree. Empty slots use EmptyLeaf instead.
func (r *TxRequest) Encode() []byte {
	// tx body is already the canonical wire encoding agreed with the
	// sender; the tree hashes it as-is, without binding the sender slot.
	return r.TxBody
}

// QueuedRequest is a TxRequest plus its intake bookkeeping, as stored in the
// per-domain KV queue.
type QueuedRequest struct {
	Request     TxRequest
	RequestID   RequestID
	SubmittedAt time.Time
}

type queuedRequestWire struct {
	SenderPubkey string     `json:"sender_pubkey"`
	AccountID    *uint64    `json:"account_id,omitempty"`
	BlockType    int        `json:"block_type"`
	TxBody       []byte     `json:"tx_body"`
	FeeProof     []byte     `json:"fee_proof,omitempty"`
	RequestID    string     `json:"request_id"`
	SubmittedAt  time.Time  `json:"submitted_at"`
}

func (q *QueuedRequest) MarshalBinary() ([]byte, error) {
	w := queuedRequestWire{
		SenderPubkey: q.Request.SenderPubkey.Hex(),
		BlockType:    int(q.Request.BlockType),
		TxBody:       q.Request.TxBody,
		FeeProof:     q.Request.FeeProof,
		RequestID:    q.RequestID.String(),
		SubmittedAt:  q.SubmittedAt,
	}
	if q.Request.AccountID != nil {
		v := uint64(*q.Request.AccountID)
		w.AccountID = &v
	}
	return json.Marshal(w)
}

func (q *QueuedRequest) UnmarshalBinary(data []byte) error {
	var w queuedRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	pk, err := hexToPubkey(w.SenderPubkey)
	if err != nil {
		return err
	}
	rid, err := ParseRequestID(w.RequestID)
	if err != nil {
		return err
	}
	q.Request = TxRequest{
		SenderPubkey: pk,
		BlockType:    BlockType(w.BlockType),
		TxBody:       w.TxBody,
		FeeProof:     w.FeeProof,
	}
	if w.AccountID != nil {
		a := AccountID(*w.AccountID)
		q.Request.AccountID = &a
	}
	q.RequestID = rid
	q.SubmittedAt = w.SubmittedAt
	return nil
}
