package model

import (
	"encoding/json"
	"time"
)

// MerkleProof is a sibling-hash path from a leaf to the tx-tree root.
type MerkleProof struct {
	Siblings []Hash
	Index    int
}

// ProposalMemo is the output of one batching step: a pending block awaiting
// signatures. Stored as its own KV string key per BlockID (kv.Keys.Memo),
// TTL 20 minutes.
type ProposalMemo struct {
	BlockID             BlockID
	CreatedAt           time.Time
	IsRegistrationBlock bool
	ReservedNonce       uint64
	SortedPubkeys       [NumSendersInBlock]PublicKey
	PubkeyHash          Hash
	TxRequests          []QueuedRequest // in submission order
	Proposals           []MerkleProof   // proposals[i] proves TxRequests[i]
	TxTreeRoot          Hash
	BlockSignPayload    Hash
}

// BlockType reconstructs the block type tag from the boolean flag.
func (m *ProposalMemo) BlockType() BlockType {
	if m.IsRegistrationBlock {
		return Registration
	}
	return NonRegistration
}

// PositionOf returns the index of request id in TxRequests (and so in
// Proposals), or -1 if the request is not part of this memo.
func (m *ProposalMemo) PositionOf(id RequestID) int {
	for i, r := range m.TxRequests {
		if r.RequestID == id {
			return i
		}
	}
	return -1
}

type memoWire struct {
	BlockID             string        `json:"block_id"`
	CreatedAt           time.Time     `json:"created_at"`
	IsRegistrationBlock bool          `json:"is_registration_block"`
	ReservedNonce       uint64        `json:"reserved_nonce"`
	SortedPubkeys       []string      `json:"sorted_pubkeys"`
	PubkeyHash          string        `json:"pubkey_hash"`
	TxRequests          []json.RawMessage `json:"tx_requests"`
	Proposals           []proofWire   `json:"proposals"`
	TxTreeRoot          string        `json:"tx_tree_root"`
	BlockSignPayload    string        `json:"block_sign_payload"`
}

type proofWire struct {
	Siblings []string `json:"siblings"`
	Index    int      `json:"index"`
}

func (m *ProposalMemo) MarshalBinary() ([]byte, error) {
	w := memoWire{
		BlockID:             m.BlockID.String(),
		CreatedAt:           m.CreatedAt,
		IsRegistrationBlock: m.IsRegistrationBlock,
		ReservedNonce:       m.ReservedNonce,
		PubkeyHash:          m.PubkeyHash.Hex(),
		TxTreeRoot:          m.TxTreeRoot.Hex(),
		BlockSignPayload:    m.BlockSignPayload.Hex(),
	}
	for _, pk := range m.SortedPubkeys {
		w.SortedPubkeys = append(w.SortedPubkeys, pk.Hex())
	}
	for _, r := range m.TxRequests {
		b, err := r.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.TxRequests = append(w.TxRequests, b)
	}
	for _, p := range m.Proposals {
		pw := proofWire{Index: p.Index}
		for _, s := range p.Siblings {
			pw.Siblings = append(pw.Siblings, s.Hex())
		}
		w.Proposals = append(w.Proposals, pw)
	}
	return json.Marshal(w)
}

func (m *ProposalMemo) UnmarshalBinary(data []byte) error {
	var w memoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	blockID, err := ParseBlockID(w.BlockID)
	if err != nil {
		return err
	}
	m.BlockID = blockID
	m.CreatedAt = w.CreatedAt
	m.IsRegistrationBlock = w.IsRegistrationBlock
	m.ReservedNonce = w.ReservedNonce
	for i, s := range w.SortedPubkeys {
		if i >= NumSendersInBlock {
			break
		}
		pk, err := hexToPubkey(s)
		if err != nil {
			return err
		}
		m.SortedPubkeys[i] = pk
	}
	if m.PubkeyHash, err = hexToHash(w.PubkeyHash); err != nil {
		return err
	}
	if m.TxTreeRoot, err = hexToHash(w.TxTreeRoot); err != nil {
		return err
	}
	if m.BlockSignPayload, err = hexToHash(w.BlockSignPayload); err != nil {
		return err
	}
	m.TxRequests = m.TxRequests[:0]
	for _, raw := range w.TxRequests {
		var q QueuedRequest
		if err := q.UnmarshalBinary(raw); err != nil {
			return err
		}
		m.TxRequests = append(m.TxRequests, q)
	}
	m.Proposals = m.Proposals[:0]
	for _, pw := range w.Proposals {
		proof := MerkleProof{Index: pw.Index}
		for _, s := range pw.Siblings {
			h, err := hexToHash(s)
			if err != nil {
				return err
			}
			proof.Siblings = append(proof.Siblings, h)
		}
		m.Proposals = append(m.Proposals, proof)
	}
	return nil
}
