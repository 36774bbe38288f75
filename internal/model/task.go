package model

import (
	"encoding/json"
	"time"
)

// TaskPriority selects which posting queue a BlockPostTask enters.
type TaskPriority int

const (
	PriorityHigh TaskPriority = iota // user-signed blocks, collateral blocks
	PriorityLow                     // empty blocks, fee-collection blocks
)

// AttendanceBitmap marks which of the NumSendersInBlock sorted-pubkey slots
// contributed a signature.
type AttendanceBitmap uint32

func (a AttendanceBitmap) Set(slot int) AttendanceBitmap { return a | (1 << uint(slot)) }
func (a AttendanceBitmap) Has(slot int) bool             { return a&(1<<uint(slot)) != 0 }
func (a AttendanceBitmap) Count() int {
	n := 0
	for i := 0; i < NumSendersInBlock; i++ {
		if a.Has(i) {
			n++
		}
	}
	return n
}

// BlockPostTask is the unit of work consumed by the posting scheduler: a
// fully-assembled block ready to be submitted to the L2 rollup contract.
type BlockPostTask struct {
	BlockID             BlockID
	BlockType           BlockType
	Nonce               uint64
	TxTreeRoot          Hash
	BlockSignPayload    Hash
	PubkeyHash          Hash
	SortedPubkeys       [NumSendersInBlock]PublicKey
	AccountIDs          []AccountID // non-registration blocks only
	AggregatedSignature BLSSignature
	Attendance          AttendanceBitmap
	IsEmpty             bool
	Priority            TaskPriority
	EnqueuedAt          time.Time
	Attempts            int
}

type taskWire struct {
	BlockID             string    `json:"block_id"`
	BlockType           int       `json:"block_type"`
	Nonce               uint64    `json:"nonce"`
	TxTreeRoot          string    `json:"tx_tree_root"`
	BlockSignPayload    string    `json:"block_sign_payload"`
	PubkeyHash          string    `json:"pubkey_hash"`
	SortedPubkeys       []string  `json:"sorted_pubkeys"`
	AccountIDs          []uint64  `json:"account_ids,omitempty"`
	AggregatedSignature string    `json:"aggregated_signature"`
	Attendance          uint32    `json:"attendance"`
	IsEmpty             bool      `json:"is_empty"`
	Priority            int       `json:"priority"`
	EnqueuedAt          time.Time `json:"enqueued_at"`
	Attempts            int       `json:"attempts"`
}

func (t *BlockPostTask) MarshalBinary() ([]byte, error) {
	w := taskWire{
		BlockID:             t.BlockID.String(),
		BlockType:           int(t.BlockType),
		Nonce:               t.Nonce,
		TxTreeRoot:          t.TxTreeRoot.Hex(),
		BlockSignPayload:    t.BlockSignPayload.Hex(),
		PubkeyHash:          t.PubkeyHash.Hex(),
		AggregatedSignature: "0x" + hexEncode(t.AggregatedSignature[:]),
		Attendance:          uint32(t.Attendance),
		IsEmpty:             t.IsEmpty,
		Priority:            int(t.Priority),
		EnqueuedAt:          t.EnqueuedAt,
		Attempts:            t.Attempts,
	}
	for _, pk := range t.SortedPubkeys {
		w.SortedPubkeys = append(w.SortedPubkeys, pk.Hex())
	}
	for _, a := range t.AccountIDs {
		w.AccountIDs = append(w.AccountIDs, uint64(a))
	}
	return json.Marshal(w)
}

func (t *BlockPostTask) UnmarshalBinary(data []byte) error {
	var w taskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	blockID, err := ParseBlockID(w.BlockID)
	if err != nil {
		return err
	}
	t.BlockID = blockID
	t.BlockType = BlockType(w.BlockType)
	t.Nonce = w.Nonce
	if t.TxTreeRoot, err = hexToHash(w.TxTreeRoot); err != nil {
		return err
	}
	if t.BlockSignPayload, err = hexToHash(w.BlockSignPayload); err != nil {
		return err
	}
	if t.PubkeyHash, err = hexToHash(w.PubkeyHash); err != nil {
		return err
	}
	for i, s := range w.SortedPubkeys {
		if i >= NumSendersInBlock {
			break
		}
		pk, err := hexToPubkey(s)
		if err != nil {
			return err
		}
		t.SortedPubkeys[i] = pk
	}
	t.AccountIDs = t.AccountIDs[:0]
	for _, a := range w.AccountIDs {
		t.AccountIDs = append(t.AccountIDs, AccountID(a))
	}
	sigBytes, err := hexDecode(w.AggregatedSignature)
	if err != nil {
		return err
	}
	copy(t.AggregatedSignature[:], sigBytes)
	t.Attendance = AttendanceBitmap(w.Attendance)
	t.IsEmpty = w.IsEmpty
	t.Priority = TaskPriority(w.Priority)
	t.EnqueuedAt = w.EnqueuedAt
	t.Attempts = w.Attempts
	return nil
}

// NonceReservation is a claimed, not-yet-posted nonce for one domain.
type NonceReservation struct {
	BlockType BlockType
	Nonce     uint64
}
