package model

import "encoding/json"

// FeeCollectionTask is the DOMAIN bridge between a finalized block and
// the fee-collection loop (internal/feecollection): it names which memo
// generated it and which of the 32 slots actually signed, since only
// attending senders owe a fee. Stored in list "fee_collection_tasks",
// TTL 20 minutes.
type FeeCollectionTask struct {
	MemoBlockID   BlockID
	BlockType     BlockType
	SortedPubkeys [NumSendersInBlock]PublicKey
	Attendance    AttendanceBitmap
}

type feeCollectionTaskWire struct {
	MemoBlockID   string   `json:"memo_block_id"`
	BlockType     int      `json:"block_type"`
	SortedPubkeys []string `json:"sorted_pubkeys"`
	Attendance    uint32   `json:"attendance"`
}

func (f *FeeCollectionTask) MarshalBinary() ([]byte, error) {
	w := feeCollectionTaskWire{
		MemoBlockID: f.MemoBlockID.String(),
		BlockType:   int(f.BlockType),
		Attendance:  uint32(f.Attendance),
	}
	for _, pk := range f.SortedPubkeys {
		w.SortedPubkeys = append(w.SortedPubkeys, pk.Hex())
	}
	return json.Marshal(w)
}

func (f *FeeCollectionTask) UnmarshalBinary(data []byte) error {
	var w feeCollectionTaskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	blockID, err := ParseBlockID(w.MemoBlockID)
	if err != nil {
		return err
	}
	f.MemoBlockID = blockID
	f.BlockType = BlockType(w.BlockType)
	f.Attendance = AttendanceBitmap(w.Attendance)
	for i, s := range w.SortedPubkeys {
		if i >= NumSendersInBlock {
			break
		}
		pk, err := hexToPubkey(s)
		if err != nil {
			return err
		}
		f.SortedPubkeys[i] = pk
	}
	return nil
}
