// Package model defines the core entities of the block-builder pipeline:
// transaction requests, proposal memos, signatures and block-post tasks.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// BlockType tags which nonce domain, queue set and contract entry point a
// block belongs to. Table-driven dispatch over this tag avoids duplicating
// the intake/proposal/posting logic for each domain.
type BlockType int

const (
	Registration BlockType = iota
	NonRegistration
)

func (t BlockType) String() string {
	switch t {
	case Registration:
		return "registration"
	case NonRegistration:
		return "non_registration"
	default:
		return fmt.Sprintf("BlockType(%d)", int(t))
	}
}

// QueueKey returns the KV key suffix identifying this domain's queue, nonce
// counter and reservation set.
func (t BlockType) QueueKey() string {
	if t == Registration {
		return "REG"
	}
	return "NONREG"
}

// RequestID identifies a single submitted transaction request.
type RequestID uuid.UUID

func NewRequestID() RequestID { return RequestID(uuid.New()) }

func (id RequestID) String() string { return uuid.UUID(id).String() }

func ParseRequestID(s string) (RequestID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, err
	}
	return RequestID(u), nil
}

// BlockID identifies a ProposalMemo. It never appears on-chain.
type BlockID uuid.UUID

func NewBlockID() BlockID { return BlockID(uuid.New()) }

func (id BlockID) String() string { return uuid.UUID(id).String() }

func ParseBlockID(s string) (BlockID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BlockID{}, err
	}
	return BlockID(u), nil
}
