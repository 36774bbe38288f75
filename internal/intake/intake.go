// Package intake implements request submission (spec.md §4.4
// "submit_tx_request"): validation against the Validity Prover and Store
// Vault, request-id assignment, and queueing into the per-domain KV list.
package intake

import (
	"context"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

// QueueTTL is the TTL every queued request carries, spec.md §3.
const QueueTTL = 20 * time.Minute

// MaxQueuePerDomain is MAX_QUEUE from spec.md §4.4: Backpressure triggers
// once a domain's queue reaches MaxQueuePerDomain*NumSendersInBlock.
const MaxQueuePerDomain = 64

// Input is the caller-supplied half of a TxRequest; the AccountID field is
// resolved server-side, never trusted from the caller.
type Input struct {
	SenderPubkey model.PublicKey
	BlockType    model.BlockType
	TxBody       []byte
	FeeProof     model.FeeProof
}

type Intake struct {
	store      kv.Store
	keys       kv.Keys
	validity   validity.Client
	storevault storevault.Client
	log        logging.Logger
}

func New(store kv.Store, keys kv.Keys, validity validity.Client, storevault storevault.Client) *Intake {
	return &Intake{store: store, keys: keys, validity: validity, storevault: storevault, log: logging.New("component", "intake")}
}

// Submit validates req and enqueues it, returning the assigned request id.
func (in *Intake) Submit(ctx context.Context, req Input) (model.RequestID, error) {
	if req.SenderPubkey.IsDummy() {
		return model.RequestID{}, errs.Validationf("bad_request", "sender pubkey must not be the dummy sentinel")
	}

	txReq := model.TxRequest{
		SenderPubkey: req.SenderPubkey,
		BlockType:    req.BlockType,
		TxBody:       req.TxBody,
		FeeProof:     req.FeeProof,
	}

	exists, err := in.validity.AccountExists(ctx, req.SenderPubkey)
	if err != nil {
		return model.RequestID{}, err
	}
	if req.BlockType == model.Registration {
		if exists {
			return model.RequestID{}, errs.Validationf("unknown_sender", "sender already registered; submit a non-registration request")
		}
	} else {
		if !exists {
			return model.RequestID{}, errs.Validationf("unknown_sender", "sender has no assigned account id; submit a registration request")
		}
		accountID, err := in.validity.AccountID(ctx, req.SenderPubkey)
		if err != nil {
			return model.RequestID{}, err
		}
		txReq.AccountID = &accountID
	}

	if len(req.FeeProof) > 0 {
		if err := in.storevault.ValidateFeeProof(ctx, req.SenderPubkey, req.BlockType, req.FeeProof); err != nil {
			return model.RequestID{}, err
		}
	}

	queueKey := in.keys.Queue(req.BlockType.QueueKey())
	depth, err := in.store.LLen(ctx, queueKey)
	if err != nil {
		return model.RequestID{}, errs.Transientf("intake_queue_len", err)
	}
	if depth >= int64(MaxQueuePerDomain*model.NumSendersInBlock) {
		return model.RequestID{}, errs.New(errs.Validation, "backpressure", errBackpressure)
	}

	qr := model.QueuedRequest{
		Request:     txReq,
		RequestID:   model.NewRequestID(),
		SubmittedAt: time.Now(),
	}
	data, err := qr.MarshalBinary()
	if err != nil {
		return model.RequestID{}, err
	}
	if err := in.store.RPush(ctx, queueKey, QueueTTL, string(data)); err != nil {
		return model.RequestID{}, errs.Transientf("intake_enqueue", err)
	}

	in.log.Info("tx request accepted", "request_id", qr.RequestID, "domain", req.BlockType, "sender", req.SenderPubkey.Hex())
	return qr.RequestID, nil
}

var errBackpressure = backpressureErr("queue is full")

type backpressureErr string

func (e backpressureErr) Error() string { return string(e) }
