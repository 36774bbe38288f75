// Package storevault is a thin client to the Store Vault service (out of
// scope per spec.md §1): validates fee-payment proofs and records/finalizes
// collected fee entries.
package storevault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

type Client interface {
	// ValidateFeeProof checks a sender's fee_proof for the given block
	// type. Returns a Validation error (FeePaymentInvalid) if invalid.
	ValidateFeeProof(ctx context.Context, pubkey model.PublicKey, blockType model.BlockType, proof model.FeeProof) error
	// RecordFee records a pending fee entry for blockID/pubkey, to be
	// finalized once the corresponding block posts successfully.
	RecordFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error
	// FinalizeFee marks a previously recorded fee entry as collected.
	FinalizeFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) Client {
	return &httpClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *httpClient) ValidateFeeProof(ctx context.Context, pubkey model.PublicKey, blockType model.BlockType, proof model.FeeProof) error {
	var resp struct {
		Valid bool `json:"valid"`
	}
	body := map[string]any{
		"pubkey":     pubkey.Hex(),
		"block_type": blockType.String(),
		"fee_proof":  proof,
	}
	if err := c.post(ctx, "/validate-fee-proof", body, &resp); err != nil {
		return err
	}
	if !resp.Valid {
		return errs.Validationf("fee_payment_invalid", "fee proof rejected for pubkey %s", pubkey.Hex())
	}
	return nil
}

func (c *httpClient) RecordFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error {
	return c.post(ctx, "/record-fee", map[string]string{
		"block_id": blockID.String(),
		"pubkey":   pubkey.Hex(),
	}, &struct{}{})
}

func (c *httpClient) FinalizeFee(ctx context.Context, blockID model.BlockID, pubkey model.PublicKey) error {
	return c.post(ctx, "/finalize-fee", map[string]string{
		"block_id": blockID.String(),
		"pubkey":   pubkey.Hex(),
	}, &struct{}{})
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transientf("store_vault_unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errs.Transientf("store_vault_error", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errs.Validationf("store_vault_rejected", "status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
