// Package validity is a thin client to the Validity Prover service
// (out of scope per spec.md §1): queried for account existence, current
// account id assignment, and pending-deposit status.
package validity

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
	// AccountExists reports whether pubkey is already known to the
	// rollup (i.e. has been assigned an account id by a prior
	// registration block).
	AccountExists(ctx context.Context, pubkey model.PublicKey) (bool, error)
	// AccountID resolves a known pubkey to its assigned account id.
	AccountID(ctx context.Context, pubkey model.PublicKey) (model.AccountID, error)
	// PendingDeposits reports whether L1 deposits are waiting to be
	// reflected by a new non-registration block.
	PendingDeposits(ctx context.Context) (bool, error)
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) Client {
	return &httpClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *httpClient) AccountExists(ctx context.Context, pubkey model.PublicKey) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.post(ctx, "/account-exists", map[string]string{"pubkey": pubkey.Hex()}, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *httpClient) AccountID(ctx context.Context, pubkey model.PublicKey) (model.AccountID, error) {
	var resp struct {
		AccountID uint64 `json:"account_id"`
		Found     bool   `json:"found"`
	}
	if err := c.post(ctx, "/account-id", map[string]string{"pubkey": pubkey.Hex()}, &resp); err != nil {
		return 0, err
	}
	if !resp.Found {
		return 0, errs.Validationf("unknown_sender", "pubkey %s has no assigned account id", pubkey.Hex())
	}
	return model.AccountID(resp.AccountID), nil
}

func (c *httpClient) PendingDeposits(ctx context.Context) (bool, error) {
	var resp struct {
		Pending bool `json:"pending"`
	}
	if err := c.post(ctx, "/pending-deposits", nil, &resp); err != nil {
		return false, err
	}
	return resp.Pending, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	var reader bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = *bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transientf("validity_prover_unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errs.Transientf("validity_prover_error", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errs.Validationf("validity_prover_rejected", "status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
