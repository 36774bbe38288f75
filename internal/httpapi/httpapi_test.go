package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/bls"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain/chaintest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/config"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/intake"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv/kvtest"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/proposal"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/signature"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := kvtest.New()
	keys := kv.NewKeys("test")
	locks := lock.New(store, "builder-1")
	nonces := nonce.New(store, locks, chaintest.New())
	v := validity.NewFake()
	sv := storevault.NewFake()

	in := intake.New(store, keys, v, sv)
	prop := proposal.New(store, keys, locks, nonces, "0xBUILDER", time.Hour)
	sig := signature.New(store, keys, locks, nonces, time.Hour)
	fees := &config.FeeSchedule{Version: "1", Beneficiary: "0xBENEFICIARY"}

	return New(in, prop, sig, fees, "0xBUILDER")
}

func TestHandleFeeInfo(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/fee-info", nil)
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0xBENEFICIARY", body["beneficiary"])
}

func TestHandleTxRequest_Accepted(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]any{
		"is_registration_block": true,
		"sender":                "0x" + "aa" + "11" + "000000000000000000000000000000000000000000000000000000000000",
	})
	req := httptest.NewRequest(http.MethodPost, "/tx-request", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
}

func TestHandleTxRequest_MalformedSenderRejected(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]any{
		"is_registration_block": true,
		"sender":                "not-hex",
	})
	req := httptest.NewRequest(http.MethodPost, "/tx-request", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryProposal_PendingForUnknownRequest(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]any{"request_id": model.NewRequestID().String()})
	req := httptest.NewRequest(http.MethodPost, "/query-proposal", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pending bool `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Pending)
}

func TestHandlePostSignature_InvalidSignatureRejected(t *testing.T) {
	s := newTestServer(t)
	priv, err := bls.GenerateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()

	memo := &model.ProposalMemo{
		BlockID:          model.NewBlockID(),
		SortedPubkeys:    model.SortDescendingPadded([]model.PublicKey{pub}),
		BlockSignPayload: model.HashBytes([]byte("payload")),
	}
	data, err := memo.MarshalBinary()
	require.NoError(t, err)
	store := kvtest.New()
	keys := kv.NewKeys("test")
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, keys.Memo(memo.BlockID.String()), string(data), time.Hour))
	reqID := model.NewRequestID()
	require.NoError(t, store.Set(ctx, keys.RequestBlock(reqID.String()), memo.BlockID.String(), time.Hour))

	locks := lock.New(store, "builder-1")
	nonces := nonce.New(store, locks, chaintest.New())
	sig := signature.New(store, keys, locks, nonces, time.Hour)
	s.signatures = sig

	otherPriv, err := bls.GenerateKey()
	require.NoError(t, err)
	badSig := otherPriv.Sign(memo.BlockSignPayload)

	reqBody, _ := json.Marshal(map[string]any{
		"request_id": reqID.String(),
		"pubkey":     pub.Hex(),
		"signature":  "0x" + bytesToHex(badSig[:]),
	})
	req := httptest.NewRequest(http.MethodPost, "/post-signature", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func bytesToHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
