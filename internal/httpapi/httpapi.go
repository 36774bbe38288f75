// Package httpapi implements the block builder's external HTTP surface
// (spec.md §6): tx-request intake, proposal retrieval, signature posting
// and the published fee schedule, plus the AMBIENT liveness and metrics
// endpoints. Routing follows the teacher pack's httprouter convention
// (lightweight, no reflection-based binding) with rs/cors wrapping the
// handler for browser clients.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/config"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/errs"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/intake"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/proposal"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/signature"
)

type Server struct {
	intake      *intake.Intake
	proposals   *proposal.Engine
	signatures  *signature.Engine
	feeSchedule *config.FeeSchedule
	builderAddr string
	log         logging.Logger
}

// New constructs the HTTP server. GET /metrics serves promauto's default
// registerer directly (promhttp.Handler()) — every component that records
// metrics does so against a *metrics.Registry built at the same startup
// call site, so httpapi itself has no metrics of its own to hold.
func New(in *intake.Intake, prop *proposal.Engine, sig *signature.Engine, fees *config.FeeSchedule, builderAddr string) *Server {
	return &Server{intake: in, proposals: prop, signatures: sig, feeSchedule: fees, builderAddr: builderAddr, log: logging.New("component", "httpapi")}
}

// Handler builds the CORS-wrapped httprouter handler cmd/blockbuilder
// serves.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := httprouter.New()
	r.GET("/fee-info", s.handleFeeInfo)
	r.POST("/tx-request", s.handleTxRequest)
	r.POST("/query-proposal", s.handleQueryProposal)
	r.POST("/post-signature", s.handlePostSignature)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", wrapStd(promhttp.Handler()))

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

func wrapStd(h http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) { h.ServeHTTP(w, r) }
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleFeeInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := struct {
		Version                      string                  `json:"version"`
		BlockBuilderAddress          string                  `json:"block_builder_address"`
		Beneficiary                  string                  `json:"beneficiary"`
		RegistrationFee              []config.FeeTokenAmount `json:"registration_fee"`
		NonRegistrationFee           []config.FeeTokenAmount `json:"non_registration_fee"`
		RegistrationCollateralFee    []config.FeeTokenAmount `json:"registration_collateral_fee,omitempty"`
		NonRegistrationCollateralFee []config.FeeTokenAmount `json:"non_registration_collateral_fee,omitempty"`
	}{
		Version:                      s.feeSchedule.Version,
		BlockBuilderAddress:          s.builderAddr,
		Beneficiary:                  s.feeSchedule.Beneficiary,
		RegistrationFee:              s.feeSchedule.RegistrationFee,
		NonRegistrationFee:           s.feeSchedule.NonRegistrationFee,
		RegistrationCollateralFee:    s.feeSchedule.RegistrationCollateralFee,
		NonRegistrationCollateralFee: s.feeSchedule.NonRegistrationCollateralFee,
	}
	writeJSON(w, http.StatusOK, resp)
}

type txRequestBody struct {
	IsRegistrationBlock bool   `json:"is_registration_block"`
	Sender              string `json:"sender"`
	Tx                  []byte `json:"tx"`
	FeeProof            []byte `json:"fee_proof,omitempty"`
}

func (s *Server) handleTxRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body txRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed request body: %v", err))
		return
	}
	pubkey, err := model.PublicKeyFromHex(body.Sender)
	if err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed sender pubkey: %v", err))
		return
	}
	blockType := model.NonRegistration
	if body.IsRegistrationBlock {
		blockType = model.Registration
	}

	id, err := s.intake.Submit(r.Context(), intake.Input{
		SenderPubkey: pubkey,
		BlockType:    blockType,
		TxBody:       body.Tx,
		FeeProof:     body.FeeProof,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RequestID string `json:"request_id"`
	}{RequestID: id.String()})
}

type queryProposalBody struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleQueryProposal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body queryProposalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed request body: %v", err))
		return
	}
	requestID, err := model.ParseRequestID(body.RequestID)
	if err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed request_id: %v", err))
		return
	}

	memo, proof, ok, err := s.proposals.Lookup(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct {
			Pending bool `json:"pending"`
		}{Pending: true})
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		siblings[i] = sib.Hex()
	}
	writeJSON(w, http.StatusOK, struct {
		BlockProposal struct {
			BlockID    string   `json:"block_id"`
			TxTreeRoot string   `json:"tx_tree_root"`
			Siblings   []string `json:"siblings"`
			Index      int      `json:"index"`
		} `json:"block_proposal"`
	}{
		BlockProposal: struct {
			BlockID    string   `json:"block_id"`
			TxTreeRoot string   `json:"tx_tree_root"`
			Siblings   []string `json:"siblings"`
			Index      int      `json:"index"`
		}{
			BlockID:    memo.BlockID.String(),
			TxTreeRoot: memo.TxTreeRoot.Hex(),
			Siblings:   siblings,
			Index:      proof.Index,
		},
	})
}

type postSignatureBody struct {
	RequestID string `json:"request_id"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

func (s *Server) handlePostSignature(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body postSignatureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed request body: %v", err))
		return
	}
	requestID, err := model.ParseRequestID(body.RequestID)
	if err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed request_id: %v", err))
		return
	}
	pubkey, err := model.PublicKeyFromHex(body.Pubkey)
	if err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed pubkey: %v", err))
		return
	}
	sig, err := model.BLSSignatureFromHex(body.Signature)
	if err != nil {
		writeError(w, errs.Validationf("bad_request", "malformed signature: %v", err))
		return
	}

	if err := s.signatures.PostSignature(r.Context(), requestID, pubkey, sig); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an errs.Error's Code (falling back to its Kind) onto
// the HTTP status and error_kind vocabulary of spec.md §6.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, struct {
		ErrorKind string `json:"error_kind"`
		Message   string `json:"message"`
	}{ErrorKind: kind, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch errs.CodeOf(err) {
	case "bad_request":
		return http.StatusBadRequest, "BadRequest"
	case "invalid_signature":
		return http.StatusUnauthorized, "InvalidSignature"
	case "unknown_request":
		return http.StatusNotFound, "UnknownRequest"
	case "fee_payment_invalid":
		return http.StatusConflict, "FeePaymentInvalid"
	case "unknown_sender":
		return http.StatusConflict, "UnknownSender"
	case "backpressure":
		return http.StatusTooManyRequests, "Backpressure"
	}
	switch errs.KindOf(err) {
	case errs.Validation:
		return http.StatusBadRequest, "BadRequest"
	default:
		return http.StatusServiceUnavailable, "TransientUnavailable"
	}
}
