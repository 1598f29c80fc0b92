package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"proofanchor/anchoring/failure"
	core "proofanchor/ingestion/service/core"
	"proofanchor/storage/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"
)

// ProofHandler encapsulates the logic for handling HTTP proof requests
type ProofHandler struct {
	svc          *core.Service
	logger       *logrus.Entry
	maxBodyBytes int64
}

// NewProofHandler creates a new ProofHandler
func NewProofHandler(s *core.Service, l *logrus.Entry, maxBodyBytes int64) *ProofHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 2 << 20
	}
	return &ProofHandler{svc: s, logger: l, maxBodyBytes: maxBodyBytes}
}

// NewRouter wires the proof routes behind panic recovery
func NewRouter(h *ProofHandler, healthPath string) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/proofs/init", h.InitProof).Methods(http.MethodPost)
	router.HandleFunc("/proofs/retrieve", h.RetrieveProofs).Methods(http.MethodPost)
	router.HandleFunc("/proofs/submit", h.SubmitProof).Methods(http.MethodPost)
	router.HandleFunc("/proofs/requests/{id}", h.RequestStatus).Methods(http.MethodGet)
	router.HandleFunc(healthPath, h.HealthCheck).Methods(http.MethodGet)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, map[string]interface{}{"ok": false, "error": "METHOD_NOT_ALLOWED"}, http.StatusMethodNotAllowed)
	})

	recovery := negroni.NewRecovery()
	recovery.Logger = h.logger
	recovery.PrintStack = false
	recovery.Formatter = &internalErrorFormatter{}

	n := negroni.New()
	n.Use(recovery)
	n.UseHandler(router)
	return n
}

// StatusFor maps a failure code to its HTTP status
func StatusFor(code failure.Code) int {
	switch code {
	case failure.InvalidBody, failure.InvalidWallet, failure.InvalidTxBytesBase58, failure.RuntimeHashMismatch:
		return http.StatusBadRequest
	case failure.TxNotFound, failure.RequestNotFound:
		return http.StatusNotFound
	case failure.MintTxFailed, failure.CreatePoolFailed, failure.PrepareAtaOrMintFailed, failure.CompressTxFailed:
		return http.StatusBadGateway
	}
	if strings.HasPrefix(string(code), "MISSING_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type proofResponse struct {
	OK bool `json:"ok"`
	*store.AnchoredProof
}

type errorResponse struct {
	OK      bool                 `json:"ok"`
	Error   string               `json:"error"`
	Message string               `json:"message,omitempty"`
	Details string               `json:"details,omitempty"`
	Logs    []string             `json:"logs,omitempty"`
	Proof   *store.AnchoredProof `json:"proof,omitempty"` // Set on PERSIST_FAILED
}

// InitProof handles POST /proofs/init: the full pipeline runs before responding
func (h *ProofHandler) InitProof(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, f := core.ParseProofRequest(body)
	if f != nil {
		h.respondFailure(w, f)
		return
	}

	res, err := h.svc.InitProof(r.Context(), req)
	if err != nil {
		h.logger.Errorf("HTTP Handler: InitProof for %s failed unexpectedly: %v", req.TxSignature, err)
		h.respondInternal(w, err)
		return
	}
	if !res.OK {
		resp := errorResponse{Error: string(res.Failure.Code), Message: res.Failure.Message, Logs: res.Failure.Logs}
		if res.Failure.Code == failure.PersistFailed {
			resp.Proof = res.Proof
		}
		h.respondJSON(w, resp, StatusFor(res.Failure.Code))
		return
	}
	h.respondJSON(w, proofResponse{OK: true, AnchoredProof: res.Proof}, http.StatusOK)
}

// RetrieveProofs handles POST /proofs/retrieve
func (h *ProofHandler) RetrieveProofs(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	wallet, f := core.ParseWallet(body)
	if f != nil {
		h.respondFailure(w, f)
		return
	}
	proofs, f, err := h.svc.RetrieveProofs(r.Context(), wallet)
	if err != nil {
		h.logger.Errorf("HTTP Handler: RetrieveProofs failed: %v", err)
		h.respondInternal(w, err)
		return
	}
	if f != nil {
		h.respondFailure(w, f)
		return
	}
	h.respondJSON(w, map[string]interface{}{"ok": true, "proofs": proofs}, http.StatusOK)
}

// SubmitProof handles POST /proofs/submit: the request is queued and 202 returned
func (h *ProofHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, f := core.ParseProofRequest(body)
	if f != nil {
		h.respondFailure(w, f)
		return
	}
	result, err := h.svc.SubmitProof(r.Context(), req)
	if errors.Is(err, core.ErrAsyncDisabled) {
		h.respondJSON(w, errorResponse{Error: string(failure.Internal), Message: err.Error()}, http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	h.respondJSON(w, map[string]interface{}{
		"ok":         true,
		"requestId":  result.RequestID,
		"receivedAt": result.ReceivedAt.Format(time.RFC3339Nano),
		"status":     store.StatusReceived,
	}, http.StatusAccepted)
}

// RequestStatus handles GET /proofs/requests/{id}
func (h *ProofHandler) RequestStatus(w http.ResponseWriter, r *http.Request) {
	status, f, err := h.svc.RequestStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	if f != nil {
		h.respondFailure(w, f)
		return
	}
	h.respondJSON(w, map[string]interface{}{"ok": true, "request": status}, http.StatusOK)
}

// HealthCheck handles GET /health requests
func (h *ProofHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "anchor-api",
	}
	if err := h.svc.Ping(r.Context()); err != nil {
		resp["status"] = "unhealthy"
		resp["error"] = err.Error()
		h.respondJSON(w, resp, http.StatusServiceUnavailable)
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

func (h *ProofHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondJSON(w, errorResponse{Error: string(failure.InvalidBody), Message: "request body too large"}, http.StatusRequestEntityTooLarge)
			return nil, false
		}
		h.respondFailure(w, failure.New(failure.InvalidBody, "failed to read request body"))
		return nil, false
	}
	return body, true
}

// respondJSON sends JSON response
func (h *ProofHandler) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorf("HTTP Handler: Failed to encode JSON response: %v", err)
	}
}

func (h *ProofHandler) respondFailure(w http.ResponseWriter, f *failure.Error) {
	h.respondJSON(w, errorResponse{Error: string(f.Code), Message: f.Message, Logs: f.Logs}, StatusFor(f.Code))
}

func (h *ProofHandler) respondInternal(w http.ResponseWriter, err error) {
	h.respondJSON(w, errorResponse{Error: string(failure.Internal), Details: err.Error()}, http.StatusInternalServerError)
}

// internalErrorFormatter renders recovered panics in the API's error shape
type internalErrorFormatter struct{}

func (f *internalErrorFormatter) FormatPanicError(rw http.ResponseWriter, r *http.Request, infos *negroni.PanicInformation) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(errorResponse{Error: string(failure.Internal), Details: "internal server error"})
}
