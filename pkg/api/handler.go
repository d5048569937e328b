package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/operator-dao/pkg/governance"
	"github.com/psantana5/operator-dao/pkg/logging"
	"github.com/psantana5/operator-dao/pkg/middleware"
	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// maxBodyBytes bounds request bodies; every request type is a few fields
const maxBodyBytes = 64 << 10

// GovernanceHandler serves the governance API over an Engine
type GovernanceHandler struct {
	engine *governance.Engine
	store  store.Store
	logger *logging.Logger
}

// NewGovernanceHandler creates a handler. st is used for health checks only;
// every governance read and write goes through the engine.
func NewGovernanceHandler(engine *governance.Engine, st store.Store, logger *logging.Logger) *GovernanceHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GovernanceHandler{engine: engine, store: st, logger: logger}
}

// RegisterRoutes registers all API routes
func (h *GovernanceHandler) RegisterRoutes(r *mux.Router) {
	write := func(fn http.HandlerFunc) http.Handler { return middleware.RequireCaller(fn) }

	r.Handle("/construct", write(h.Construct)).Methods("POST")

	r.Handle("/proposals", write(h.CreateProposal)).Methods("POST")
	r.HandleFunc("/proposals", h.ListProposals).Methods("GET")
	r.HandleFunc("/proposals/{id}", h.GetProposal).Methods("GET")
	r.HandleFunc("/proposals/{id}/approved", h.IsProposalApproved).Methods("GET")
	r.Handle("/proposals/{id}/signal", write(h.Signal)).Methods("POST")

	r.HandleFunc("/operators", h.ListOperators).Methods("GET")
	r.HandleFunc("/operators/{address}", h.CheckOperator).Methods("GET")
	r.HandleFunc("/extensions", h.ListExtensions).Methods("GET")
	r.HandleFunc("/state", h.State).Methods("GET")

	r.HandleFunc("/treasury", h.TreasuryBalance).Methods("GET")
	r.Handle("/treasury/deposit", write(h.Deposit)).Methods("POST")
	r.HandleFunc("/treasury/transfers", h.ListTransfers).Methods("GET")
	r.HandleFunc("/accounts/{address}/balance", h.Balance).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Construct runs the one-time bootstrap
func (h *GovernanceHandler) Construct(w http.ResponseWriter, r *http.Request) {
	var req ConstructRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := middleware.CallerFrom(r.Context())

	ok, err := h.engine.Construct(r.Context(), caller, req.BootstrapRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConstructResponse{Constructed: ok})
}

// CreateProposal records a new pending proposal
func (h *GovernanceHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := middleware.CallerFrom(r.Context())

	id, err := h.engine.CreateProposal(r.Context(), caller, req.Description, req.ActionRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/proposals/%d", id))
	writeJSON(w, http.StatusCreated, CreateProposalResponse{ID: id})
}

// ListProposals returns every proposal in id order
func (h *GovernanceHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.engine.Proposals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ProposalResponse, len(proposals))
	for i, p := range proposals {
		out[i] = toProposalResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProposal returns one proposal with its votes
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	p, err := h.engine.Proposal(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// IsProposalApproved reports whether the proposal has executed
func (h *GovernanceHandler) IsProposalApproved(w http.ResponseWriter, r *http.Request) {
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	approved, err := h.engine.IsProposalApproved(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovedResponse{ID: id, Approved: approved})
}

// Signal records the caller's vote
func (h *GovernanceHandler) Signal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	var req SignalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Approve == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid-request", Message: "approve is required"})
		return
	}
	caller, _ := middleware.CallerFrom(r.Context())

	res, err := h.engine.Signal(r.Context(), caller, id, *req.Approve, req.ActionRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SignalResponse{
		Recorded:  true,
		Executed:  res.Executed,
		Approvals: res.Approvals,
		Rejects:   res.Rejects,
		ID:        id,
	})
}

func (h *GovernanceHandler) ListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := h.engine.Operators(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *GovernanceHandler) CheckOperator(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}
	member, err := h.engine.IsOperator(r.Context(), addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OperatorCheckResponse{Address: addr, IsOperator: member})
}

func (h *GovernanceHandler) ListExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := h.engine.Extensions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exts)
}

func (h *GovernanceHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.State(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *GovernanceHandler) TreasuryBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.engine.TreasuryBalance(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TreasuryResponse{Balance: bal})
}

// Deposit credits the treasury from the caller
func (h *GovernanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := middleware.CallerFrom(r.Context())

	bal, err := h.engine.FundTreasury(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TreasuryResponse{Balance: bal})
}

func (h *GovernanceHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.engine.Transfers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (h *GovernanceHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}
	bal, err := h.engine.Balance(r.Context(), addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: addr, Balance: bal})
}

// Health reports store reachability
func (h *GovernanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.HealthCheck(); err != nil {
			h.logger.Error("Health check failed", logging.Fields{"error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *GovernanceHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid-request", Message: "request body required"})
		return false
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid-request", Message: err.Error()})
		return false
	}
	return true
}

func (h *GovernanceHandler) proposalID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid-request", Message: fmt.Sprintf("invalid proposal id %q", raw)})
		return 0, false
	}
	return id, true
}

func (h *GovernanceHandler) address(w http.ResponseWriter, r *http.Request) (models.Address, bool) {
	addr, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, r, governance.ErrInvalidAddress)
		return "", false
	}
	return addr, true
}

// writeError maps a governance rejection to its HTTP status; anything
// else is an internal failure and is logged.
func (h *GovernanceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	gerr, ok := governance.AsError(err)
	if !ok {
		h.logger.Error("Request failed", logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"error":      err.Error(),
			"request_id": middleware.RequestIDFrom(r.Context()),
		})
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, StatusFor(gerr.Kind), ErrorResponse{Error: gerr.Name, Code: gerr.Code, Message: gerr.Message})
}

// StatusFor maps a rejection kind to an HTTP status code
func StatusFor(kind governance.Kind) int {
	switch kind {
	case governance.KindAuthorization:
		return http.StatusForbidden
	case governance.KindStateConflict:
		return http.StatusConflict
	case governance.KindNotFound:
		return http.StatusNotFound
	case governance.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
