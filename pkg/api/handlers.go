package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/service"
)

// Server exposes the proof-of-agency operations over HTTP.
type Server struct {
	svc *service.Service
}

// NewServer creates a Server over the wired service.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/actions", s.handleRecordAction)
	mux.HandleFunc("GET /api/actions", s.handleQueryActions)
	mux.HandleFunc("GET /api/actions/{id}", s.handleGetAction)
	mux.HandleFunc("POST /api/actions/{id}/verify", s.handleVerifyAction)
	mux.HandleFunc("POST /api/actions/{id}/anchor", s.handleAnchorAction)
	mux.HandleFunc("GET /api/actions/{id}/anchor", s.handleGetAnchor)
	mux.HandleFunc("POST /api/actions/{id}/outcome", s.handleRecordOutcome)
	mux.HandleFunc("GET /api/actions/{id}/outcome", s.handleGetOutcome)
	mux.HandleFunc("POST /api/actions/{id}/rewards", s.handleDistributeRewards)
	mux.HandleFunc("GET /api/actions/{id}/rewards", s.handleGetDistribution)
	mux.HandleFunc("GET /api/agents/{agent}/reputation", s.handleGetReputation)
	mux.HandleFunc("GET /api/leaderboard/{domain}", s.handleLeaderboard)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecordActionRequest is the body of POST /api/actions.
type RecordActionRequest struct {
	ActionID    string            `json:"action_id,omitempty"`
	AgentID     string            `json:"agent_id"`
	ActionType  string            `json:"action_type"`
	Description string            `json:"description,omitempty"`
	Inputs      contracts.Payload `json:"inputs,omitempty"`
	Outputs     contracts.Payload `json:"outputs,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
}

func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req RecordActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.AgentID == "" || req.ActionType == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, action_type")
		return
	}

	action := &contracts.Action{
		ActionID:    req.ActionID,
		AgentID:     req.AgentID,
		ActionType:  req.ActionType,
		Description: req.Description,
		Inputs:      req.Inputs,
		Outputs:     req.Outputs,
		ExecutionID: req.ExecutionID,
	}
	id, err := s.svc.RecordAction(r.Context(), action)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"action_id": id})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.svc.GetAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleQueryActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := contracts.ActionFilter{
		AgentID:    q.Get("agent_id"),
		ActionType: q.Get("action_type"),
		Status:     contracts.ActionStatus(q.Get("status")),
	}
	page := contracts.Page{
		Limit:  queryInt(q.Get("limit"), 100),
		Offset: queryInt(q.Get("offset"), 0),
	}

	actions, err := s.svc.QueryActions(r.Context(), filter, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (s *Server) handleVerifyAction(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.VerifyAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnchorAction(w http.ResponseWriter, r *http.Request) {
	record, err := s.svc.AnchorAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	record, err := s.svc.GetAnchor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// OutcomeRequest is the body of POST /api/actions/{id}/outcome.
type OutcomeRequest struct {
	Success     bool              `json:"success"`
	ImpactScore float64           `json:"impact_score"`
	Results     contracts.Payload `json:"results,omitempty"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	out, err := s.svc.RecordOutcome(r.Context(), r.PathValue("id"), req.Success, req.ImpactScore, req.Results)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.GetOutcome(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDistributeRewards(w http.ResponseWriter, r *http.Request) {
	dist, err := s.svc.DistributeRewards(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dist)
}

func (s *Server) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.svc.GetDistribution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		WriteBadRequest(w, "Missing required query parameter: domain")
		return
	}

	score, err := s.svc.GetReputation(r.Context(), r.PathValue("agent"), domain)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 20)
	board, err := s.svc.Leaderboard(r.Context(), r.PathValue("domain"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": board, "count": len(board)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contracts.ErrActionNotFound),
		errors.Is(err, contracts.ErrExecutionNotFound),
		errors.Is(err, contracts.ErrAttestationNotFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, contracts.ErrAgentUnknown):
		WriteErrorR(w, r, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, contracts.ErrOutOfRange):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, contracts.ErrDuplicateAction),
		errors.Is(err, contracts.ErrInvalidTransition),
		errors.Is(err, contracts.ErrActionNotVerified),
		errors.Is(err, contracts.ErrActionNotAnchored),
		errors.Is(err, contracts.ErrOutcomeExists),
		errors.Is(err, contracts.ErrAnchorExists),
		errors.Is(err, contracts.ErrAlreadyDistributed),
		errors.Is(err, contracts.ErrConsensusNotReached):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())
	case contracts.Retryable(err):
		WriteServiceUnavailable(w, 5, "Ledger temporarily unavailable. Retry the anchor request.")
	default:
		WriteInternal(w, err)
	}
}
