// Package api provides the HTTP server for Agenda.
// It exposes the ledger, the direct actions, and the agent chat as JSON.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenda-it/agenda/internal/app/agent"
	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/app/ledger"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/observability"
)

// RoleHeader names the role that direct actions are attributed to.
const RoleHeader = "X-Agenda-Role"

// Server is the Agenda HTTP API server.
type Server struct {
	ledger         *LedgerAPI
	session        *agent.Session // nil when no agent is configured
	tracer         *observability.Tracer
	metricsEnabled bool
}

// NewServer creates a new API server over store.
func NewServer(store *ledger.Store) *Server {
	return &Server{ledger: &LedgerAPI{
		Store:      store,
		Dispatcher: dispatch.New(store),
		Now:        time.Now,
	}}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetSession sets the agent session used by /api/chat and /api/reports.
func (s *Server) SetSession(sess *agent.Session) { s.session = sess }

// SetTracer sets the tracer served by /api/agent/traces.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"agent":  s.session != nil,
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/clients", s.ledger.HandleListClients)
		r.Post("/clients", s.ledger.HandleAddClient)
		r.Get("/tickets", s.ledger.HandleListTickets)
		r.Post("/tickets", s.ledger.HandleCreateTicket)
		r.Post("/tickets/{id}/status", s.ledger.HandleTicketStatus)
		r.Post("/work", s.ledger.HandleLogWork)
		r.Get("/invoices", s.ledger.HandleListInvoices)
		r.Get("/logs", s.ledger.HandleListLogs)
		r.Get("/dashboard", s.ledger.HandleDashboard)

		r.Post("/chat", s.handleChat)
		r.Post("/reports", s.handleReport)
		r.Get("/agent/stats", s.handleAgentStats)
		r.Get("/agent/traces", s.handleAgentTraces)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Agent Endpoints ────────────────────────────────────────────────────────

type chatRequest struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// handleChat runs one agent turn.
// POST /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role, err := domain.ParseAgentRole(req.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.session.Turn(r.Context(), role, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reportRequest struct {
	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
}

// handleReport logs completed work from a free-text description.
// POST /api/reports
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.session.ReportWork(r.Context(), req.Description, req.Hours)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleAgentStats returns session counters.
// GET /api/agent/stats
func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Stats())
}

// handleAgentTraces returns the most recent turn spans, oldest first.
// GET /api/agent/traces?limit=50
func (s *Server) handleAgentTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	spans := s.tracer.Recent(limit)
	if spans == nil {
		spans = []observability.Span{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spans": spans})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// requestRole returns the role direct actions are attributed to.
// Without the header they belong to the system role.
func requestRole(r *http.Request) (domain.AgentRole, error) {
	h := strings.TrimSpace(r.Header.Get(RoleHeader))
	if h == "" {
		return domain.RoleSystem, nil
	}
	return domain.ParseAgentRole(h)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorField(w, status, msg, "")
}

func writeErrorField(w http.ResponseWriter, status int, msg, field string) {
	body := map[string]any{
		"message": msg,
		"type":    errorType(status),
	}
	if field != "" {
		body["field"] = field
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// writeDomainError maps a domain error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Printf("[api] internal error: %v", err)
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeErrorField(w, status, err.Error(), ve.Field)
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyName),
		errors.Is(err, domain.ErrNegativeHours),
		errors.Is(err, domain.ErrHoursOutOfRange),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrUnknownRole):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTicketNotFound),
		errors.Is(err, domain.ErrClientNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransitionNotAllowed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoWorkLogged):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "gateway_error"
	}
	return "error"
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RoleHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
