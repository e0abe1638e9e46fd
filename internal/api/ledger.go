package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agenda-it/agenda/internal/app/dashboard"
	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/app/ledger"
	"github.com/agenda-it/agenda/internal/domain"
)

// ─── Ledger API ─────────────────────────────────────────────────────────────
// REST endpoints for the presentation surfaces. Creation goes through the
// same dispatcher the agent uses, so direct and agent actions validate and
// audit identically.
//
// GET  /api/clients              client roster
// POST /api/clients              addClient
// GET  /api/tickets              tickets (?status=, ?date=)
// POST /api/tickets              createTicket
// POST /api/tickets/{id}/status  move a ticket along the offered transitions
// POST /api/work                 logWorkDone
// GET  /api/invoices             invoices (?unpaid=true)
// GET  /api/logs                 audit trail, newest first (?limit=)
// GET  /api/dashboard            overview for today

// LedgerAPI holds references to the ledger services.
type LedgerAPI struct {
	Store      *ledger.Store
	Dispatcher *dispatch.Dispatcher
	Now        func() time.Time
}

// HandleListClients returns all clients.
// GET /api/clients
func (l *LedgerAPI) HandleListClients(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": nonNil(l.Store.Clients())})
}

// HandleAddClient registers a client.
// POST /api/clients
func (l *LedgerAPI) HandleAddClient(w http.ResponseWriter, r *http.Request) {
	l.dispatch(w, r, dispatch.NameAddClient)
}

// HandleListTickets returns tickets, optionally filtered by status and date.
// GET /api/tickets
func (l *LedgerAPI) HandleListTickets(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}

	var status domain.TicketStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := domain.ParseTicketStatus(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		status = st
	}
	date := r.URL.Query().Get("date")

	tickets := make([]domain.Ticket, 0)
	for _, t := range l.Store.Tickets() {
		if status != "" && t.Status != status {
			continue
		}
		if date != "" && t.ScheduledDate != date {
			continue
		}
		tickets = append(tickets, t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

// HandleCreateTicket schedules a ticket.
// POST /api/tickets
func (l *LedgerAPI) HandleCreateTicket(w http.ResponseWriter, r *http.Request) {
	l.dispatch(w, r, dispatch.NameCreateTicket)
}

type statusRequest struct {
	Status      string   `json:"status"`
	ActualHours *float64 `json:"actualHours,omitempty"`
}

// HandleTicketStatus moves a ticket to a new status.
// POST /api/tickets/{id}/status
func (l *LedgerAPI) HandleTicketStatus(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	role, err := requestRole(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := domain.ParseTicketStatus(req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	inv, err := l.Store.TransitionTicket(r.Context(), id, status, req.ActualHours)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := l.Store.AddLog(r.Context(), role, domain.ActionUpdateStatus,
		fmt.Sprintf("Ticket %s moved to %s", id, status.Label())); err != nil {
		log.Printf("[api] audit %s failed: %v", domain.ActionUpdateStatus, err)
	}

	ticket, _ := l.Store.Ticket(id)
	resp := map[string]any{"ticket": ticket}
	if inv != nil {
		resp["invoice"] = inv
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLogWork records completed work.
// POST /api/work
func (l *LedgerAPI) HandleLogWork(w http.ResponseWriter, r *http.Request) {
	l.dispatch(w, r, dispatch.NameLogWorkDone)
}

// HandleListInvoices returns invoices in issue order.
// GET /api/invoices
func (l *LedgerAPI) HandleListInvoices(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	unpaidOnly := r.URL.Query().Get("unpaid") == "true"

	invoices := make([]domain.Invoice, 0)
	for _, inv := range l.Store.Invoices() {
		if unpaidOnly && inv.IsPaid {
			continue
		}
		invoices = append(invoices, inv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// HandleListLogs returns the audit trail, newest first.
// GET /api/logs
func (l *LedgerAPI) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	logs := nonNil(l.Store.Logs())
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(logs) {
			logs = logs[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// HandleDashboard returns today's overview.
// GET /api/dashboard
func (l *LedgerAPI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if l.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Compute(l.Store.Snapshot(), l.now()))
}

// dispatch decodes the body as an argument bag and applies it as action.
func (l *LedgerAPI) dispatch(w http.ResponseWriter, r *http.Request, action string) {
	if l.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not initialized")
		return
	}
	role, err := requestRole(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	args := make(map[string]any)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := l.Dispatcher.Dispatch(r.Context(), role, domain.ActionCall{Name: action, Args: args})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"outcome": out,
		"message": out.Summary(),
	})
}

func (l *LedgerAPI) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
