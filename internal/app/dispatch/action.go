package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agenda-it/agenda/internal/domain"
)

// Action names as seen by the agent.
const (
	NameAddClient    = "addClient"
	NameCreateTicket = "createTicket"
	NameLogWorkDone  = "logWorkDone"
)

// Action is one validated, typed request against the ledger. The set of
// variants is closed: AddClient, CreateTicket, LogWorkDone, Unrecognized.
type Action interface {
	// ActionName returns the name the agent used.
	ActionName() string
	action()
}

// AddClient registers a client.
type AddClient struct {
	Name    string
	Contact string
	Email   string
}

// CreateTicket schedules a ticket.
type CreateTicket struct {
	Title          string
	ScheduledDate  string
	ClientID       string
	Description    string
	EstimatedHours float64
}

// LogWorkDone records work already completed.
type LogWorkDone struct {
	Summary    string
	Hours      float64
	ClientName string
	Details    string
}

// Unrecognized is any action name this dispatcher does not know.
// Applying it is a no-op.
type Unrecognized struct {
	Name string
}

func (AddClient) ActionName() string      { return NameAddClient }
func (CreateTicket) ActionName() string   { return NameCreateTicket }
func (LogWorkDone) ActionName() string    { return NameLogWorkDone }
func (u Unrecognized) ActionName() string { return u.Name }

func (AddClient) action()    {}
func (CreateTicket) action() {}
func (LogWorkDone) action()  {}
func (Unrecognized) action() {}

// ─── Schemas ────────────────────────────────────────────────────────────────

// ParamType is the semantic type of an action argument.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
)

// Param describes one action argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Schema describes an action the agent may call.
type Schema struct {
	Name        string
	Description string
	Params      []Param
}

// Required returns the names of the required parameters.
func (s Schema) Required() []string {
	var out []string
	for _, p := range s.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Schemas returns the declarations of every recognized action.
func Schemas() []Schema {
	return []Schema{
		{
			Name:        NameAddClient,
			Description: "Adds a new client to the database.",
			Params: []Param{
				{Name: "name", Type: TypeString, Description: "Client name", Required: true},
				{Name: "contact", Type: TypeString, Description: "Client phone number"},
				{Name: "email", Type: TypeString, Description: "Client email"},
			},
		},
		{
			Name:        NameCreateTicket,
			Description: "Creates a new service ticket or appointment for the future.",
			Params: []Param{
				{Name: "clientId", Type: TypeString, Description: "Client ID (if unknown, ask the user)"},
				{Name: "title", Type: TypeString, Description: "Short title of the service", Required: true},
				{Name: "description", Type: TypeString, Description: "Detailed description of the problem"},
				{Name: "scheduledDate", Type: TypeString, Description: "Scheduled date, ISO 8601 (YYYY-MM-DD)", Required: true},
				{Name: "estimatedHours", Type: TypeNumber, Description: "Estimated hours of work"},
			},
		},
		{
			Name: NameLogWorkDone,
			Description: "Records work the technician already did (operational report). " +
				"Creates a completed ticket, computes the cost, and issues the invoice automatically.",
			Params: []Param{
				{Name: "clientName", Type: TypeString, Description: "Client name identified in the text", Required: true},
				{Name: "summary", Type: TypeString, Description: "Short summary of what was done (e.g. PC format)", Required: true},
				{Name: "details", Type: TypeString, Description: "Full technical details of the resolution"},
				{Name: "hours", Type: TypeNumber, Description: "Hours spent", Required: true},
			},
		},
	}
}

// ─── Parsing ────────────────────────────────────────────────────────────────

// Parse validates an agent's call against its schema and returns the typed
// action. Unknown names parse to Unrecognized without error. Argument
// problems are reported as *domain.ValidationError.
func Parse(call domain.ActionCall) (Action, error) {
	a := args{action: call.Name, bag: call.Args}
	switch call.Name {
	case NameAddClient:
		act := AddClient{
			Name:    a.requiredString("name"),
			Contact: a.optionalString("contact"),
			Email:   a.optionalString("email"),
		}
		return act, a.err

	case NameCreateTicket:
		act := CreateTicket{
			Title:          a.requiredString("title"),
			ScheduledDate:  a.requiredString("scheduledDate"),
			ClientID:       a.optionalString("clientId"),
			Description:    a.optionalString("description"),
			EstimatedHours: a.optionalHours("estimatedHours"),
		}
		if a.err == nil {
			date, err := domain.NormalizeDate(act.ScheduledDate)
			if err != nil {
				a.fail("scheduledDate", "must be a calendar date (YYYY-MM-DD)")
			}
			act.ScheduledDate = date
		}
		return act, a.err

	case NameLogWorkDone:
		act := LogWorkDone{
			Summary:    a.requiredString("summary"),
			Hours:      a.requiredHours("hours"),
			ClientName: a.requiredString("clientName"),
			Details:    a.optionalString("details"),
		}
		if act.Details == "" {
			act.Details = act.Summary
		}
		return act, a.err
	}
	return Unrecognized{Name: call.Name}, nil
}

// args extracts typed values from an argument bag, keeping the first error.
type args struct {
	action string
	bag    map[string]any
	err    error
}

func (a *args) fail(field, reason string) {
	if a.err == nil {
		a.err = &domain.ValidationError{Action: a.action, Field: field, Reason: reason}
	}
}

func (a *args) lookup(key string) (any, bool) {
	v, ok := a.bag[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a *args) optionalString(key string) string {
	v, ok := a.lookup(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(key, "must be a string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (a *args) requiredString(key string) string {
	if _, ok := a.lookup(key); !ok {
		a.fail(key, "is required")
		return ""
	}
	s := a.optionalString(key)
	if s == "" {
		a.fail(key, "must not be empty")
	}
	return s
}

func (a *args) optionalHours(key string) float64 {
	v, ok := a.lookup(key)
	if !ok {
		return 0
	}
	return a.hours(key, v)
}

func (a *args) requiredHours(key string) float64 {
	v, ok := a.lookup(key)
	if !ok {
		a.fail(key, "is required")
		return 0
	}
	return a.hours(key, v)
}

func (a *args) hours(key string, v any) float64 {
	n, ok := toNumber(v)
	if !ok {
		a.fail(key, "must be a number")
		return 0
	}
	if n < 0 {
		a.fail(key, "must not be negative")
		return 0
	}
	if n > domain.MaxHours {
		a.fail(key, fmt.Sprintf("must not exceed %d", domain.MaxHours))
		return 0
	}
	return n
}

// toNumber accepts JSON numbers, Go numeric types, and numeric strings.
func toNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// String renders an action for logs.
func String(a Action) string {
	switch act := a.(type) {
	case AddClient:
		return fmt.Sprintf("addClient(name=%q)", act.Name)
	case CreateTicket:
		return fmt.Sprintf("createTicket(title=%q, date=%s)", act.Title, act.ScheduledDate)
	case LogWorkDone:
		return fmt.Sprintf("logWorkDone(client=%q, summary=%q, hours=%g)", act.ClientName, act.Summary, act.Hours)
	case Unrecognized:
		return fmt.Sprintf("unrecognized(%q)", act.Name)
	}
	return "unknown"
}
