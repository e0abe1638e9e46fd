package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Ledger errors
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrEmptyName       = errors.New("client name must not be empty")
	ErrNegativeHours   = errors.New("hours must not be negative")
	ErrHoursOutOfRange = errors.New("hours out of range")
	ErrInvalidDate     = errors.New("invalid calendar date")
	ErrInvalidStatus   = errors.New("invalid ticket status")

	// Transition errors (UI-offered set only; the store permits any move)
	ErrTransitionNotAllowed = errors.New("status transition not offered")

	// Dispatch errors
	ErrValidation = errors.New("invalid action arguments")

	// Agent errors
	ErrGateway      = errors.New("agent gateway failure")
	ErrUnknownRole  = errors.New("unknown agent role")
	ErrNoWorkLogged = errors.New("agent did not log the reported work")
)

// ValidationError reports a proposed action whose arguments do not fit its schema.
// No mutation happens for the action that produced it.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Action, e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// GatewayError reports a failed agent round trip (auth, network, malformed
// response). A turn that fails this way applies zero actions.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return "gateway " + e.Op + " failed"
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

// Is matches ErrGateway so callers need not know the concrete type.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func (e *GatewayError) Unwrap() error { return e.Err }
