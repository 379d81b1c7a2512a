// Package errs provides structured error types and helpers for riskgate services.
package errs

import "strings"

// Code identifies an error category within the engine.
type Code string

const (
	// CodeInvalidTransition indicates an illegal order state transition.
	// Always fatal to the specific order, never retried.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeBrokerComm indicates a broker communication failure. Callers map
	// these to rejected orders or no-ops; they are never re-raised.
	CodeBrokerComm Code = "broker_comm"
	// CodeInvalidConfig indicates configuration that failed validation and
	// was rejected before being applied.
	CodeInvalidConfig Code = "invalid_config"
	// CodeReconcile indicates a reconciliation cycle failure. The worker
	// logs these and continues to the next cycle.
	CodeReconcile Code = "reconcile_cycle"
	// CodeNotFound indicates a missing order, session, or trade.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a duplicate identifier or concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeFeed indicates a quote feed failure.
	CodeFeed Code = "feed"
	// CodeInvalidRequest indicates a malformed caller request, such as an
	// entry with a non-positive lot count.
	CodeInvalidRequest Code = "invalid_request"
	// CodeStorage indicates a persistence failure. Trade-history writes are
	// logged and dropped; session snapshot failures surface to the caller.
	CodeStorage Code = "storage"
)

// E captures structured error information produced across the engine.
type E struct {
	Component  string
	Code       Code
	Message    string
	BrokerCode string
	BrokerMsg  string
	OrderID    string
	SessionID  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithBrokerCode captures the raw broker error code.
func WithBrokerCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.BrokerCode = trimmed
	}
}

// WithBrokerMessage captures the raw broker error message.
func WithBrokerMessage(msg string) Option {
	return func(e *E) {
		e.BrokerMsg = msg
	}
}

// WithOrderID associates the error with a client order id.
func WithOrderID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.OrderID = trimmed
	}
}

// WithSessionID associates the error with a session id.
func WithSessionID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.SessionID = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.OrderID != "" {
		parts = append(parts, "order="+e.OrderID)
	}
	if e.SessionID != "" {
		parts = append(parts, "session="+e.SessionID)
	}
	if e.BrokerCode != "" {
		parts = append(parts, "broker_code="+e.BrokerCode)
	}
	if e.Message != "" {
		parts = append(parts, "msg="+e.Message)
	} else if e.BrokerMsg != "" {
		parts = append(parts, "msg="+e.BrokerMsg)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+e.cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// CodeOf extracts the error code from err when it carries one.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if structured, ok := err.(*E); ok {
		return structured.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
