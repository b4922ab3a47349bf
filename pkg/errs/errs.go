// Package errs provides the structured error envelope shared by gateway components.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a gateway error category.
type Code string

const (
	// CodeValidation marks a malformed or unsupported client payload.
	CodeValidation Code = "validation"
	// CodeInvalidToken marks a subscription to a token outside the supported set.
	CodeInvalidToken Code = "invalid_token"
	// CodeUnknownSubscription marks an unsubscribe for an id that is not active.
	CodeUnknownSubscription Code = "unknown_subscription"
	// CodeUpstream marks a network or chain-client failure.
	CodeUpstream Code = "upstream_transport"
	// CodeApplication marks a transaction rejected by the chain.
	CodeApplication Code = "application"
	// CodeStartup marks missing or invalid material needed to serve clients.
	CodeStartup Code = "startup"
)

// E is an error envelope carrying the failing component, a category code and
// the client-facing message.
type E struct {
	Component string
	Code      Code
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and code.
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

// WithMessage attaches the human-readable message replied to clients.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
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
	component := e.Component
	if component == "" {
		component = "unknown"
	}
	parts := []string{"component=" + component, "code=" + string(e.Code)}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries an envelope with the given code.
func Is(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Message returns the client-facing message of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var e *E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
