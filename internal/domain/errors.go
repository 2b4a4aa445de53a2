package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Specific errors wrap one of these so callers can
// match broad classes with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrTimeout       = errors.New("operation timed out")
	ErrInvalidInput  = errors.New("invalid input")
	ErrLimitReached  = errors.New("limit reached")
	ErrProviderError = errors.New("provider error")
	ErrUnavailable   = errors.New("temporarily unavailable")
)

// Specific sentinels.
var (
	// Tools and routing.
	ErrToolNotFound  = fmt.Errorf("tool %w", ErrNotFound)
	ErrAgentNotFound = fmt.Errorf("agent %w", ErrNotFound)
	ErrMaxIterations = fmt.Errorf("max iterations %w", ErrLimitReached)

	// Providers.
	ErrProviderNotFound = fmt.Errorf("provider %w", ErrNotFound)
	ErrRateLimit        = fmt.Errorf("rate limit: %w", ErrProviderError)
	ErrAuthInvalid      = errors.New("authentication invalid")
	ErrContextOverflow  = fmt.Errorf("context window overflow: %w", ErrProviderError)
	ErrUpstreamFailure  = fmt.Errorf("upstream failure: %w", ErrProviderError)
	ErrEmbeddingFailed  = fmt.Errorf("embedding failed: %w", ErrProviderError)

	// Security boundaries.
	ErrSSRFBlocked          = errors.New("request blocked: private or reserved address")
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	ErrCommandNotAllowed    = errors.New("command not in allowlist")

	// Sandbox pool.
	ErrSandboxStale = fmt.Errorf("sandbox instance stale: %w", ErrUnavailable)
	ErrSandboxBusy  = fmt.Errorf("sandbox busy: %w", ErrLimitReached)

	// Email safety rails.
	ErrSendNotConfirmed = fmt.Errorf("send not confirmed: %w", ErrInvalidInput)
	ErrRecipientBlocked = fmt.Errorf("recipient domain not allowed: %w", ErrInvalidInput)

	// Storage.
	ErrIndexStore      = errors.New("code index storage error")
	ErrHistoryStore    = errors.New("history storage error")
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
)

// DomainError attaches the failing operation and optional detail to a
// sentinel, preserving errors.Is/As matching through Unwrap.
type DomainError struct {
	Op     string // operation, e.g. "Registry.Register"
	Err    error  // wrapped sentinel or cause
	Detail string // optional human context
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError builds a DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp wraps err with an operation name, preserving nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DomainError{Op: op, Err: err}
}

// IsRetryable reports whether an operation that failed with err is
// worth retrying. Rate limits, timeouts and transient upstream errors
// qualify; validation and auth failures do not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthInvalid), errors.Is(err, ErrInvalidInput):
		return false
	case errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrUpstreamFailure):
		return true
	}
	return false
}

// ErrorCode maps an error to a stable machine-readable code for wire
// responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, ErrAuthInvalid):
		return "auth_invalid"
	case errors.Is(err, ErrContextOverflow):
		return "context_overflow"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "internal"
}
