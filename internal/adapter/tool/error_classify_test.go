package tool

import (
	"errors"
	"fmt"
	"testing"

	"conductor-ai/internal/domain"
)

func TestClassifyToolError_Nil(t *testing.T) {
	if classifyToolError(nil) {
		t.Error("expected nil error to be non-retryable")
	}
}

func TestClassifyToolError_RetryableSentinels(t *testing.T) {
	sentinels := []struct {
		name     string
		sentinel error
	}{
		{"ErrTimeout", domain.ErrTimeout},
		{"ErrProviderError", domain.ErrProviderError},
		{"ErrUnavailable", domain.ErrUnavailable},
		{"ErrRateLimit", domain.ErrRateLimit},
		{"ErrContextOverflow", domain.ErrContextOverflow},
		{"ErrUpstreamFailure", domain.ErrUpstreamFailure},
		{"ErrSandboxStale", domain.ErrSandboxStale},
	}
	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			if !classifyToolError(tt.sentinel) {
				t.Errorf("expected %s to be retryable", tt.name)
			}
		})
	}
}

func TestClassifyToolError_WrappedRetryableSentinels(t *testing.T) {
	wrapped := fmt.Errorf("fetch https://example.com: %w", domain.ErrTimeout)
	if !classifyToolError(wrapped) {
		t.Error("expected wrapped ErrTimeout to be retryable")
	}

	doubleWrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", domain.ErrUnavailable))
	if !classifyToolError(doubleWrapped) {
		t.Error("expected double-wrapped ErrUnavailable to be retryable")
	}
}

func TestClassifyToolError_PermanentSentinels(t *testing.T) {
	permanents := []struct {
		name     string
		sentinel error
	}{
		{"ErrNotFound", domain.ErrNotFound},
		{"ErrDuplicate", domain.ErrDuplicate},
		{"ErrInvalidInput", domain.ErrInvalidInput},
		{"ErrLimitReached", domain.ErrLimitReached},
		{"ErrToolNotFound", domain.ErrToolNotFound},
		{"ErrAgentNotFound", domain.ErrAgentNotFound},
		{"ErrAuthInvalid", domain.ErrAuthInvalid},
		{"ErrSSRFBlocked", domain.ErrSSRFBlocked},
		{"ErrPathOutsideWorkspace", domain.ErrPathOutsideWorkspace},
		{"ErrCommandNotAllowed", domain.ErrCommandNotAllowed},
		{"ErrSendNotConfirmed", domain.ErrSendNotConfirmed},
		{"ErrRecipientBlocked", domain.ErrRecipientBlocked},
		{"ErrSandboxBusy", domain.ErrSandboxBusy},
	}
	for _, tt := range permanents {
		t.Run(tt.name, func(t *testing.T) {
			if classifyToolError(tt.sentinel) {
				t.Errorf("expected %s to be non-retryable (permanent)", tt.name)
			}
		})
	}
}

func TestClassifyToolError_StringPatterns(t *testing.T) {
	retryables := []struct {
		name string
		err  string
	}{
		{"connection refused", "dial tcp 127.0.0.1:11434: connection refused"},
		{"connection reset", "read tcp 10.0.0.1:443: connection reset by peer"},
		{"no such host", "dial tcp: lookup api.github.test: no such host"},
		{"timeout", "http: request timeout after 30s"},
		{"deadline exceeded", "context deadline exceeded"},
		{"temporarily unavailable", "resource temporarily unavailable"},
		{"service unavailable", "HTTP 503: service unavailable"},
		{"try again", "server busy, please try again later"},
		{"too many requests", "HTTP 429: Too Many Requests"},
	}
	for _, tt := range retryables {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.err)
			if !classifyToolError(err) {
				t.Errorf("expected %q to be retryable", tt.err)
			}
		})
	}
}

func TestClassifyToolError_NonRetryableStrings(t *testing.T) {
	permanents := []struct {
		name string
		err  string
	}{
		{"not found", "repository acme/widgets not found"},
		{"permission denied", "permission denied: /etc/shadow"},
		{"invalid argument", "invalid repository format"},
		{"already exists", "session already exists: 01J9"},
		{"generic error", "something completely unexpected happened"},
		{"empty message", ""},
	}
	for _, tt := range permanents {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.err)
			if classifyToolError(err) {
				t.Errorf("expected %q to be non-retryable", tt.err)
			}
		})
	}
}

func TestClassifyToolError_WrappedWithRetryablePattern(t *testing.T) {
	// A non-sentinel error whose message contains a retryable pattern.
	inner := errors.New("dial tcp 10.0.0.1:443: connection refused")
	wrapped := fmt.Errorf("github request: %w", inner)
	if !classifyToolError(wrapped) {
		t.Error("expected wrapped connection refused to be retryable")
	}
}

func TestClassifyToolError_DomainErrorWithRetryableSentinel(t *testing.T) {
	// DomainError wrapping a retryable sentinel.
	derr := domain.NewDomainError("ScrapeTool.fetch", domain.ErrTimeout, "example.com timed out")
	if !classifyToolError(derr) {
		t.Error("expected DomainError wrapping ErrTimeout to be retryable")
	}
}

func TestClassifyToolError_DomainErrorWithPermanentSentinel(t *testing.T) {
	derr := domain.NewDomainError("EmailTool.send", domain.ErrRecipientBlocked, "evil.example")
	if classifyToolError(derr) {
		t.Error("expected DomainError wrapping ErrRecipientBlocked to be non-retryable")
	}
}
