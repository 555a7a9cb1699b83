package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedExtraction(t *testing.T) {
	t.Parallel()

	inner := NewNotFoundError("flow not found")
	wrapped := fmt.Errorf("handling request: %w", inner)

	if !IsErrorCode(wrapped, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND through wrapping")
	}
	e, ok := AsError(wrapped)
	if !ok || e.Message != "flow not found" {
		t.Fatalf("AsError mismatch: %v %v", e, ok)
	}
	if IsErrorCode(errors.New("plain"), ErrNotFound) {
		t.Fatalf("plain error should carry no code")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain error should yield empty code")
	}
}
