package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesWrappedCode(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(cause, CodeUnavailable, "store unreachable")

	wrapped := fmt.Errorf("transition failed: %w", err)

	if !Is(wrapped, CodeUnavailable) {
		t.Fatalf("expected CodeUnavailable to match through the chain")
	}
	if Is(wrapped, CodeNotFound) {
		t.Fatalf("did not expect CodeNotFound to match")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected cause to survive wrapping")
	}
}

func TestHasCodeFallsBackToInternal(t *testing.T) {
	if got := HasCode(errors.New("plain")); got != CodeInternal {
		t.Fatalf("expected internal fallback, got %s", got)
	}
	if got := HasCode(New(CodeConflict, "dup")); got != CodeConflict {
		t.Fatalf("expected conflict, got %s", got)
	}
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:   http.StatusBadRequest,
		CodeInvalidInput: http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeUnavailable:  http.StatusServiceUnavailable,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := ToHTTPStatus(code); got != want {
			t.Fatalf("code %s: expected %d, got %d", code, want, got)
		}
	}
}
