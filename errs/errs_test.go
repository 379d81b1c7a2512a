package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesComponentAndCode(t *testing.T) {
	err := New(
		"orders",
		CodeInvalidTransition,
		WithMessage("FILLED -> SENT not allowed"),
		WithOrderID("ord-123"),
	)

	out := err.Error()
	for _, want := range []string{"component=orders", "code=invalid_transition", "order=ord-123", "FILLED -> SENT"} {
		if !strings.Contains(out, want) {
			t.Fatalf("error string missing %q: %s", want, out)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("broker", CodeBrokerComm, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("cause not rendered: %s", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New("risk", CodeInvalidConfig)); got != CodeInvalidConfig {
		t.Fatalf("CodeOf = %q, want %q", got, CodeInvalidConfig)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
	if !IsCode(New("orders", CodeConflict), CodeConflict) {
		t.Fatalf("IsCode should match")
	}
}
