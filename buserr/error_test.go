package buserr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New("bus.publish", Overflow, errors.New("queue full"))

	if !Is(err, Overflow) {
		t.Error("expected Is to match Overflow kind")
	}
	if Is(err, NotFound) {
		t.Error("expected Is not to match NotFound kind")
	}
}

func TestErrorsIsAgainstSentinel(t *testing.T) {
	err := New("router.unsubscribe", NotFound, nil)

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match sentinel by kind")
	}
	if errors.Is(err, ErrShutdown) {
		t.Error("expected errors.Is not to match a different sentinel")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New("transport.send", NetworkError, cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{InvalidArgument, "invalid_argument"},
		{NotFound, "not_found"},
		{Shutdown, "shutdown"},
		{Overflow, "overflow"},
		{Timeout, "timeout"},
		{NetworkError, "network_error"},
		{ProtocolViolation, "protocol_violation"},
		{ResourceError, "resource_error"},
		{CallbackError, "callback_error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %q, want %q", got, tt.want)
			}
		})
	}
}
