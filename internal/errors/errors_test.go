package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestWriteError_FormatsContext(t *testing.T) {
	cause := fmt.Errorf("rename failed")
	err := NewWriteError("/tmp/doc.json", 3, cause).WithWriter("s1")

	msg := err.Error()
	for _, want := range []string{"3 attempts", "path=/tmp/doc.json", "writer=s1", "rename failed"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
	if Unwrap(err) != cause {
		t.Errorf("Unwrap() did not return the cause")
	}
}

func TestIsCorruption(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"corrupted", Wrap(ErrCorrupted, "load"), true},
		{"round trip", fmt.Errorf("persist: %w", ErrRoundTrip), true},
		{"wrapped in write error", NewWriteError("p", 2, ErrRoundTrip), true},
		{"io", fmt.Errorf("disk full"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCorruption(tt.err); got != tt.want {
				t.Errorf("IsCorruption() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"io", fmt.Errorf("resource busy"), true},
		{"corruption", ErrRoundTrip, true},
		{"abort", Wrap(ErrAbortUpdate, "no change"), false},
		{"validation", NewValidationError("role", "", "must not be empty"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(Wrapf(ErrVersionNotFound, "version %d", 7)) {
		t.Error("expected version-not-found to classify as not found")
	}
	if IsNotFound(ErrIntegrity) {
		t.Error("integrity failure is not a not-found error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "ctx") != nil || Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("wrapping nil should return nil")
	}
}
