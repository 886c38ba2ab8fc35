package binder

import (
	"errors"
	"testing"

	internaldriver "github.com/mjkern/gobinder/internal/driver"
	"github.com/mjkern/gobinder/internal/registry"
)

func TestNewError(t *testing.T) {
	err := NewError("Transact", CodeInvalidArgument, "bad handle")

	if err.Op != "Transact" {
		t.Errorf("Expected Op=Transact, got %s", err.Op)
	}
	if err.Code != CodeInvalidArgument {
		t.Errorf("Expected Code=CodeInvalidArgument, got %s", err.Code)
	}

	expected := "binder: Transact: bad handle"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithoutOp(t *testing.T) {
	err := NewError("", CodeStale, "")
	if err.Error() != "binder: stale" {
		t.Errorf("Expected message to fall back to the code, got %q", err.Error())
	}
}

func TestWrapErrorClassifiesSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"dead", internaldriver.ErrDead, CodeDeadObject},
		{"configuration", internaldriver.ErrConfiguration, CodeConfiguration},
		{"invalid argument", internaldriver.ErrInvalidArgument, CodeInvalidArgument},
		{"unknown local object", registry.ErrUnknownLocalObject, CodeUnexpectedMessage},
		{"foreign driver", registry.ErrForeignDriver, CodeInvalidArgument},
		{"unrecognized", errors.New("boom"), CodeGenericFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", tc.err)
			if wrapped.Code != tc.want {
				t.Errorf("WrapError(%v) code = %s, want %s", tc.err, wrapped.Code, tc.want)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Error("wrapped error should unwrap to the original via errors.Is")
			}
		})
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	original := NewError("Inner", CodeCancelled, "cancelled by caller")
	wrapped := WrapError("Outer", original)

	if wrapped.Code != CodeCancelled {
		t.Errorf("Expected code to carry through, got %s", wrapped.Code)
	}
	if wrapped.Op != "Outer" {
		t.Errorf("Expected Op to be overwritten by WrapError, got %s", wrapped.Op)
	}
}

func TestErrorIsMatchesCodeSentinel(t *testing.T) {
	err := NewError("Transact", CodeDeadObject, "peer exited")

	if !errors.Is(err, ErrDeadObject) {
		t.Error("Error should match the Code sentinel for its category")
	}
	if errors.Is(err, ErrInvalidArgument) {
		t.Error("Error should not match an unrelated Code sentinel")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Test", CodeStale, "object generation changed")

	if !IsCode(err, CodeStale) {
		t.Error("IsCode should return true for a matching code")
	}
	if IsCode(err, CodeCancelled) {
		t.Error("IsCode should return false for a non-matching code")
	}
	if IsCode(nil, CodeStale) {
		t.Error("IsCode should return false for a nil error")
	}
}
