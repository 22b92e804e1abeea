package facetrack

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := newError(KindIDNotFound, "Name", "identity %d not found", 7)

	if !errors.Is(err, ErrIDNotFound) {
		t.Error("Expected errors.Is to match ErrIDNotFound")
	}
	if errors.Is(err, ErrFaceIDNotFound) {
		t.Error("Did not expect a match with ErrFaceIDNotFound")
	}

	wrapped := fmt.Errorf("lookup failed: %w", err)
	if !errors.Is(wrapped, ErrIDNotFound) {
		t.Error("Expected wrapped error to match ErrIDNotFound")
	}
	if KindOf(wrapped) != KindIDNotFound {
		t.Errorf("Expected KindIDNotFound, got %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindFailed {
		t.Error("Expected foreign errors to classify as KindFailed")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindSyntaxError, Op: "SetParameters", Message: "missing '='", Offset: 3}
	msg := err.Error()
	for _, want := range []string{"SetParameters", "SyntaxError", "missing '='", "offset 3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
}

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindFailed, -1},
		{KindInvalidArgument, -4},
		{KindBadFormat, -12},
		{KindIDNotFound, -18},
		{KindSyntaxError, -23},
		{KindParameterNotFound, -24},
		{KindFaceIDNotFound, -32},
		{KindNotLocked, -41},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.code {
				t.Errorf("Expected code %d, got %d", tt.code, got)
			}
			if got := KindFromCode(tt.code); got != tt.kind {
				t.Errorf("Expected kind %v for code %d, got %v", tt.kind, tt.code, got)
			}
		})
	}

	if KindFromCode(-999) != KindFailed {
		t.Error("Expected unknown codes to map to KindFailed")
	}
}

func TestKindCodesUnique(t *testing.T) {
	seen := make(map[int]Kind)
	for k, info := range kindInfo {
		if other, dup := seen[info.code]; dup {
			t.Errorf("Code %d used by %v and %v", info.code, k, other)
		}
		seen[info.code] = k
	}
}

func TestErrorOffset(t *testing.T) {
	if got := ErrorOffset(errors.New("x")); got != -1 {
		t.Errorf("Expected -1 for foreign errors, got %d", got)
	}
	err := withOffset(newError(KindParameterNotFound, "SetParameter", "unknown"), 14)
	if got := ErrorOffset(err); got != 14 {
		t.Errorf("Expected offset 14, got %d", got)
	}
}

func TestErrorPolicy(t *testing.T) {
	boom := newError(KindFailed, "FeedFrame", "boom")

	t.Run("return", func(t *testing.T) {
		if err := (ErrorPolicy{}).Check(boom); err != boom {
			t.Errorf("Expected error returned unchanged, got %v", err)
		}
	})

	t.Run("alert", func(t *testing.T) {
		var alerted error
		p := ErrorPolicy{Mode: ModeAlert, Alert: func(err error) { alerted = err }}
		if err := p.Check(boom); err != nil {
			t.Errorf("Expected alert mode to swallow the error, got %v", err)
		}
		if alerted != boom {
			t.Errorf("Expected alert callback with the error, got %v", alerted)
		}
	})

	t.Run("alert without callback", func(t *testing.T) {
		if err := (ErrorPolicy{Mode: ModeAlert}).Check(boom); err != boom {
			t.Errorf("Expected error returned when no callback is set, got %v", err)
		}
	})

	t.Run("silent", func(t *testing.T) {
		if err := (ErrorPolicy{Mode: ModeSilent}).Check(boom); err != nil {
			t.Errorf("Expected silent mode to swallow the error, got %v", err)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if err := (ErrorPolicy{Mode: ModeAlert}).Check(nil); err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})
}
