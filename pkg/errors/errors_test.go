package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type codedErr struct{ code Code }

func (c *codedErr) Error() string   { return "coded" }
func (c *codedErr) ErrorCode() Code { return c.code }

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeUnknown},
		{"plain", errors.New("x"), CodeUnknown},
		{"coded error", New(CodeParseFailed, "bad"), CodeParseFailed},
		{"wrapped coded", fmt.Errorf("outer: %w", New(CodeTimeout, "slow")), CodeTimeout},
		{"coder", &codedErr{code: CodeResource}, CodeResource},
		{"wrapped coder", fmt.Errorf("x: %w", &codedErr{code: CodeCompoundValidation}), CodeCompoundValidation},
	}

	for _, tt := range tests {
		if got := GetCode(tt.err); got != tt.want {
			t.Errorf("%s: GetCode() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CodeParseFailed, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeParseFailed, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("disk gone"), CodeWriteFailed, "write failed").
		WithContext("path", "/tmp/out").
		WithContext("attempt", 2)

	msg := err.Error()
	want := "[E301] write failed (attempt=2, path=/tmp/out): disk gone"
	if msg != want {
		t.Errorf("Error() = %q, want %q", msg, want)
	}
	if !IsCode(err, CodeWriteFailed) {
		t.Error("IsCode should match")
	}
	if !errors.Is(err, New(CodeWriteFailed, "other")) {
		t.Error("errors.Is should match by code")
	}
}

func TestMultiErrorCombined(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}

	first := errors.New("first")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("single error should be returned as-is")
	}

	m.Add(errors.New("second"))
	combined := m.Combined()
	if _, ok := combined.(*MultiError); !ok {
		t.Fatalf("expected *MultiError, got %T", combined)
	}
	if !strings.HasPrefix(combined.Error(), "2 errors occurred") {
		t.Errorf("unexpected message %q", combined.Error())
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(New(CodeTimeout, "x")) {
		t.Error("timeout should be fatal")
	}
	if IsFatal(New(CodeParseFailed, "x")) {
		t.Error("parse failure should not be fatal")
	}
}

func TestContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ContextCanceled("step load", ctx.Err())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("errors.Is(%v, context.Canceled) = false", err)
	}
	if !IsFatal(err) {
		t.Error("cancellation should be fatal")
	}
	if err.Context["operation"] != "step load" {
		t.Errorf("operation = %v, want step load", err.Context["operation"])
	}
}
