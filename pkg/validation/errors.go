package validation

import (
	"fmt"
	"strings"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
)

// ValidationError reports a record that failed exactly one check, or the
// first check in fail-fast mode.
type ValidationError struct {
	Record *codec.Record
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ErrorCode implements errors.Coder.
func (e *ValidationError) ErrorCode() errors.Code { return errors.CodeValidationFailed }

// CompoundValidationError reports a record that failed two or more checks.
// It has no single cause; Events holds every failure in rule order.
type CompoundValidationError struct {
	Record *codec.Record
	Events []Event
}

func (e *CompoundValidationError) Error() string {
	msgs := make([]string, len(e.Events))
	for i, ev := range e.Events {
		msgs[i] = ev.Err.Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Events), strings.Join(msgs, "; "))
}

// ErrorCode implements errors.Coder.
func (e *CompoundValidationError) ErrorCode() errors.Code { return errors.CodeCompoundValidation }
