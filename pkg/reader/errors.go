package reader

import (
	"fmt"

	"github.com/logflow/recsplit/pkg/errors"
)

// ParseError reports input that could not be turned into a record.
// Entity holds the offending text when a start pattern is in use.
type ParseError struct {
	Source string
	Entity string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("failed to parse entity from %s: %v", e.Source, e.Cause)
	}
	return fmt.Sprintf("failed to parse %s: %v", e.Source, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ErrorCode implements errors.Coder.
func (e *ParseError) ErrorCode() errors.Code { return errors.CodeParseFailed }

// ResourceError reports an I/O failure while reading a stream. Retrying
// does not help.
type ResourceError struct {
	Source string
	Cause  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("failed to read from %s: %v", e.Source, e.Cause)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// ErrorCode implements errors.Coder.
func (e *ResourceError) ErrorCode() errors.Code { return errors.CodeResource }

// TimeoutError reports that parsed records were not consumed in time.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string { return e.Msg }

// ErrorCode implements errors.Coder.
func (e *TimeoutError) ErrorCode() errors.Code { return errors.CodeTimeout }
