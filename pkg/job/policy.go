// Package job runs steps: records flow from a reader through optional
// validation into a writer in chunks, with counts, error policy,
// metrics, spans and a persisted step execution.
package job

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/validation"
)

// ErrorPolicy decides what a step does with a failed record.
type ErrorPolicy uint8

const (
	// ErrorPolicyStrict fails the step on the first failed record.
	ErrorPolicyStrict ErrorPolicy = iota
	// ErrorPolicySkip counts and quarantines failed records and goes on.
	ErrorPolicySkip
)

func (p ErrorPolicy) String() string {
	if p == ErrorPolicySkip {
		return "skip"
	}
	return "strict"
}

// ParseErrorPolicy parses "strict" or "skip".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return ErrorPolicyStrict, nil
	case "skip":
		return ErrorPolicySkip, nil
	default:
		return 0, errors.InvalidFormat("error policy", s)
	}
}

// Failure is a record, or a read, that a step skipped.
type Failure struct {
	Time    time.Time
	Step    string
	Code    errors.Code
	Message string
	Record  *codec.Record
}

func newFailure(step string, err error) Failure {
	f := Failure{
		Time:    time.Now(),
		Step:    step,
		Code:    errors.GetCode(err),
		Message: err.Error(),
	}

	var ve *validation.ValidationError
	var ce *validation.CompoundValidationError
	switch {
	case stderrors.As(err, &ve):
		f.Record = ve.Record
	case stderrors.As(err, &ce):
		f.Record = ce.Record
	}
	return f
}

// handler applies an error policy and counts skips.
type handler struct {
	policy     ErrorPolicy
	maxSkips   int64
	quarantine Quarantine
	step       string

	mu    sync.Mutex
	skips int64
}

// handle returns nil when err was skipped, or the error that must stop
// the step.
func (h *handler) handle(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return errors.ContextCanceled("step "+h.step, cerr)
	}
	if h.policy == ErrorPolicyStrict || errors.IsFatal(err) {
		return err
	}

	h.mu.Lock()
	h.skips++
	skips := h.skips
	h.mu.Unlock()

	if h.quarantine != nil {
		if qerr := h.quarantine.Add(newFailure(h.step, err)); qerr != nil {
			return qerr
		}
	}
	if h.maxSkips > 0 && skips > h.maxSkips {
		return errors.Wrapf(err, errors.GetCode(err), "skip limit of %d exceeded", h.maxSkips)
	}
	return nil
}

func (h *handler) skipped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.skips
}
