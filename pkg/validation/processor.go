package validation

import "github.com/logflow/recsplit/pkg/codec"

// Processor validates records on behalf of a step. Each worker takes its
// own ProcessorWorker, which holds a private validator.
type Processor struct {
	factory  Factory
	failFast bool
}

// NewProcessor creates a processor. With failFast the first failure is
// returned; otherwise every failure of a record is collected.
func NewProcessor(factory Factory, failFast bool) *Processor {
	return &Processor{factory: factory, failFast: failFast}
}

// NewWorker returns a worker with a fresh validator.
func (p *Processor) NewWorker() *ProcessorWorker {
	return &ProcessorWorker{validator: p.factory(), failFast: p.failFast}
}

// ProcessorWorker validates records for a single goroutine.
type ProcessorWorker struct {
	validator Validator
	failFast  bool
	collector collector
}

// Process returns rec unchanged when it is valid. A single failure is a
// *ValidationError; two or more in aggregate mode are a
// *CompoundValidationError.
func (w *ProcessorWorker) Process(rec *codec.Record) (*codec.Record, error) {
	if w.failFast {
		if err := w.validator.ValidateStrict(rec); err != nil {
			return nil, &ValidationError{Record: rec, Cause: err}
		}
		return rec, nil
	}

	w.collector.failed = w.collector.failed[:0]
	if w.validator.ValidateEvents(rec, &w.collector) {
		return rec, nil
	}

	failed := w.collector.failed
	switch len(failed) {
	case 0:
		return rec, nil
	case 1:
		return nil, &ValidationError{Record: rec, Cause: failed[0].Err}
	default:
		events := make([]Event, len(failed))
		copy(events, failed)
		return nil, &CompoundValidationError{Record: rec, Events: events}
	}
}

// collector keeps failed events.
type collector struct {
	failed []Event
}

func (c *collector) Passed(Event)    {}
func (c *collector) Failed(ev Event) { c.failed = append(c.failed, ev) }
