// Package reader turns the streams of a source into records for any
// number of concurrent workers.
//
// The mode is chosen once, when the reader is opened:
//
//   - ModeShared: workers share one parser over the current stream and
//     take turns on the stream lock.
//   - ModeSplit: workers split entities off the shared stream under its
//     lock and decode them in parallel.
//   - ModePerStream: every worker claims a stream of its own.
package reader

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/logflow/recsplit/pkg/boundary"
	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/validation"
)

// Defaults for BatchReader.
const (
	DefaultQueueCapacity = 128
	DefaultOfferTimeout  = 10 * time.Second
	DefaultPollInterval  = time.Second
)

// Mode is the concurrency strategy of a Reader.
type Mode int

const (
	ModeUnset Mode = iota
	ModeShared
	ModeSplit
	ModePerStream
)

func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeSplit:
		return "split"
	case ModePerStream:
		return "per-stream"
	default:
		return "unset"
	}
}

// Listener observes entity extraction and maps each record onto R.
// ProcessLine and Context are only called when a start pattern is set;
// otherwise Process receives a nil context.
type Listener[R any] interface {
	boundary.Listener
	Process(rec *codec.Record, ctx any) (R, error)
}

// Reader coordinates workers reading records of type R from a source.
type Reader[R any] struct {
	src      *source.Source
	cdc      codec.Codec
	typ      codec.RecordType
	detector *boundary.Detector
	listener Listener[R]
	validate validation.Factory
	logger   *log.Logger

	mu     sync.Mutex
	mode   Mode
	shared parser
}

// RecordReader yields parsed records as they are.
type RecordReader = Reader[*codec.Record]

// New creates a reader. Without a listener R must be *codec.Record (or
// an interface it satisfies).
func New[R any](src *source.Source, cdc codec.Codec, typ codec.RecordType, opts ...Option) (*Reader[R], error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	r := &Reader[R]{
		src:      src,
		cdc:      cdc,
		typ:      typ,
		validate: s.validators,
		logger:   s.logger,
	}

	if s.listener != nil {
		l, ok := s.listener.(Listener[R])
		if !ok {
			return nil, errors.New(errors.CodeInvalidFormat, "listener does not produce the reader's record type").
				WithContext("listener", fmt.Sprintf("%T", s.listener))
		}
		r.listener = l
	} else if _, ok := any((*codec.Record)(nil)).(R); !ok {
		var zero R
		return nil, errors.New(errors.CodeInvalidFormat, "a listener is required to produce this record type").
			WithContext("type", fmt.Sprintf("%T", zero))
	}

	if s.start != "" {
		dopts := []boundary.Option{boundary.WithLineReader(s.lineReader), boundary.WithMaxSize(s.maxEntity)}
		if r.listener != nil {
			dopts = append(dopts, boundary.WithListener(r.listener))
		}
		d, err := boundary.New(s.start, s.stop, dopts...)
		if err != nil {
			return nil, err
		}
		r.detector = d
	}
	return r, nil
}

// NewRecordReader creates a reader of plain records.
func NewRecordReader(src *source.Source, cdc codec.Codec, typ codec.RecordType, opts ...Option) (*RecordReader, error) {
	return New[*codec.Record](src, cdc, typ, opts...)
}

// Open initialises the source and fixes the mode.
func (r *Reader[R]) Open(ctx context.Context, p params.Params) error {
	if err := r.src.Initialise(ctx, p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.src.MultipleThreadsPerReader():
		r.mode = ModePerStream
	case r.detector != nil:
		r.mode = ModeSplit
	default:
		r.mode = ModeShared
	}
	return nil
}

// Mode returns the mode chosen by Open.
func (r *Reader[R]) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Source returns the underlying source.
func (r *Reader[R]) Source() *source.Source { return r.src }

// Close closes the source. In-flight reads observe exhaustion.
func (r *Reader[R]) Close() error {
	return r.src.Close()
}

// NewWorker returns a worker for one goroutine. Open must have been
// called.
func (r *Reader[R]) NewWorker() *Worker[R] {
	w := &Worker[R]{r: r, mode: r.Mode()}
	if r.validate != nil {
		w.validator = validation.NewProcessor(r.validate, true).NewWorker()
	}
	return w
}

// sharedParser returns the shared parser, building one over the current
// stream when there is none.
func (r *Reader[R]) sharedParser() parser {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shared != nil {
		return r.shared
	}
	st := r.src.Reader()
	if st == nil {
		return nil
	}
	r.shared = syncParser{newStreamParser(st, r.cdc, r.typ)}
	return r.shared
}

// discardShared retires p once, however many workers report it.
func (r *Reader[R]) discardShared(p parser, cause error) {
	r.mu.Lock()
	owner := r.shared == p
	if owner {
		r.shared = nil
	}
	r.mu.Unlock()

	if owner && p.finish() {
		r.discard(p.stream(), cause)
	}
}

func (r *Reader[R]) emit(v *validation.ProcessorWorker, rec *codec.Record, ectx any) (R, error) {
	var zero R
	if v != nil {
		if _, err := v.Process(rec); err != nil {
			return zero, err
		}
	}
	if r.listener != nil {
		return r.listener.Process(rec, ectx)
	}
	return any(rec).(R), nil
}

func (r *Reader[R]) discard(st *source.Stream, cause error) {
	if cause != nil {
		r.logger.Printf("WARN: discarding stream %s: %v", st.Name(), cause)
	}
	r.src.Discard(st)
}

// Worker reads records for a single goroutine. It is not safe for
// concurrent use.
type Worker[R any] struct {
	r    *Reader[R]
	mode Mode

	// parser decodes a claimed stream directly (ModePerStream without a
	// start pattern).
	parser parser
	// entities splits entities off a stream (ModeSplit, or ModePerStream
	// with a start pattern).
	entities *entityParser

	validator *validation.ProcessorWorker
}

// Read returns the next value, or io.EOF when every stream is
// exhausted.
func (w *Worker[R]) Read(ctx context.Context) (R, error) {
	rec, ectx, err := w.next(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	return w.emit(rec, ectx)
}

// next returns the next parsed record and its entity context.
func (w *Worker[R]) next(ctx context.Context) (*codec.Record, any, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		var (
			rec  *codec.Record
			ectx any
			done bool
			err  error
		)
		switch w.mode {
		case ModeShared:
			rec, done, err = w.readShared()
		case ModeSplit:
			rec, ectx, done, err = w.readSplit()
		case ModePerStream:
			if w.r.detector != nil {
				rec, ectx, done, err = w.readOwnEntities()
			} else {
				rec, done, err = w.readOwnStream()
			}
		default:
			return nil, nil, errors.New(errors.CodeInvalidFormat, "reader is not open")
		}

		if err != nil {
			return nil, nil, err
		}
		if done {
			return nil, nil, io.EOF
		}
		if rec != nil {
			return rec, ectx, nil
		}
	}
}

// readShared reads from the shared parser. A nil record with done false
// asks the caller to retry.
func (w *Worker[R]) readShared() (*codec.Record, bool, error) {
	p := w.r.sharedParser()
	if p == nil {
		return nil, true, nil
	}

	rec, out, err := p.next()
	switch out {
	case outcomeRecord:
		return rec, false, nil
	case outcomeEnd:
		w.r.discardShared(p, nil)
		return nil, false, nil
	case outcomeResource:
		w.r.discardShared(p, err)
		return nil, false, &ResourceError{Source: p.stream().Name(), Cause: err}
	default:
		w.r.discardShared(p, err)
		return nil, false, &ParseError{Source: p.stream().Name(), Cause: err}
	}
}

func (w *Worker[R]) readSplit() (*codec.Record, any, bool, error) {
	if w.entities == nil || w.entities.finished() {
		st := w.r.src.Reader()
		if st == nil {
			return nil, nil, true, nil
		}
		w.entities = newEntityParser(st, w.r.detector, w.r.cdc, w.r.typ)
	}
	return w.readEntity()
}

func (w *Worker[R]) readOwnEntities() (*codec.Record, any, bool, error) {
	if w.entities != nil {
		st := w.entities.stream()
		ready, err := w.ready(st)
		if err != nil {
			w.dropEntities()
			return nil, nil, false, &ResourceError{Source: st.Name(), Cause: err}
		}
		if !ready {
			w.dropEntities()
		}
	}
	if w.entities == nil {
		st := w.r.src.NextReader()
		if st == nil {
			return nil, nil, true, nil
		}
		w.entities = newEntityParser(st, w.r.detector, w.r.cdc, w.r.typ)
	}
	return w.readEntity()
}

// readEntity extracts and decodes one entity. Only the entity fails on a
// parse error; the detector has already moved on to the next start line.
func (w *Worker[R]) readEntity() (*codec.Record, any, bool, error) {
	p := w.entities
	st := p.stream()

	ent, err := p.readEntity()
	if err != nil {
		if errors.IsCode(err, errors.CodeEntityTooLarge) {
			return nil, nil, false, &ParseError{Source: st.Name(), Cause: err}
		}
		if p.finish() {
			w.r.discard(st, err)
		}
		w.entities = nil
		return nil, nil, false, &ResourceError{Source: st.Name(), Cause: err}
	}
	if ent.Empty() {
		w.dropEntities()
		return nil, nil, false, nil
	}

	rec, out, err := p.decode(ent)
	switch out {
	case outcomeRecord:
		return rec, ent.Context, false, nil
	case outcomeEnd:
		w.dropEntities()
		return nil, nil, false, nil
	default:
		return nil, nil, false, &ParseError{Source: st.Name(), Entity: ent.Text, Cause: err}
	}
}

func (w *Worker[R]) readOwnStream() (*codec.Record, bool, error) {
	if w.parser != nil {
		st := w.parser.stream()
		ready, err := w.ready(st)
		if err != nil {
			w.release()
			return nil, false, &ResourceError{Source: st.Name(), Cause: err}
		}
		if !ready {
			w.release()
		}
	}
	if w.parser == nil {
		st := w.r.src.NextReader()
		if st == nil {
			return nil, true, nil
		}
		w.parser = newStreamParser(st, w.r.cdc, w.r.typ)
	}

	p := w.parser
	rec, out, err := p.next()
	switch out {
	case outcomeRecord:
		return rec, false, nil
	case outcomeEnd:
		w.release()
		return nil, false, nil
	default:
		if p.finish() {
			w.r.discard(p.stream(), err)
		}
		w.parser = nil
		if out == outcomeResource {
			return nil, false, &ResourceError{Source: p.stream().Name(), Cause: err}
		}
		return nil, false, &ParseError{Source: p.stream().Name(), Cause: err}
	}
}

// ready checks st under its lock. A stream that stopped on a source
// error reports it.
func (w *Worker[R]) ready(st *source.Stream) (bool, error) {
	st.Lock()
	defer st.Unlock()
	if st.Ready() {
		return true, nil
	}
	return false, st.Splitter().Err()
}

// release discards the worker's own stream.
func (w *Worker[R]) release() {
	if w.parser != nil {
		if w.parser.finish() {
			w.r.src.Discard(w.parser.stream())
		}
		w.parser = nil
	}
}

// emit validates rec and maps it onto R.
func (w *Worker[R]) emit(rec *codec.Record, ectx any) (R, error) {
	return w.r.emit(w.validator, rec, ectx)
}

// dropEntities forgets the worker's entity parser. A claimed stream is
// discarded with it; a shared one is left to the source.
func (w *Worker[R]) dropEntities() {
	if w.entities == nil {
		return
	}
	if w.entities.finish() && w.mode == ModePerStream {
		w.r.src.Discard(w.entities.stream())
	}
	w.entities = nil
}

// Close releases the worker's streams. Claimed streams are discarded.
func (w *Worker[R]) Close() {
	w.release()
	w.dropEntities()
}
