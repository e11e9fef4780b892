package reader

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/logflow/recsplit/pkg/boundary"
	"github.com/logflow/recsplit/pkg/codec"
	rserrors "github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/splitter"
)

// outcome classifies one codec call.
type outcome int

const (
	outcomeRecord outcome = iota
	// outcomeEnd is ordinary exhaustion: end of input, an empty record,
	// or the codec having closed its own stream.
	outcomeEnd
	outcomeFatal
	// outcomeResource is a source read failure; the error is the
	// splitter's.
	outcomeResource
)

func classify(rec *codec.Record, err error) outcome {
	switch {
	case err == nil && !rec.Empty():
		return outcomeRecord
	case err == nil, err == io.EOF:
		return outcomeEnd
	case errors.Is(err, splitter.ErrClosed), errors.Is(err, fs.ErrClosed):
		return outcomeEnd
	default:
		return outcomeFatal
	}
}

// parser decodes records from one stream.
type parser interface {
	next() (*codec.Record, outcome, error)
	stream() *source.Stream
	// finish marks the parser finished and reports whether this call did
	// it. Once finished a parser stays finished.
	finish() bool
	finished() bool
}

// streamParser runs a codec directly over a stream.
type streamParser struct {
	st   *source.Stream
	dec  codec.Decoder
	done atomic.Bool
}

func newStreamParser(st *source.Stream, cdc codec.Codec, typ codec.RecordType) *streamParser {
	return &streamParser{st: st, dec: cdc.NewDecoder(st.Splitter(), typ)}
}

// next decodes one record. A source error closes the splitter, so
// workers sharing the parser see it once.
func (p *streamParser) next() (*codec.Record, outcome, error) {
	if p.done.Load() {
		return nil, outcomeEnd, nil
	}
	rec, err := p.dec.Decode()
	out := classify(rec, err)
	if out == outcomeFatal {
		sp := p.st.Splitter()
		if ioErr := sp.Err(); ioErr != nil {
			sp.Close()
			return nil, outcomeResource, ioErr
		}
	}
	return rec, out, err
}

func (p *streamParser) stream() *source.Stream { return p.st }
func (p *streamParser) finish() bool           { return p.done.CompareAndSwap(false, true) }
func (p *streamParser) finished() bool         { return p.done.Load() }

// syncParser serialises a shared parser on its stream lock.
type syncParser struct {
	parser
}

func (p syncParser) next() (*codec.Record, outcome, error) {
	st := p.stream()
	st.Lock()
	defer st.Unlock()
	return p.parser.next()
}

// entityParser splits entities off a stream and decodes each on its
// own. Several workers may hold entity parsers over the same stream.
type entityParser struct {
	st       *source.Stream
	detector *boundary.Detector
	cdc      codec.Codec
	typ      codec.RecordType
	done     atomic.Bool
}

func newEntityParser(st *source.Stream, d *boundary.Detector, cdc codec.Codec, typ codec.RecordType) *entityParser {
	return &entityParser{st: st, detector: d, cdc: cdc, typ: typ}
}

// readEntity extracts the next entity under the stream lock. An empty
// entity means the stream is exhausted. A source error closes the
// splitter before the lock is released, so only one worker sharing the
// stream sees it; the rest find the stream exhausted.
func (p *entityParser) readEntity() (boundary.Entity, error) {
	p.st.Lock()
	defer p.st.Unlock()

	sp := p.st.Splitter()
	ent, err := p.detector.ReadElement(sp)
	if err != nil && !rserrors.IsCode(err, rserrors.CodeEntityTooLarge) {
		sp.Close()
	}
	return ent, err
}

// decode parses entity text outside the stream lock.
func (p *entityParser) decode(ent boundary.Entity) (*codec.Record, outcome, error) {
	dec := p.cdc.NewDecoder(strings.NewReader(ent.Text), p.typ)
	rec, err := dec.Decode()
	return rec, classify(rec, err), err
}

func (p *entityParser) stream() *source.Stream { return p.st }
func (p *entityParser) finish() bool           { return p.done.CompareAndSwap(false, true) }
func (p *entityParser) finished() bool         { return p.done.Load() }
