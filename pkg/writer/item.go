package writer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
)

// ItemWriter encodes records with a codec into a shared destination.
// Workers encode into private buffers and append whole chunks under a
// lock, so chunks never interleave.
type ItemWriter struct {
	dest Destination
	cdc  codec.Codec
	typ  codec.RecordType

	mu      sync.Mutex
	out     io.Writer
	written atomic.Int64
}

// NewItemWriter creates an item writer.
func NewItemWriter(dest Destination, cdc codec.Codec, typ codec.RecordType) *ItemWriter {
	return &ItemWriter{dest: dest, cdc: cdc, typ: typ}
}

// Open opens the destination.
func (w *ItemWriter) Open(ctx context.Context, p params.Params) error {
	out, err := w.dest.Open(ctx, p)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
	return nil
}

// NewSink returns a sink for one worker.
func (w *ItemWriter) NewSink() RecordWriter {
	s := &Sink{w: w}
	s.enc = w.cdc.NewEncoder(&s.buf, w.typ)
	return s
}

// Written returns the number of records written.
func (w *ItemWriter) Written() int64 { return w.written.Load() }

func (w *ItemWriter) append(chunk []byte, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return errors.New(errors.CodeWriteFailed, "writer is not open")
	}
	if _, err := w.out.Write(chunk); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "write failed")
	}
	w.written.Add(int64(n))
	return nil
}

// Close closes the destination. Later writes fail.
func (w *ItemWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return nil
	}
	w.out = nil
	return w.dest.Close()
}

// Sink is a worker's handle on an ItemWriter. It is not safe for
// concurrent use.
type Sink struct {
	w   *ItemWriter
	buf bytes.Buffer
	enc codec.Encoder
}

// Write encodes recs and appends them to the output as one chunk.
func (s *Sink) Write(ctx context.Context, recs []*codec.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.buf.Reset()
	for _, rec := range recs {
		if err := s.enc.Encode(rec); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "encode failed")
		}
	}
	if err := s.enc.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "encode failed")
	}
	return s.w.append(s.buf.Bytes(), len(recs))
}

// Close releases the sink's buffer.
func (s *Sink) Close() error {
	s.buf = bytes.Buffer{}
	return nil
}
