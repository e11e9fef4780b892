package writer

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/resource"
)

// ParquetWriter writes record fields as nullable string columns. The
// columns are the record type's fields, or the fields of the first record
// written. Nested children are not written.
type ParquetWriter struct {
	cfg      Config
	path     string
	typ      codec.RecordType
	resolver *resource.Resolver

	allocator memory.Allocator
	out       io.WriteCloser
	schema    *arrow.Schema
	writer    *pqarrow.FileWriter
	builders  []*array.StringBuilder

	mu       sync.Mutex
	rowCount int
	written  int64
	closed   bool
}

// NewParquetWriter creates a Parquet writer for path. An empty path is
// taken from the output.file parameter on Open.
func NewParquetWriter(path string, typ codec.RecordType, cfg Config, r *resource.Resolver) *ParquetWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &ParquetWriter{
		cfg:       cfg,
		path:      path,
		typ:       typ,
		resolver:  resolver(r),
		allocator: memory.NewGoAllocator(),
	}
}

func (w *ParquetWriter) Open(ctx context.Context, p params.Params) error {
	path, err := outputLocation(w.path, p)
	if err != nil {
		return err
	}
	out, err := w.resolver.Create(ctx, path, "application/vnd.apache.parquet")
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
	return nil
}

// NewSink returns w; writes are serialised internally.
func (w *ParquetWriter) NewSink() RecordWriter { return sharedSink{w} }

func compression(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// start fixes the schema and creates the file writer.
func (w *ParquetWriter) start(names []string) error {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	w.schema = arrow.NewSchema(fields, nil)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compression(w.cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
		parquet.WithMaxRowGroupLength(w.cfg.RowGroupSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	// the file writer closes its sink; the output is closed here instead
	fw, err := pqarrow.NewFileWriter(w.schema, struct{ io.Writer }{w.out}, writerProps, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to create parquet writer")
	}
	w.writer = fw

	w.builders = make([]*array.StringBuilder, len(names))
	for i := range names {
		w.builders[i] = array.NewStringBuilder(w.allocator)
		w.builders[i].Reserve(w.cfg.BatchSize)
	}
	return nil
}

// Write appends recs, flushing a row batch every BatchSize rows.
func (w *ParquetWriter) Write(ctx context.Context, recs []*codec.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.out == nil {
		return errors.New(errors.CodeWriteFailed, "writer is not open")
	}
	if len(recs) == 0 {
		return nil
	}
	if w.writer == nil {
		names := columns(w.typ, recs)
		if len(names) == 0 {
			return errors.New(errors.CodeWriteFailed, "parquet output needs at least one column")
		}
		if err := w.start(names); err != nil {
			return err
		}
	}

	for _, rec := range recs {
		for i, f := range w.schema.Fields() {
			if v, ok := rec.Get(f.Name); ok {
				w.builders[i].Append(v)
			} else {
				w.builders[i].AppendNull()
			}
		}
		w.rowCount++
		if w.rowCount >= w.cfg.BatchSize {
			if err := w.flushBatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushBatch writes the buffered rows as one record batch.
func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	cols := make([]arrow.Array, len(w.builders))
	for i, b := range w.builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}

	batch := array.NewRecord(w.schema, cols, int64(w.rowCount))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write record batch")
	}

	w.written += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Written returns the number of rows flushed to the file.
func (w *ParquetWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes remaining rows, writes the footer and closes the output.
// A writer that never received a record leaves an empty output.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.out == nil {
		return nil
	}
	w.closed = true

	var errs errors.MultiError
	if w.writer != nil {
		errs.Add(w.flushBatch())
		if err := w.writer.Close(); err != nil {
			errs.Add(errors.Wrap(err, errors.CodeWriteFailed, "failed to close parquet writer"))
		}
		for _, b := range w.builders {
			b.Release()
		}
	}
	errs.Add(w.out.Close())
	return errs.Combined()
}

// sharedSink hands out a writer that serialises its own writes. Closing
// a sink leaves the shared writer open.
type sharedSink struct {
	w interface {
		Write(ctx context.Context, recs []*codec.Record) error
	}
}

func (s sharedSink) Write(ctx context.Context, recs []*codec.Record) error {
	return s.w.Write(ctx, recs)
}

func (s sharedSink) Close() error { return nil }
