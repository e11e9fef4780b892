// Package writer writes records to outputs shared by all workers of a
// step: encoded text through an ItemWriter, or columnar files through
// Parquet and DuckDB writers.
package writer

import (
	"context"
	"strings"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/params"
)

// RecordWriter writes chunks of records.
type RecordWriter interface {
	Write(ctx context.Context, recs []*codec.Record) error
	Close() error
}

// Output is a destination shared by the workers of a step. Each worker
// writes through its own sink.
type Output interface {
	Open(ctx context.Context, p params.Params) error
	NewSink() RecordWriter
	Written() int64
	Close() error
}

// Config holds columnar writer configuration.
type Config struct {
	// BatchSize is the number of rows buffered before a batch is written.
	BatchSize int

	// Compression for Parquet output.
	Compression CompressionType

	// RowGroupSize is the maximum number of rows per Parquet row group.
	RowGroupSize int64
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    8192,
		Compression:  CompressionSnappy,
		RowGroupSize: 1024 * 1024,
	}
}

// columns returns the column names for recs: the record type's fields
// when set, otherwise the field names of the first record.
func columns(typ codec.RecordType, recs []*codec.Record) []string {
	if len(typ.Fields) > 0 {
		return typ.Fields
	}
	if len(recs) > 0 {
		return recs[0].Names()
	}
	return nil
}
