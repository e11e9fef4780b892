package job

import (
	"context"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/reader"
)

// RecordReader yields records until io.EOF.
type RecordReader interface {
	Read(ctx context.Context) (*codec.Record, error)
}

// Input is the read side of a step. Each worker reads through its own
// RecordReader.
type Input interface {
	Open(ctx context.Context, p params.Params) error
	NewReader() RecordReader
	Mode() reader.Mode
	Close() error
}

// FromReader adapts a pull reader: every worker gets a reader.Worker.
func FromReader(r *reader.RecordReader) Input {
	return &pullInput{r: r}
}

type pullInput struct {
	r *reader.RecordReader
}

func (in *pullInput) Open(ctx context.Context, p params.Params) error { return in.r.Open(ctx, p) }
func (in *pullInput) NewReader() RecordReader                         { return in.r.NewWorker() }
func (in *pullInput) Mode() reader.Mode                               { return in.r.Mode() }
func (in *pullInput) Close() error                                    { return in.r.Close() }

// FromBatch adapts a push reader: all workers poll the same queue.
func FromBatch(b *reader.BatchReader[*codec.Record]) Input {
	return &batchInput{b: b}
}

type batchInput struct {
	b *reader.BatchReader[*codec.Record]
}

func (in *batchInput) Open(ctx context.Context, p params.Params) error { return in.b.Open(ctx, p) }
func (in *batchInput) NewReader() RecordReader                         { return in.b }
func (in *batchInput) Mode() reader.Mode                               { return in.b.Mode() }
func (in *batchInput) Close() error                                    { return in.b.Close() }
