package reader

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/flow"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/validation"
)

// item is one queued result of the background parse.
type item struct {
	rec  *codec.Record
	ectx any
	err  error
}

// BatchReader parses in the background and hands records to consumers
// through a bounded queue. Read is safe for concurrent use.
type BatchReader[R any] struct {
	r         *Reader[R]
	producers int

	queue        *flow.BoundedQueue[item]
	offerTimeout time.Duration
	pollInterval time.Duration

	validators sync.Pool
	parsing    atomic.Bool

	mu       sync.Mutex
	fatal    error
	reported bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBatch creates a batch reader with the given number of background
// producers. Producers beyond one only help when streams are claimed per
// worker.
func NewBatch[R any](src *source.Source, cdc codec.Codec, typ codec.RecordType, producers int, opts ...Option) (*BatchReader[R], error) {
	r, err := New[R](src, cdc, typ, opts...)
	if err != nil {
		return nil, err
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if producers < 1 {
		producers = 1
	}

	b := &BatchReader[R]{
		r:            r,
		producers:    producers,
		queue:        flow.NewBoundedQueue[item](s.queueSize),
		offerTimeout: s.offerTimeout,
		pollInterval: s.pollInterval,
		done:         make(chan struct{}),
	}
	if r.validate != nil {
		b.validators.New = func() any {
			return validation.NewProcessor(r.validate, true).NewWorker()
		}
	}
	return b, nil
}

// Mode returns the mode of the underlying reader.
func (b *BatchReader[R]) Mode() Mode { return b.r.Mode() }

// Open opens the source and starts parsing.
func (b *BatchReader[R]) Open(ctx context.Context, p params.Params) error {
	if err := b.r.Open(ctx, p); err != nil {
		return err
	}

	pctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.parsing.Store(true)

	producers := b.producers
	if b.r.Mode() != ModePerStream {
		producers = 1
	}

	g, gctx := errgroup.WithContext(pctx)
	for i := 0; i < producers; i++ {
		g.Go(func() error {
			return b.produce(gctx)
		})
	}
	go func() {
		defer close(b.done)
		if err := g.Wait(); err != nil {
			b.setFatal(err)
		}
		b.parsing.Store(false)
		b.queue.Close()
	}()
	return nil
}

// produce feeds one worker's records into the queue until the source is
// exhausted or the queue stops taking them.
func (b *BatchReader[R]) produce(ctx context.Context) error {
	w := b.r.NewWorker()
	defer w.Close()

	for {
		rec, ectx, err := w.next(ctx)
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}

		// per-stream failures are queued and parsing moves on
		if err := b.queue.Offer(ctx, item{rec: rec, ectx: ectx, err: err}, b.offerTimeout); err != nil {
			switch {
			case errors.Is(err, flow.ErrOfferTimeout):
				return &TimeoutError{Msg: "timed out waiting for parsed elements to be processed"}
			case errors.Is(err, flow.ErrQueueClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
	}
}

func (b *BatchReader[R]) setFatal(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal == nil {
		b.fatal = err
	}
}

// takeFatal returns the first fatal error exactly once.
func (b *BatchReader[R]) takeFatal() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal == nil || b.reported {
		return nil
	}
	b.reported = true
	return b.fatal
}

// Parsing reports whether producers are still running.
func (b *BatchReader[R]) Parsing() bool { return b.parsing.Load() }

// Read returns the next value. Queued parse failures are returned in
// order. After the queue drains, the first fatal error is returned once
// and io.EOF thereafter.
func (b *BatchReader[R]) Read(ctx context.Context) (R, error) {
	var zero R
	for {
		it, ok, err := b.queue.Poll(ctx, b.pollInterval)
		if ok {
			if it.err != nil {
				return zero, it.err
			}
			return b.emit(it)
		}
		if errors.Is(err, flow.ErrQueueClosed) {
			if fatal := b.takeFatal(); fatal != nil {
				return zero, fatal
			}
			return zero, io.EOF
		}
		if err != nil {
			return zero, err
		}
	}
}

func (b *BatchReader[R]) emit(it item) (R, error) {
	if b.r.validate == nil {
		return b.r.emit(nil, it.rec, it.ectx)
	}
	v := b.validators.Get().(*validation.ProcessorWorker)
	defer b.validators.Put(v)
	return b.r.emit(v, it.rec, it.ectx)
}

// Close stops the producers and closes the source.
func (b *BatchReader[R]) Close() error {
	if b.cancel != nil {
		b.cancel()
		b.queue.Close()
		<-b.done
	}
	return b.r.Close()
}
