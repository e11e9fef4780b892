package job

import (
	"context"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/recsplit/pkg/checkpoint"
	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/defaults/metrics"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/flow"
	"github.com/logflow/recsplit/pkg/interfaces"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/telemetry"
	"github.com/logflow/recsplit/pkg/validation"
	"github.com/logflow/recsplit/pkg/writer"
)

// DefaultCommitInterval is the chunk size when none is set.
const DefaultCommitInterval = 100

// Step moves records from Input to Output.
type Step struct {
	Name   string
	JobID  string
	Input  Input
	Output writer.Output

	// Processor validates records between read and write. Nil skips
	// validation.
	Processor *validation.Processor

	// Workers is the number of goroutines reading and writing.
	Workers int

	// CommitInterval is the number of records written per chunk.
	CommitInterval int

	ErrorPolicy ErrorPolicy

	// MaxSkips fails a skip-policy step once more records are skipped.
	// Zero means no limit.
	MaxSkips int64

	// Quarantine receives skipped failures.
	Quarantine Quarantine

	// Limiter caps records read per second.
	Limiter *flow.RateLimiter

	Metrics     interfaces.MetricsExporter
	Checkpoints checkpoint.Backend
	Logger      *log.Logger

	// OnProgress is called after every chunk with running counts.
	OnProgress func(read, written, skipped int64)
}

// counts are the running totals of a step.
type counts struct {
	read    atomic.Int64
	written atomic.Int64
}

func (s *Step) defaults() {
	if s.Name == "" {
		s.Name = "step"
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.CommitInterval <= 0 {
		s.CommitInterval = DefaultCommitInterval
	}
	if s.Metrics == nil {
		s.Metrics = metrics.NewNoopMetrics()
	}
	if s.Logger == nil {
		s.Logger = log.New(os.Stderr, "[recsplit] ", log.LstdFlags)
	}
}

// Run executes the step and returns its execution record. The returned
// execution is never nil; on failure it carries StatusFailed and the
// error is returned too.
func (s *Step) Run(ctx context.Context, p params.Params) (*checkpoint.StepExecution, error) {
	s.defaults()

	exec := checkpoint.NewStepExecution(s.JobID, s.Name, p.String(params.InputFile, ""), p.String(params.OutputFile, ""))
	if s.JobID == "" {
		exec.JobID = exec.ID
	}
	s.save(ctx, exec)

	ctx, span := telemetry.StartSpan(ctx, "step "+s.Name,
		telemetry.Attr("step", s.Name),
		telemetry.Attr("execution.id", exec.ID),
		telemetry.Attr("workers", s.Workers),
	)

	start := time.Now()
	h := &handler{policy: s.ErrorPolicy, maxSkips: s.MaxSkips, quarantine: s.Quarantine, step: s.Name}
	var c counts

	err := s.run(ctx, p, exec, h, &c)

	exec.Update(c.read.Load(), c.written.Load(), h.skipped())
	tags := map[string]string{interfaces.TagStep: s.Name, interfaces.TagJobID: exec.JobID}
	s.Metrics.Counter(interfaces.MetricStepReadTotal, c.read.Load(), tags)
	s.Metrics.Counter(interfaces.MetricStepWriteTotal, c.written.Load(), tags)
	s.Metrics.Counter(interfaces.MetricStepSkipTotal, h.skipped(), tags)
	elapsed := time.Since(start)
	s.Metrics.Timer(interfaces.MetricStepDuration, elapsed, tags)
	if secs := elapsed.Seconds(); secs > 0 {
		s.Metrics.Gauge(interfaces.MetricStepThroughput, float64(c.read.Load())/secs, tags)
	}

	if err != nil {
		exec.SetStatus(checkpoint.StatusFailed, err.Error())
		s.Metrics.Counter(interfaces.MetricStepsFailed, 1, tags)
		s.Logger.Printf("step %s failed after %d read, %d written, %d skipped: %v",
			s.Name, c.read.Load(), c.written.Load(), h.skipped(), err)
	} else {
		exec.SetStatus(checkpoint.StatusCompleted, "")
		s.Metrics.Counter(interfaces.MetricStepsCompleted, 1, tags)
		s.Logger.Printf("step %s completed: %d read, %d written, %d skipped in %s",
			s.Name, c.read.Load(), c.written.Load(), h.skipped(), elapsed.Round(time.Millisecond))
	}
	s.save(context.WithoutCancel(ctx), exec)
	s.Metrics.Flush()

	span.SetAttributes(
		telemetry.Attr("records.read", c.read.Load()),
		telemetry.Attr("records.written", c.written.Load()),
		telemetry.Attr("records.skipped", h.skipped()),
	)
	telemetry.End(span, err)
	return exec, err
}

func (s *Step) run(ctx context.Context, p params.Params, exec *checkpoint.StepExecution, h *handler, c *counts) (err error) {
	defer func() {
		var errs errors.MultiError
		errs.Add(err)
		errs.Add(s.Input.Close())
		if s.Quarantine != nil {
			errs.Add(s.Quarantine.Close())
		}
		err = errs.Combined()
	}()

	if err := s.Input.Open(ctx, p); err != nil {
		return err
	}

	if err := s.Output.Open(ctx, p); err != nil {
		return err
	}
	exec.SetStatus(checkpoint.StatusRunning, "")
	exec.SetMetadata("mode", s.Input.Mode().String())
	s.save(ctx, exec)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.Workers; i++ {
		g.Go(func() error {
			return s.work(gctx, i, exec, h, c)
		})
	}
	werr := g.Wait()

	if cerr := s.Output.Close(); cerr != nil && werr == nil {
		return cerr
	}
	return werr
}

// work runs one worker: read, validate, and write in chunks.
func (s *Step) work(ctx context.Context, id int, exec *checkpoint.StepExecution, h *handler, c *counts) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "worker", telemetry.Attr("worker", id))
	defer func() { telemetry.End(span, err) }()

	rd := s.Input.NewReader()
	if closer, ok := rd.(interface{ Close() }); ok {
		defer closer.Close()
	}
	sink := s.Output.NewSink()
	defer sink.Close()

	var validator *validation.ProcessorWorker
	if s.Processor != nil {
		validator = s.Processor.NewWorker()
	}

	chunk := make([]*codec.Record, 0, s.CommitInterval)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		begin := time.Now()
		if err := sink.Write(ctx, chunk); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "chunk write failed")
		}
		tags := map[string]string{interfaces.TagStep: s.Name}
		s.Metrics.Histogram(interfaces.MetricChunkSize, float64(len(chunk)), tags)
		s.Metrics.Timer(interfaces.MetricChunkWriteTime, time.Since(begin), tags)

		c.written.Add(int64(len(chunk)))
		chunk = chunk[:0]
		exec.Update(c.read.Load(), c.written.Load(), h.skipped())
		if s.OnProgress != nil {
			s.OnProgress(c.read.Load(), c.written.Load(), h.skipped())
		}
		return nil
	}

	for {
		if s.Limiter != nil {
			if err := s.Limiter.Acquire(ctx, 1); err != nil {
				return err
			}
		}

		rec, err := rd.Read(ctx)
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			if herr := h.handle(ctx, err); herr != nil {
				return herr
			}
			continue
		}
		c.read.Add(1)

		if validator != nil {
			if rec, err = validator.Process(rec); err != nil {
				s.Metrics.Counter(interfaces.MetricValidationError, 1, map[string]string{
					interfaces.TagStep:    s.Name,
					interfaces.TagErrCode: string(errors.GetCode(err)),
				})
				if herr := h.handle(ctx, err); herr != nil {
					return herr
				}
				continue
			}
		}

		chunk = append(chunk, rec)
		if len(chunk) >= s.CommitInterval {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// save stores exec when a backend is set. Failures are logged only.
func (s *Step) save(ctx context.Context, exec *checkpoint.StepExecution) {
	if s.Checkpoints == nil {
		return
	}
	if err := s.Checkpoints.Save(ctx, exec); err != nil {
		s.Logger.Printf("WARN: cannot save step execution %s to %s: %v", exec.ID, s.Checkpoints.Name(), err)
	}
}
