package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/logflow/recsplit/pkg/boundary"
	"github.com/logflow/recsplit/pkg/checkpoint"
	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/config"
	"github.com/logflow/recsplit/pkg/defaults/metrics"
	"github.com/logflow/recsplit/pkg/flow"
	"github.com/logflow/recsplit/pkg/interfaces"
	"github.com/logflow/recsplit/pkg/job"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/reader"
	"github.com/logflow/recsplit/pkg/resource"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/storage/s3"
	"github.com/logflow/recsplit/pkg/telemetry"
	"github.com/logflow/recsplit/pkg/validation"
	"github.com/logflow/recsplit/pkg/writer"
)

// env holds what every step of one command invocation shares.
type env struct {
	cfg         *config.Config
	resolver    *resource.Resolver
	checkpoints checkpoint.Backend
	metrics     interfaces.MetricsExporter
	logger      *log.Logger
	jobID       string
}

func newResolver(cfg *config.Config) *resource.Resolver {
	s3cfg := s3.DefaultConfig(cfg.S3.Region)
	s3cfg.Endpoint = cfg.S3.Endpoint
	s3cfg.UsePathStyle = cfg.S3.UsePathStyle
	return resource.NewResolver(resource.WithS3Config(s3cfg))
}

func openCheckpoints(cfg *config.Config) (checkpoint.Backend, error) {
	redis := checkpoint.DefaultRedisConfig(cfg.Checkpoint.Redis.Address)
	redis.Password = cfg.Checkpoint.Redis.Password
	redis.Database = cfg.Checkpoint.Redis.Database
	if cfg.Checkpoint.Redis.Prefix != "" {
		redis.Prefix = cfg.Checkpoint.Redis.Prefix
	}
	if cfg.Checkpoint.Redis.TTL > 0 {
		redis.TTL = cfg.Checkpoint.Redis.TTL
	}
	return checkpoint.Open(checkpoint.Config{
		Backend: cfg.Checkpoint.Backend,
		Dir:     cfg.Checkpoint.Dir,
		Redis:   redis,
	})
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.SamplingRatio = cfg.Telemetry.SamplingRatio
	return tc
}

// newEnv wires the shared collaborators. The caller closes the
// checkpoint backend.
func newEnv(cfg *config.Config, stderr io.Writer) (*env, error) {
	logger := log.New(stderr, "[recsplit] ", log.LstdFlags)
	if !verbose {
		logger.SetOutput(io.Discard)
	}

	backend, err := openCheckpoints(cfg)
	if err != nil {
		return nil, err
	}

	var m interfaces.MetricsExporter = metrics.NewNoopMetrics()
	if verbose {
		m = metrics.NewLogMetrics(log.New(stderr, "[metrics] ", log.LstdFlags))
	}

	jobID := jobIDFlag
	if jobID == "" {
		jobID = uuid.NewString()
	}

	return &env{
		cfg:         cfg,
		resolver:    newResolver(cfg),
		checkpoints: backend,
		metrics:     m,
		logger:      logger,
		jobID:       jobID,
	}, nil
}

func buildCodec(name, delimiter string) (codec.Codec, error) {
	c, err := codec.Lookup(name)
	if err != nil {
		return nil, err
	}
	if csv, ok := c.(*codec.CSV); ok && delimiter != "" {
		csv.Delimiter = delimiter[0]
	}
	return c, nil
}

func recordType(cfg *config.Config) codec.RecordType {
	return codec.RecordType{Name: cfg.Reader.RecordType, Fields: cfg.Reader.Fields}
}

func (e *env) buildInput(input string) (job.Input, error) {
	cfg := e.cfg
	kind, err := source.ParseKind(cfg.Source.Kind, input)
	if err != nil {
		return nil, err
	}
	src := source.New(kind, source.Options{Location: input, Resolver: e.resolver})

	cdc, err := buildCodec(cfg.Reader.Codec, cfg.Reader.Delimiter)
	if err != nil {
		return nil, err
	}

	opts := []reader.Option{
		reader.WithStartPattern(cfg.Reader.StartPattern),
		reader.WithStopPattern(cfg.Reader.StopPattern),
		reader.WithMaxEntitySize(cfg.Reader.MaxEntitySize),
		reader.WithLogger(e.logger),
		reader.WithQueueCapacity(cfg.Reader.QueueCapacity),
		reader.WithOfferTimeout(cfg.Reader.OfferTimeout),
	}
	if cfg.Reader.XMLLines {
		opts = append(opts, reader.WithLineReader(boundary.XMLLines))
	}

	if cfg.Reader.Batch {
		b, err := reader.NewBatch[*codec.Record](src, cdc, recordType(cfg), cfg.Reader.Producers, opts...)
		if err != nil {
			return nil, err
		}
		return job.FromBatch(b), nil
	}
	r, err := reader.NewRecordReader(src, cdc, recordType(cfg), opts...)
	if err != nil {
		return nil, err
	}
	return job.FromReader(r), nil
}

// outputKind resolves "auto" from the output's extension.
func outputKind(kind, output string) string {
	kind = strings.ToLower(kind)
	if kind != "" && kind != "auto" {
		return kind
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".zip":
		return "zip"
	case ".parquet":
		return "parquet"
	default:
		return "file"
	}
}

// outputExt is the extension watch mode gives derived outputs.
func outputExt(cfg *config.Config) string {
	switch outputKind(cfg.Output.Kind, "") {
	case "zip":
		return ".zip"
	case "parquet", "duckdb":
		return ".parquet"
	}
	name := cfg.Output.Codec
	if name == "" {
		name = cfg.Reader.Codec
	}
	return "." + strings.ToLower(name)
}

func (e *env) buildOutput(output string) (writer.Output, error) {
	cfg := e.cfg
	wcfg := writer.DefaultConfig()
	wcfg.Compression = writer.ParseCompression(cfg.Output.Compression)
	if cfg.Output.BatchSize > 0 {
		wcfg.BatchSize = cfg.Output.BatchSize
	}
	if cfg.Output.RowGroupSize > 0 {
		wcfg.RowGroupSize = cfg.Output.RowGroupSize
	}
	typ := recordType(cfg)

	switch outputKind(cfg.Output.Kind, output) {
	case "parquet":
		return writer.NewParquetWriter(output, typ, wcfg, e.resolver), nil
	case "duckdb":
		return writer.NewDuckDBWriter(output, typ, wcfg, e.resolver), nil
	}

	name := cfg.Output.Codec
	if name == "" {
		name = cfg.Reader.Codec
	}
	cdc, err := buildCodec(name, cfg.Reader.Delimiter)
	if err != nil {
		return nil, err
	}

	var dest writer.Destination
	if outputKind(cfg.Output.Kind, output) == "zip" {
		dest = &writer.ZipDestination{Path: output, Resolver: e.resolver}
	} else {
		dest = &writer.FileDestination{Path: output, Resolver: e.resolver, Type: cdc.ContentType()}
	}
	return writer.NewItemWriter(dest, cdc, typ), nil
}

// buildStep assembles a step moving input to output.
func (e *env) buildStep(input, output string) (*job.Step, params.Params, error) {
	cfg := e.cfg

	in, err := e.buildInput(input)
	if err != nil {
		return nil, nil, err
	}
	out, err := e.buildOutput(output)
	if err != nil {
		in.Close()
		return nil, nil, err
	}
	policy, err := job.ParseErrorPolicy(cfg.Job.ErrorPolicy)
	if err != nil {
		in.Close()
		return nil, nil, err
	}

	step := &job.Step{
		Name:           cfg.Job.Name,
		JobID:          e.jobID,
		Input:          in,
		Output:         out,
		Workers:        cfg.Reader.Workers,
		CommitInterval: cfg.Job.CommitInterval,
		ErrorPolicy:    policy,
		MaxSkips:       int64(cfg.Job.MaxSkips),
		Metrics:        e.metrics,
		Checkpoints:    e.checkpoints,
		Logger:         e.logger,
	}

	if cfg.Validation.Enabled {
		factory, err := validation.FactoryFor(cfg.Validation.Rules)
		if err != nil {
			in.Close()
			return nil, nil, err
		}
		step.Processor = validation.NewProcessor(factory, cfg.Validation.FailFast)
	}
	if cfg.Job.QuarantineDir != "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		step.Quarantine = job.NewFileQuarantine(cfg.Job.QuarantineDir, base+"-"+e.jobID)
	}
	if cfg.Job.RatePerSecond > 0 {
		step.Limiter = flow.NewRateLimiter(cfg.Job.RatePerSecond, cfg.Job.RatePerSecond)
	}

	p := params.Params{
		params.InputFile:                 input,
		params.OutputFile:                output,
		params.SkipLines:                 strconv.Itoa(cfg.Source.SkipLines),
		params.Encoding:                  cfg.Source.Encoding,
		params.ConsistentLineTerminators: strconv.FormatBool(cfg.Reader.ConsistentTerminators),
		params.JobID:                     e.jobID,
	}
	return step, p, nil
}

// execute runs one step and returns its execution.
func (e *env) execute(ctx context.Context, input, output string, progress func(read, written, skipped int64)) (*checkpoint.StepExecution, error) {
	step, p, err := e.buildStep(input, output)
	if err != nil {
		return nil, err
	}
	step.OnProgress = progress
	return step.Run(ctx, p)
}

// derivedOutput names the output for input inside dir.
func derivedOutput(dir, input, ext string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, base+ext)
}
