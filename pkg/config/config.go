// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/recsplit/pkg/codec"
	rserrors "github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/job"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/validation"
	"github.com/logflow/recsplit/pkg/writer"
)

// Config holds all recsplit configuration.
type Config struct {
	Version int `yaml:"version"`

	Reader     ReaderConfig     `yaml:"reader"`
	Source     SourceConfig     `yaml:"source"`
	Validation ValidationConfig `yaml:"validation"`
	Output     OutputConfig     `yaml:"output"`
	Job        JobConfig        `yaml:"job"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	S3         S3Config         `yaml:"s3"`
}

// ReaderConfig controls how streams are split and parsed.
type ReaderConfig struct {
	Workers    int      `yaml:"workers"`
	Codec      string   `yaml:"codec"` // csv | tsv | xml | jsonl
	Delimiter  string   `yaml:"delimiter"`
	RecordType string   `yaml:"record_type"`
	Fields     []string `yaml:"fields"`

	StartPattern          string `yaml:"start_pattern"`
	StopPattern           string `yaml:"stop_pattern"`
	XMLLines              bool   `yaml:"xml_lines"`
	ConsistentTerminators bool   `yaml:"consistent_terminators"`
	MaxEntitySize         int    `yaml:"max_entity_size"`

	// Batch switches to the push-based reader.
	Batch         bool          `yaml:"batch"`
	Producers     int           `yaml:"producers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	OfferTimeout  time.Duration `yaml:"offer_timeout"`
}

// SourceConfig controls input acquisition.
type SourceConfig struct {
	Kind      string `yaml:"kind"` // auto | file | archive | workbook
	SkipLines int    `yaml:"skip_lines"`
	Encoding  string `yaml:"encoding"`
}

// ValidationConfig controls per-record validation.
type ValidationConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	FailFast bool                  `yaml:"fail_fast"`
	Rules    []validation.RuleSpec `yaml:"rules"`
}

// OutputConfig controls the record writer.
type OutputConfig struct {
	Kind         string `yaml:"kind"`  // auto | file | zip | parquet | duckdb
	Codec        string `yaml:"codec"` // item writers; defaults to reader.codec
	Compression  string `yaml:"compression"`
	BatchSize    int    `yaml:"batch_size"`
	RowGroupSize int64  `yaml:"row_group_size"`
}

// JobConfig controls the step runner.
type JobConfig struct {
	Name           string `yaml:"name"`
	ErrorPolicy    string `yaml:"error_policy"` // strict | skip
	CommitInterval int    `yaml:"commit_interval"`
	MaxSkips       int    `yaml:"max_skips"`
	QuarantineDir  string `yaml:"quarantine_dir"`
	RatePerSecond  int    `yaml:"rate_per_second"`
}

// CheckpointConfig selects where step executions are stored.
type CheckpointConfig struct {
	Backend string      `yaml:"backend"` // file | redis
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig for the redis checkpoint backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig for OTLP tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	ServiceName   string  `yaml:"service_name"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// S3Config for s3:// inputs and outputs.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns the default configuration.
func Default() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Config{
		Version: 1,
		Reader: ReaderConfig{
			Workers:   workers,
			Codec:     "csv",
			Producers: 1,
		},
		Source: SourceConfig{
			Kind:     "auto",
			Encoding: "utf-8",
		},
		Output: OutputConfig{
			Kind:         "auto",
			Compression:  "snappy",
			BatchSize:    8192,
			RowGroupSize: 1024 * 1024,
		},
		Job: JobConfig{
			Name:           "recsplit",
			ErrorPolicy:    "strict",
			CommitInterval: 100,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     ".recsplit/checkpoints",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "recsplit:executions:",
				TTL:     7 * 24 * time.Hour,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			ServiceName:   "recsplit",
			SamplingRatio: 1.0,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	// search overrides the system, user and project paths.
	search []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. explicit,
// when set, is loaded after the search paths and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// later files override earlier ones
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return rserrors.FileNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	if m.search != nil {
		return m.search
	}

	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/recsplit/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".recsplit", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".recsplit.yaml"))
	}

	return paths
}

// loadFile decodes a single config file over the current values. Keys
// absent from the file keep their value; unknown keys are rejected.
func (m *Manager) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	next := *m.config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil && err != io.EOF {
		return rserrors.Wrap(err, rserrors.CodeInvalidFormat, "invalid config file").WithContext("path", path)
	}
	m.config = &next
	return nil
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	c := m.config

	if v := os.Getenv("RECSPLIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reader.Workers = n
		}
	}
	if v := os.Getenv("RECSPLIT_CODEC"); v != "" {
		c.Reader.Codec = v
	}
	if v := os.Getenv("RECSPLIT_ENCODING"); v != "" {
		c.Source.Encoding = v
	}
	if v := os.Getenv("RECSPLIT_OUTPUT_KIND"); v != "" {
		c.Output.Kind = v
	}
	if v := os.Getenv("RECSPLIT_COMPRESSION"); v != "" {
		c.Output.Compression = v
	}
	if v := os.Getenv("RECSPLIT_ERROR_POLICY"); v != "" {
		c.Job.ErrorPolicy = v
	}
	if v := os.Getenv("RECSPLIT_CHECKPOINT_BACKEND"); v != "" {
		c.Checkpoint.Backend = v
	}
	if v := os.Getenv("RECSPLIT_REDIS_ADDR"); v != "" {
		c.Checkpoint.Redis.Address = v
	}

	// an endpoint in the environment turns tracing on
	if v := os.Getenv("RECSPLIT_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}

	if v := os.Getenv("RECSPLIT_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("RECSPLIT_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
		c.S3.UsePathStyle = true
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs rserrors.MultiError

	if c.Reader.Workers < 1 {
		errs.Add(rserrors.InvalidFormat("reader.workers", strconv.Itoa(c.Reader.Workers)))
	}
	if _, err := codec.Lookup(c.Reader.Codec); err != nil {
		errs.Add(err)
	}
	if len(c.Reader.Delimiter) > 1 {
		errs.Add(rserrors.InvalidFormat("reader.delimiter", c.Reader.Delimiter))
	}
	if c.Reader.StopPattern != "" && c.Reader.StartPattern == "" {
		errs.Add(rserrors.New(rserrors.CodeInvalidFormat, "reader.stop_pattern requires reader.start_pattern"))
	}
	if _, err := source.ParseKind(c.Source.Kind, ""); err != nil {
		errs.Add(err)
	}
	if c.Source.SkipLines < 0 {
		errs.Add(rserrors.InvalidFormat("source.skip_lines", strconv.Itoa(c.Source.SkipLines)))
	}
	if c.Validation.Enabled {
		if _, err := validation.FactoryFor(c.Validation.Rules); err != nil {
			errs.Add(err)
		}
	}

	switch strings.ToLower(c.Output.Kind) {
	case "", "auto", "file", "zip", "parquet", "duckdb":
	default:
		errs.Add(rserrors.InvalidFormat("output.kind", c.Output.Kind))
	}
	if c.Output.Codec != "" {
		if _, err := codec.Lookup(c.Output.Codec); err != nil {
			errs.Add(err)
		}
	}
	if comp := strings.ToLower(c.Output.Compression); comp != "" && comp != "none" && writer.ParseCompression(comp) == writer.CompressionNone {
		errs.Add(rserrors.InvalidFormat("output.compression", c.Output.Compression))
	}

	if _, err := job.ParseErrorPolicy(c.Job.ErrorPolicy); err != nil {
		errs.Add(err)
	}
	switch c.Checkpoint.Backend {
	case "", "file", "redis":
	default:
		errs.Add(rserrors.InvalidFormat("checkpoint.backend", c.Checkpoint.Backend))
	}
	if r := c.Telemetry.SamplingRatio; r < 0 || r > 1 {
		errs.Add(rserrors.InvalidFormat("telemetry.sampling_ratio", strconv.FormatFloat(r, 'f', -1, 64)))
	}

	return errs.Combined()
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return rserrors.Wrap(err, rserrors.CodeWriteFailed, "failed to create config directory")
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return rserrors.Wrap(err, rserrors.CodeWriteFailed, "failed to encode config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return rserrors.Wrap(err, rserrors.CodeWriteFailed, "failed to write config").WithContext("path", path)
	}
	return nil
}
