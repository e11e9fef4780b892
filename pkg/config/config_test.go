package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	rserrors "github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/validation"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	system := writeFile(t, dir, "system.yaml", `
reader:
  workers: 2
  codec: xml
output:
  compression: zstd
`)
	project := writeFile(t, dir, "project.yaml", `
reader:
  workers: 6
  start_pattern: '<person.*\n'
job:
  error_policy: skip
  max_skips: 10
`)
	explicit := writeFile(t, dir, "explicit.yaml", `
reader:
  offer_timeout: 3s
validation:
  enabled: true
  rules:
    - field: id
      kind: range
      min: 0
`)

	m := NewManager()
	m.search = []string{system, filepath.Join(dir, "missing.yaml"), project}
	if err := m.Load(explicit); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	c := m.Get()

	if c.Reader.Workers != 6 {
		t.Errorf("workers = %d, want 6", c.Reader.Workers)
	}
	if c.Reader.Codec != "xml" {
		t.Errorf("codec = %q, want xml", c.Reader.Codec)
	}
	if c.Reader.StartPattern != "<person.*\\n" {
		t.Errorf("start pattern = %q", c.Reader.StartPattern)
	}
	if c.Output.Compression != "zstd" {
		t.Errorf("compression = %q, want zstd", c.Output.Compression)
	}
	if c.Output.BatchSize != 8192 {
		t.Errorf("batch size = %d, want default 8192", c.Output.BatchSize)
	}
	if c.Job.ErrorPolicy != "skip" || c.Job.MaxSkips != 10 {
		t.Errorf("job = %+v", c.Job)
	}
	if c.Reader.OfferTimeout != 3*time.Second {
		t.Errorf("offer timeout = %v, want 3s", c.Reader.OfferTimeout)
	}
	if len(c.Validation.Rules) != 1 || *c.Validation.Rules[0].Min != 0 {
		t.Errorf("rules = %+v", c.Validation.Rules)
	}
	if got := len(m.GetPaths()); got != 3 {
		t.Errorf("loaded %d paths, want 3", got)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadEnvOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "c.yaml", "reader:\n  workers: 2\n")
	t.Setenv("RECSPLIT_WORKERS", "9")
	t.Setenv("RECSPLIT_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("RECSPLIT_S3_ENDPOINT", "http://localhost:9000")

	m := NewManager()
	m.search = []string{}
	if err := m.Load(file); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	c := m.Get()
	if c.Reader.Workers != 9 {
		t.Errorf("workers = %d, want 9", c.Reader.Workers)
	}
	if !c.Telemetry.Enabled || c.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("telemetry = %+v", c.Telemetry)
	}
	if !c.S3.UsePathStyle {
		t.Error("custom s3 endpoint should force path style")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		explicit string
		code     rserrors.Code
	}{
		{"missing explicit file", filepath.Join(dir, "nope.yaml"), rserrors.CodeFileNotFound},
		{"unknown key", writeFile(t, dir, "typo.yaml", "reader:\n  wrokers: 2\n"), rserrors.CodeInvalidFormat},
		{"bad yaml", writeFile(t, dir, "bad.yaml", "reader: [\n"), rserrors.CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			m.search = []string{}
			err := m.Load(tt.explicit)
			if !rserrors.IsCode(err, tt.code) {
				t.Errorf("Load() error = %v, want %v", err, tt.code)
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	file := writeFile(t, t.TempDir(), "empty.yaml", "")
	m := NewManager()
	m.search = []string{}
	if err := m.Load(file); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if m.Get().Reader.Codec != "csv" {
		t.Errorf("codec = %q, want default csv", m.Get().Reader.Codec)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		count  int
	}{
		{"zero workers", func(c *Config) { c.Reader.Workers = 0 }, 1},
		{"unknown codec", func(c *Config) { c.Reader.Codec = "yaml" }, 1},
		{"stop without start", func(c *Config) { c.Reader.StopPattern = "</a>" }, 1},
		{"bad rule", func(c *Config) {
			c.Validation.Enabled = true
			c.Validation.Rules = []validation.RuleSpec{{Field: "id", Kind: "nope"}}
		}, 1},
		{"several", func(c *Config) {
			c.Output.Kind = "excel"
			c.Output.Compression = "rar"
			c.Job.ErrorPolicy = "ignore"
			c.Checkpoint.Backend = "etcd"
		}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			got := 1
			if me, ok := err.(*rserrors.MultiError); ok {
				got = len(me.Errors)
			}
			if got != tt.count {
				t.Errorf("got %d errors, want %d: %v", got, tt.count, err)
			}
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m := NewManager()
	m.Get().Reader.Workers = 3
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	other := NewManager()
	other.search = []string{}
	if err := other.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if other.Get().Reader.Workers != 3 {
		t.Errorf("workers = %d, want 3", other.Get().Reader.Workers)
	}
}
