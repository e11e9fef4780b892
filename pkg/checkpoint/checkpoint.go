// Package checkpoint records step executions so runs can be listed and
// inspected after the fact.
package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logflow/recsplit/pkg/errors"
)

// Status is the lifecycle state of a step execution.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepExecution tracks one run of a step.
type StepExecution struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Step   string `json:"step"`
	Input  string `json:"input"`
	Output string `json:"output"`

	ReadCount  int64 `json:"read_count"`
	WriteCount int64 `json:"write_count"`
	SkipCount  int64 `json:"skip_count"`

	Status      Status     `json:"status"`
	ExitMessage string     `json:"exit_message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	mu sync.Mutex
}

// NewStepExecution creates an execution with a fresh ID.
func NewStepExecution(jobID, step, input, output string) *StepExecution {
	now := time.Now()
	return &StepExecution{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Step:      step,
		Input:     input,
		Output:    output,
		Status:    StatusStarting,
		StartedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]string),
	}
}

// Update records progress counts.
func (e *StepExecution) Update(read, write, skip int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ReadCount = read
	e.WriteCount = write
	e.SkipCount = skip
	e.UpdatedAt = time.Now()
}

// SetStatus moves the execution to s. Completed and failed executions
// get an end time.
func (e *StepExecution) SetStatus(s Status, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.Status = s
	e.ExitMessage = msg
	e.UpdatedAt = now
	if s == StatusCompleted || s == StatusFailed {
		e.EndedAt = &now
	}
}

// SetMetadata sets a metadata value.
func (e *StepExecution) SetMetadata(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// Done reports whether the execution has ended.
func (e *StepExecution) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Duration returns how long the execution ran, or has been running.
func (e *StepExecution) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EndedAt != nil {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

func (e *StepExecution) encode() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.MarshalIndent(e, "", "  ")
}

func decode(data []byte) (*StepExecution, error) {
	var e StepExecution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "invalid step execution")
	}
	return &e, nil
}

// Backend stores step executions.
type Backend interface {
	// Save persists e, replacing any earlier state with the same ID.
	Save(ctx context.Context, e *StepExecution) error

	// Load retrieves an execution by ID.
	Load(ctx context.Context, id string) (*StepExecution, error)

	// Delete removes an execution.
	Delete(ctx context.Context, id string) error

	// List returns all executions, oldest first.
	List(ctx context.Context) ([]*StepExecution, error)

	// ListIncomplete returns executions that have not ended.
	ListIncomplete(ctx context.Context) ([]*StepExecution, error)

	// Name returns the backend name for logging.
	Name() string

	Close() error
}

func notFound(id string) error {
	return errors.Wrap(os.ErrNotExist, errors.CodeFileNotFound, "step execution not found").WithContext("id", id)
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	Redis   RedisConfig
}

// Open creates the configured backend: "file" (the default) or "redis".
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.Dir)
	case "redis":
		return NewRedisBackend(cfg.Redis)
	default:
		return nil, errors.InvalidFormat("checkpoint backend", cfg.Backend)
	}
}
