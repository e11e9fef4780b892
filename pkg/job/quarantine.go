package job

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
)

// Quarantine stores skipped failures for later inspection.
type Quarantine interface {
	Add(f Failure) error
	Count() int
	Close() error
}

// MemoryQuarantine keeps failures in memory up to a limit.
type MemoryQuarantine struct {
	mu       sync.Mutex
	failures []Failure
	limit    int
}

// NewMemoryQuarantine creates a memory quarantine. A limit of zero keeps
// everything.
func NewMemoryQuarantine(limit int) *MemoryQuarantine {
	return &MemoryQuarantine{limit: limit}
}

func (q *MemoryQuarantine) Add(f Failure) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.failures) >= q.limit {
		return nil
	}
	q.failures = append(q.failures, f)
	return nil
}

// Failures returns a copy of the stored failures.
func (q *MemoryQuarantine) Failures() []Failure {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Failure{}, q.failures...)
}

func (q *MemoryQuarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failures)
}

func (q *MemoryQuarantine) Close() error { return nil }

// FileQuarantine appends failures to a JSONL file, one object per
// failure with the failed record nested under "record". The file is
// created on the first failure.
type FileQuarantine struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	enc   codec.Encoder
	count int
}

// NewFileQuarantine creates a quarantine writing to dir/name.jsonl.
func NewFileQuarantine(dir, name string) *FileQuarantine {
	return &FileQuarantine{path: filepath.Join(dir, name+".jsonl")}
}

// Path returns the quarantine file location.
func (q *FileQuarantine) Path() string { return q.path }

func (q *FileQuarantine) Add(f Failure) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.file == nil {
		if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "cannot create quarantine directory")
		}
		file, err := os.Create(q.path)
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "cannot create quarantine file").WithContext("path", q.path)
		}
		q.file = file
		q.enc = codec.NewJSONL().NewEncoder(file, codec.RecordType{})
	}

	if err := q.enc.Encode(failureRecord(f)); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "quarantine write failed")
	}
	if err := q.enc.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "quarantine write failed")
	}
	q.count++
	return nil
}

func failureRecord(f Failure) *codec.Record {
	rec := &codec.Record{Fields: []codec.Field{
		{Name: "time", Value: f.Time.UTC().Format(time.RFC3339Nano)},
		{Name: "step", Value: f.Step},
		{Name: "code", Value: string(f.Code)},
		{Name: "error", Value: f.Message},
	}}
	if f.Record != nil {
		rec.Children = append(rec.Children, &codec.Record{
			Type:     "record",
			Fields:   f.Record.Fields,
			Children: f.Record.Children,
		})
	}
	return rec
}

func (q *FileQuarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *FileQuarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.file == nil {
		return nil
	}
	err := q.file.Close()
	q.file = nil
	return err
}
