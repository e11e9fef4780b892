package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/logflow/recsplit/pkg/errors"
)

const fileExt = ".json"

// FileBackend keeps one JSON file per execution in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		dir = ".recsplit/checkpoints"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create checkpoint directory").WithContext("dir", dir)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+fileExt)
}

// Save writes through a temporary file and a rename.
func (b *FileBackend) Save(ctx context.Context, e *StepExecution) error {
	data, err := e.encode()
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode step execution")
	}

	path := b.path(e.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to save step execution")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to save step execution")
	}
	return nil
}

func (b *FileBackend) Load(ctx context.Context, id string) (*StepExecution, error) {
	data, err := os.ReadFile(b.path(id))
	if os.IsNotExist(err) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to load step execution")
	}
	return decode(data)
}

func (b *FileBackend) Delete(ctx context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to delete step execution")
	}
	return nil
}

// List skips files that cannot be read or decoded.
func (b *FileBackend) List(ctx context.Context) ([]*StepExecution, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to list checkpoints")
	}

	var out []*StepExecution
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		e, err := decode(data)
		if err != nil {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *FileBackend) ListIncomplete(ctx context.Context) ([]*StepExecution, error) {
	all, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*StepExecution
	for _, e := range all {
		if !e.Done() {
			out = append(out, e)
		}
	}
	return out, nil
}

// Cleanup removes execution files older than maxAge.
func (b *FileBackend) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeResource, "failed to list checkpoints")
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(b.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Close() error { return nil }
