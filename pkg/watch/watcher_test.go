package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/logflow/recsplit/pkg/errors"
)

type calls struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
}

func (c *calls) record(_ context.Context, path string) error {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	c.ch <- path
	return nil
}

func (c *calls) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func start(t *testing.T, dir string, opts ...Option) *calls {
	t.Helper()
	w, err := New(dir, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c := &calls{ch: make(chan string, 16)}
	w.OnChange = c.record

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return c
}

func wait(t *testing.T, c *calls) string {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return ""
	}
}

func TestWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	c := start(t, dir, WithDebounce(100*time.Millisecond))

	path := filepath.Join(dir, "in.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f.WriteString("1,a\n")
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()

	if got := wait(t, c); got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	time.Sleep(300 * time.Millisecond)
	if n := c.count(); n != 1 {
		t.Errorf("OnChange called %d times, want 1", n)
	}
}

func TestWatcherPattern(t *testing.T) {
	dir := t.TempDir()
	c := start(t, dir, WithDebounce(20*time.Millisecond), WithPattern("*.csv"))

	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "take.csv")
	if err := os.WriteFile(want, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := wait(t, c); got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestNewErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	os.WriteFile(file, nil, 0644)

	tests := []struct {
		name string
		dir  string
		opts []Option
		code errors.Code
	}{
		{"missing", filepath.Join(dir, "nope"), nil, errors.CodeFileNotFound},
		{"not a directory", file, nil, errors.CodeInvalidFormat},
		{"bad pattern", dir, []Option{WithPattern("[")}, errors.CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dir, tt.opts...)
			if !errors.IsCode(err, tt.code) {
				t.Errorf("New() error = %v, want %v", err, tt.code)
			}
		})
	}
}
