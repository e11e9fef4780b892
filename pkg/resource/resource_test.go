package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/logflow/recsplit/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		path string
		base string
	}{
		{"/data/in.csv", KindLocal, "/data/in.csv", "in.csv"},
		{"file:///data/in.zip", KindLocal, "/data/in.zip", "in.zip"},
		{"s3://bucket/dir/in.zip", KindS3, "", "in.zip"},
		{"https://example.com/feeds/in.xml?sig=1", KindHTTP, "", "in.xml"},
	}

	for _, tt := range tests {
		loc, err := Parse(tt.raw)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.raw, err)
			continue
		}
		if loc.Kind != tt.kind || loc.Path != tt.path || loc.Base() != tt.base {
			t.Errorf("Parse(%q) = %+v (base %q)", tt.raw, loc, loc.Base())
		}
	}

	if _, err := Parse(""); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Parse(\"\") = %v, want file not found", err)
	}
}

func TestFetchLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	os.WriteFile(path, []byte("hello"), 0644)

	r := NewResolver()
	local, err := r.Fetch(context.Background(), "file://"+path)
	if err != nil {
		t.Fatal(err)
	}
	if local.Path != path || local.Size != 5 {
		t.Errorf("unexpected local %+v", local)
	}
	local.Close()
	if _, err := os.Stat(path); err != nil {
		t.Error("closing a local input must not remove it")
	}

	if _, err := r.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing")); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file not found, got %v", err)
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	r := NewResolver(WithTempDir(t.TempDir()))
	local, err := r.Fetch(context.Background(), srv.URL+"/data.csv")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(local.Path)
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("staged content = %q", data)
	}
	local.Close()
	if _, err := os.Stat(local.Path); !os.IsNotExist(err) {
		t.Error("temporary copy was not removed")
	}

	if _, err := r.Fetch(context.Background(), srv.URL+"/missing"); !errors.IsCode(err, errors.CodeResource) {
		t.Errorf("expected resource error, got %v", err)
	}
}

func TestCreateLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	w, err := NewResolver().Create(context.Background(), path, "text/csv")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("x"))
	w.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "x" {
		t.Errorf("got %q", data)
	}
}
