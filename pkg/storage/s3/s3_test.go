package s3

import (
	"io"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		key        string
		shouldFail bool
	}{
		{"s3://data/in/records.zip", "data", "in/records.zip", false},
		{"s3://data/x", "data", "x", false},
		{"s3://data", "", "", true},
		{"s3:///key", "", "", true},
		{"/local/path", "", "", true},
	}

	for _, tt := range tests {
		bucket, key, err := ParseURI(tt.uri)
		if tt.shouldFail {
			if err == nil {
				t.Errorf("ParseURI(%q) expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURI(%q) error: %v", tt.uri, err)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseURI(%q) = %q, %q; want %q, %q", tt.uri, bucket, key, tt.bucket, tt.key)
		}
	}
}

func TestBytesReader(t *testing.T) {
	r := &bytesReader{data: []byte("hello")}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("eu-west-1")
	if cfg.Region != "eu-west-1" || cfg.PartSize != 5*1024*1024 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
