// Package resource resolves input and output locations. Local paths and
// file:// URIs are used in place; s3:// and http(s):// inputs are
// downloaded to a temporary file so archives can be opened for random
// access.
package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/storage/s3"
)

// Kind classifies a location.
type Kind uint8

const (
	KindLocal Kind = iota
	KindS3
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindS3:
		return "s3"
	case KindHTTP:
		return "http"
	default:
		return "local"
	}
}

// Location is a parsed input or output location.
type Location struct {
	Raw    string
	Kind   Kind
	Path   string
	Bucket string
	Key    string
}

// Base returns the final path element of the location.
func (l Location) Base() string {
	switch l.Kind {
	case KindS3:
		return filepath.Base(l.Key)
	case KindHTTP:
		trimmed := strings.SplitN(l.Raw, "?", 2)[0]
		return filepath.Base(trimmed)
	default:
		return filepath.Base(l.Path)
	}
}

// Parse classifies raw.
func Parse(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, errors.New(errors.CodeFileNotFound, "no location given")
	}

	switch {
	case strings.HasPrefix(raw, s3.Scheme):
		bucket, key, err := s3.ParseURI(raw)
		if err != nil {
			return Location{}, errors.Wrap(err, errors.CodeInvalidFormat, "invalid s3 location")
		}
		return Location{Raw: raw, Kind: KindS3, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Location{Raw: raw, Kind: KindHTTP}, nil
	default:
		return Location{Raw: raw, Kind: KindLocal, Path: params.StripFileScheme(raw)}, nil
	}
}

// Local is an input available on the local filesystem.
type Local struct {
	Path string
	Size int64
	temp bool
}

// Close removes the downloaded copy, if any.
func (l *Local) Close() error {
	if l == nil || !l.temp {
		return nil
	}
	l.temp = false
	return os.Remove(l.Path)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithS3Config sets the configuration used for s3:// locations.
func WithS3Config(cfg s3.Config) Option {
	return func(r *Resolver) {
		r.s3cfg = cfg
	}
}

// WithHTTPClient sets the client used for http(s):// locations.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithTempDir sets where downloads are staged.
func WithTempDir(dir string) Option {
	return func(r *Resolver) {
		r.tempDir = dir
	}
}

// Resolver fetches inputs and opens outputs.
type Resolver struct {
	s3cfg      s3.Config
	httpClient *http.Client
	tempDir    string

	mu       sync.Mutex
	s3client *s3.Client
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		s3cfg:      s3.DefaultConfig(os.Getenv("AWS_REGION")),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) s3Client(ctx context.Context) (*s3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.s3client == nil {
		c, err := s3.NewClient(ctx, r.s3cfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeResource, "s3 client")
		}
		r.s3client = c
	}
	return r.s3client, nil
}

// Fetch makes raw available as a local file. The caller closes the
// result to release any temporary copy.
func (r *Resolver) Fetch(ctx context.Context, raw string) (*Local, error) {
	loc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	switch loc.Kind {
	case KindS3:
		client, err := r.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		body, _, err := client.Reader(ctx, loc.Bucket, loc.Key)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeResource, "fetch failed").WithContext("location", raw)
		}
		defer body.Close()
		return r.stage(loc, body)

	case KindHTTP:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.Raw, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidFormat, "invalid url")
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeResource, "fetch failed").WithContext("location", raw)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.New(errors.CodeResource, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
				WithContext("location", raw)
		}
		return r.stage(loc, resp.Body)

	default:
		info, err := os.Stat(loc.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.FileNotFound(loc.Path)
			}
			return nil, errors.Wrap(err, errors.CodeFilePermission, "cannot stat input").WithContext("path", loc.Path)
		}
		return &Local{Path: loc.Path, Size: info.Size()}, nil
	}
}

func (r *Resolver) stage(loc Location, body io.Reader) (*Local, error) {
	f, err := os.CreateTemp(r.tempDir, "recsplit-*-"+loc.Base())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "cannot stage download")
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrap(err, errors.CodeResource, "download failed").WithContext("location", loc.Raw)
	}
	return &Local{Path: f.Name(), Size: n, temp: true}, nil
}

// Create opens raw for writing. Local parents are created as needed.
func (r *Resolver) Create(ctx context.Context, raw, contentType string) (io.WriteCloser, error) {
	loc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	switch loc.Kind {
	case KindS3:
		client, err := r.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return client.Writer(loc.Bucket, loc.Key, contentType), nil
	case KindHTTP:
		return nil, errors.New(errors.CodeInvalidFormat, "http outputs are not supported").WithContext("location", raw)
	default:
		if dir := filepath.Dir(loc.Path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrap(err, errors.CodeWriteFailed, "cannot create output directory")
			}
		}
		f, err := os.Create(loc.Path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeWriteFailed, "cannot create output").WithContext("path", loc.Path)
		}
		return f, nil
	}
}
