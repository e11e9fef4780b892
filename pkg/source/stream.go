package source

import (
	"io"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/splitter"
)

// Stream is one readable character stream of a source: the file itself,
// an archive entry or a workbook sheet. Callers sharing a stream between
// workers hold its lock around every splitter call.
type Stream struct {
	mu        sync.Mutex
	name      string
	sp        *splitter.Splitter
	discarded bool
}

// Name identifies the stream within its source.
func (s *Stream) Name() string { return s.name }

// Splitter returns the stream's splitter.
func (s *Stream) Splitter() *splitter.Splitter { return s.sp }

// Lock acquires the stream lock.
func (s *Stream) Lock() { s.mu.Lock() }

// Unlock releases the stream lock.
func (s *Stream) Unlock() { s.mu.Unlock() }

// Ready reports whether more input can be read. The caller holds the
// lock.
func (s *Stream) Ready() bool {
	return !s.discarded && s.sp.Ready()
}

// Close closes the splitter and the underlying entry.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sp.Close()
}

type readCloser struct {
	io.Reader
	io.Closer
}

// streamOptions are applied to every stream a source opens.
type streamOptions struct {
	skipLines  int
	encoding   encoding.Encoding
	consistent bool
}

func newStream(name string, rc io.ReadCloser, o streamOptions) (*Stream, error) {
	var r io.Reader = rc
	if o.encoding != nil {
		r = transform.NewReader(rc, o.encoding.NewDecoder())
	}

	var opts []splitter.Option
	if o.consistent {
		opts = append(opts, splitter.WithConsistentLineTerminators())
	}
	sp := splitter.New(readCloser{Reader: r, Closer: rc}, opts...)

	for i := 0; i < o.skipLines; i++ {
		if _, err := sp.ReadLine(); err != nil {
			if err == io.EOF {
				break
			}
			sp.Close()
			return nil, errors.Wrap(err, errors.CodeResource, "cannot skip leading lines").WithContext("stream", name)
		}
	}

	return &Stream{name: name, sp: sp}, nil
}

// lookupEncoding resolves a charset name. Empty and UTF-8 names return
// nil, meaning the bytes are used as they are.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch name {
	case "", "utf-8", "UTF-8", "utf8":
		return nil, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.New(errors.CodeEncodingError, "unknown encoding").WithContext("encoding", name)
	}
	return enc, nil
}
