// Package source hands character streams to record readers. A Source
// is a plain file, a zip archive whose entries are separate streams, or
// a workbook whose sheets are rendered as CSV text.
package source

import (
	"archive/zip"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/resource"
)

// Kind selects the source variant.
type Kind int

const (
	KindFile Kind = iota
	KindArchive
	KindWorkbook
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindWorkbook:
		return "workbook"
	default:
		return "file"
	}
}

// KindFor guesses the kind from a location's extension.
func KindFor(location string) Kind {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".zip":
		return KindArchive
	case ".xlsx", ".xlsm":
		return KindWorkbook
	default:
		return KindFile
	}
}

// ParseKind maps a configured kind name onto a Kind. "auto" and the empty
// string defer to KindFor.
func ParseKind(name, location string) (Kind, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return KindFor(location), nil
	case "file":
		return KindFile, nil
	case "archive", "zip":
		return KindArchive, nil
	case "workbook", "xlsx":
		return KindWorkbook, nil
	default:
		return KindFile, errors.InvalidFormat("source kind", name)
	}
}

// Sharing heuristic for multi-entry sources.
const (
	ShareThresholdEntries = 20
	SmallEntrySize        = 10000
)

// Options configures a Source. Zero values defer to job parameters.
type Options struct {
	Location                  string
	SkipLines                 int
	Encoding                  string
	ConsistentLineTerminators bool
	Resolver                  *resource.Resolver
}

// EntryInfo describes one stream of a source. Size is -1 when unknown.
type EntryInfo struct {
	Name string
	Size int64
}

type entry struct {
	info EntryInfo
	open func() (io.ReadCloser, error)
}

// Source owns the streams of one input. All methods are safe for
// concurrent use; one mutex guards the current stream.
type Source struct {
	kind Kind
	opts Options

	mu          sync.Mutex
	initialised bool
	closed      bool
	name        string
	local       *resource.Local
	closers     []io.Closer
	entries     []entry
	next        int
	current     *Stream
	opened      []*Stream
	streamOpts  streamOptions
	share       bool
}

// New creates a source of the given kind.
func New(kind Kind, opts Options) *Source {
	return &Source{kind: kind, opts: opts}
}

// NewFileSource creates a source over a single file.
func NewFileSource(opts Options) *Source { return New(KindFile, opts) }

// NewArchiveSource creates a source over the entries of a zip archive.
func NewArchiveSource(opts Options) *Source { return New(KindArchive, opts) }

// NewWorkbookSource creates a source over the sheets of a workbook.
func NewWorkbookSource(opts Options) *Source { return New(KindWorkbook, opts) }

// Kind returns the source variant.
func (s *Source) Kind() Kind { return s.kind }

// Name returns the base name of the input.
func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Initialise resolves the input and lists its streams. Options take
// precedence over p.
func (s *Source) Initialise(ctx context.Context, p params.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialised {
		return nil
	}

	location := s.opts.Location
	if location == "" {
		location = p.String(params.InputFile, "")
	}
	skip := s.opts.SkipLines
	if skip == 0 {
		skip = p.Int(params.SkipLines, 0)
	}
	encName := s.opts.Encoding
	if encName == "" {
		encName = p.String(params.Encoding, "")
	}

	enc, err := lookupEncoding(encName)
	if err != nil {
		return err
	}
	s.streamOpts = streamOptions{
		skipLines:  skip,
		encoding:   enc,
		consistent: s.opts.ConsistentLineTerminators || p.Bool(params.ConsistentLineTerminators, false),
	}

	resolver := s.opts.Resolver
	if resolver == nil {
		resolver = resource.NewResolver()
	}
	loc, err := resource.Parse(location)
	if err != nil {
		return err
	}
	local, err := resolver.Fetch(ctx, location)
	if err != nil {
		return err
	}
	s.local = local
	s.name = loc.Base()

	switch s.kind {
	case KindArchive:
		err = s.listArchive()
	case KindWorkbook:
		err = s.listWorkbook()
	default:
		s.listFile()
	}
	if err != nil {
		local.Close()
		return err
	}

	s.share = s.hint()
	s.initialised = true
	return nil
}

func (s *Source) listFile() {
	path := s.local.Path
	s.entries = []entry{{
		info: EntryInfo{Name: s.name, Size: s.local.Size},
		open: func() (io.ReadCloser, error) { return openFile(path) },
	}}
}

func (s *Source) listArchive() error {
	zr, err := zip.OpenReader(s.local.Path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "cannot open archive").WithContext("path", s.local.Path)
	}
	s.closers = append(s.closers, zr)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		s.entries = append(s.entries, entry{
			info: EntryInfo{Name: f.Name, Size: int64(f.UncompressedSize64)},
			open: f.Open,
		})
	}
	return nil
}

// hint reports whether workers should share streams rather than claim
// one each.
func (s *Source) hint() bool {
	if s.kind == KindFile {
		return true
	}
	if len(s.entries) <= ShareThresholdEntries {
		return true
	}
	first := s.entries[0].info.Size
	return first >= SmallEntrySize
}

// MultipleThreadsPerReader reports whether workers should share the
// current stream (true) or each claim their own with NextReader (false).
func (s *Source) MultipleThreadsPerReader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.share
}

// Entries lists the streams of the source.
func (s *Source) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.info
	}
	return out
}

// openNext opens the next entry. The caller holds s.mu.
func (s *Source) openNext() (*Stream, error) {
	for s.next < len(s.entries) {
		e := s.entries[s.next]
		s.next++

		rc, err := e.open()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeResource, "cannot open stream").WithContext("stream", e.info.Name)
		}
		st, err := newStream(e.info.Name, rc, s.streamOpts)
		if err != nil {
			return nil, err
		}
		s.opened = append(s.opened, st)
		return st, nil
	}
	return nil, nil
}

// Reader returns the shared current stream while it has input, moving
// on to the next entry once it is exhausted. It returns nil when every
// stream is exhausted or the source is closed.
func (s *Source) Reader() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	for {
		if s.current != nil {
			s.current.Lock()
			ready := s.current.Ready()
			s.current.Unlock()
			if ready {
				return s.current
			}
			s.current = nil
		}

		st, err := s.openNext()
		if err != nil || st == nil {
			return nil
		}
		s.current = st
	}
}

// NextReader claims a stream for the caller alone and primes the one
// after it. It returns nil when no streams remain.
func (s *Source) NextReader() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	st := s.current
	if st == nil {
		var err error
		if st, err = s.openNext(); err != nil || st == nil {
			return nil
		}
	}
	s.current, _ = s.openNext()
	return st
}

// Discard retires st; it is closed and never handed out again.
func (s *Source) Discard(st *Stream) {
	if st == nil {
		return
	}
	s.mu.Lock()
	if s.current == st {
		s.current = nil
	}
	s.mu.Unlock()

	st.Lock()
	st.discarded = true
	st.Unlock()
	st.Close()
}

// Close closes every stream and the input. Later calls return nil.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.current = nil

	var errs errors.MultiError
	for _, st := range s.opened {
		errs.Add(st.Close())
	}
	for _, c := range s.closers {
		errs.Add(c.Close())
	}
	errs.Add(s.local.Close())
	return errs.Combined()
}
