// Package splitter provides a buffered byte reader with fast
// scan-until-delimiter operations and a single slot of pushback.
//
// A Splitter is not safe for concurrent use. Callers that share one
// across goroutines must serialise every call themselves.
package splitter

import (
	"errors"
	"io"
	"io/fs"
)

// BufferSize is the capacity of the internal buffer.
const BufferSize = 10000

// ErrClosed is returned by reads on a closed Splitter.
var ErrClosed = errors.New("stream closed")

// Option configures a Splitter.
type Option func(*Splitter)

// WithConsistentLineTerminators declares that every line of the stream
// ends with the same terminator. After the first single-byte terminator
// is seen, ReadLine switches to a single-byte scan. The declaration is
// not checked.
func WithConsistentLineTerminators() Option {
	return func(s *Splitter) {
		s.consistent = true
	}
}

// WithBufferSize overrides the buffer capacity.
func WithBufferSize(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.buf = make([]byte, n)
		}
	}
}

// Splitter carves a byte stream into lines or delimiter-bounded chunks.
type Splitter struct {
	src   io.Reader
	buf   []byte
	index int
	end   int
	eof   bool
	err   error

	closed bool

	pushed    string
	hasPushed bool

	consistent bool
	terminator byte
}

// New wraps r in a Splitter.
func New(r io.Reader, opts ...Option) *Splitter {
	s := &Splitter{src: r}
	for _, opt := range opts {
		opt(s)
	}
	if s.buf == nil {
		s.buf = make([]byte, BufferSize)
	}
	return s
}

// fill refills the buffer from the source. It reports false once the
// source is permanently exhausted.
func (s *Splitter) fill() (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	s.index, s.end = 0, 0
	if s.err != nil {
		return false, s.err
	}

	for !s.eof {
		n, err := s.src.Read(s.buf)
		if err != nil {
			switch {
			case err == io.EOF:
				s.eof = true
			case errors.Is(err, fs.ErrClosed), errors.Is(err, io.ErrClosedPipe), errors.Is(err, ErrClosed):
				s.err = ErrClosed
			default:
				s.err = err
			}
		}
		if n > 0 {
			s.end = n
			return true, nil
		}
		if s.err != nil {
			return false, s.err
		}
	}
	return false, nil
}

func (s *Splitter) takePushback() string {
	text := s.pushed
	s.pushed = ""
	s.hasPushed = false
	return text
}

// ReadLine returns the next line including its terminator. \n, \r and
// \r\n are all recognised. It returns io.EOF when no data remains.
func (s *Splitter) ReadLine() (string, error) {
	if s.hasPushed {
		return s.takePushback(), nil
	}
	if s.consistent && s.terminator != 0 {
		return s.ReadUntilInclusive(s.terminator)
	}

	var line []byte
	var last byte
	for {
		if s.index >= s.end {
			ok, err := s.fill()
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
		}

		i := s.index
		done := false
		for ; i < s.end; i++ {
			c := s.buf[i]
			if c == '\n' {
				i++
				done = true
				break
			}
			if last == '\r' {
				done = true
				break
			}
			last = c
		}
		line = append(line, s.buf[s.index:i]...)
		s.index = i
		if done {
			break
		}
	}

	if len(line) == 0 {
		return "", io.EOF
	}
	if s.consistent {
		s.learnTerminator(line)
	}
	return string(line), nil
}

func (s *Splitter) learnTerminator(line []byte) {
	n := len(line)
	switch {
	case line[n-1] == '\n' && (n == 1 || line[n-2] != '\r'):
		s.terminator = '\n'
	case line[n-1] == '\r':
		s.terminator = '\r'
	}
}

// ReadUntil returns bytes up to, but not including, the next delim. The
// delimiter stays in the stream, so a delim at the first position of a
// call is never a match. A pending pushback is returned verbatim
// whatever delim is.
func (s *Splitter) ReadUntil(delim byte) (string, error) {
	return s.readUntil(delim, false)
}

// ReadUntilInclusive returns bytes up to and including the next delim.
func (s *Splitter) ReadUntilInclusive(delim byte) (string, error) {
	return s.readUntil(delim, true)
}

func (s *Splitter) readUntil(delim byte, inclusive bool) (string, error) {
	if s.hasPushed {
		return s.takePushback(), nil
	}

	var out []byte
	for {
		if s.index >= s.end {
			ok, err := s.fill()
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
		}

		i := s.index
		if !inclusive && len(out) == 0 {
			i++
		}
		found := false
		for ; i < s.end; i++ {
			if s.buf[i] == delim {
				found = true
				if inclusive {
					i++
				}
				break
			}
		}
		out = append(out, s.buf[s.index:i]...)
		s.index = i
		if found {
			break
		}
	}

	if len(out) == 0 {
		return "", io.EOF
	}
	return string(out), nil
}

// Pushback stores text to be returned by the next read. Only one chunk
// is held: a second Pushback before the first is consumed replaces it.
func (s *Splitter) Pushback(text string) {
	s.pushed = text
	s.hasPushed = true
}

// Ready reports whether a read would return data. It may block while
// refilling the buffer. A source error makes it report false; Err
// returns the error.
func (s *Splitter) Ready() bool {
	if s.closed {
		return false
	}
	if s.hasPushed || s.index < s.end {
		return true
	}
	ok, err := s.fill()
	return ok && err == nil
}

// Read copies pending pushback first, then buffered data, until p is
// full or the source is exhausted. It returns 0, io.EOF when nothing
// could be copied.
func (s *Splitter) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	if s.hasPushed {
		k := copy(p, s.pushed)
		n += k
		if k < len(s.pushed) {
			s.pushed = s.pushed[k:]
		} else {
			s.takePushback()
		}
	}

	for n < len(p) {
		if s.index >= s.end {
			ok, err := s.fill()
			if err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			if !ok {
				break
			}
		}
		k := copy(p[n:], s.buf[s.index:s.end])
		s.index += k
		n += k
	}

	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadByte implements io.ByteReader so decoders that consume byte by byte
// never read past what they use.
func (s *Splitter) ReadByte() (byte, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.hasPushed {
		if len(s.pushed) == 0 {
			s.takePushback()
		} else {
			c := s.pushed[0]
			if len(s.pushed) == 1 {
				s.takePushback()
			} else {
				s.pushed = s.pushed[1:]
			}
			return c, nil
		}
	}
	if s.index >= s.end {
		ok, err := s.fill()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, io.EOF
		}
	}
	c := s.buf[s.index]
	s.index++
	return c, nil
}

// Close releases the buffer and closes the source if it is an io.Closer.
// Later reads fail with ErrClosed.
func (s *Splitter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.index, s.end = 0, 0
	s.takePushback()
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Err returns the source error that ended the stream, if any. Closing
// and reaching the end are not errors, and once the Splitter is closed
// an earlier source error is no longer reported.
func (s *Splitter) Err() error {
	if s.closed || s.err == ErrClosed {
		return nil
	}
	return s.err
}

// Closed reports whether Close has been called.
func (s *Splitter) Closed() bool {
	return s.closed
}
