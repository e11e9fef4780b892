// Package boundary groups lines from a splitter into self-contained
// entity text using start and stop patterns.
package boundary

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/splitter"
)

// Entity is the text of one logical record plus the context a Listener
// associated with it.
type Entity struct {
	Text    string
	Context any
}

// Empty reports whether the entity carries no usable text.
func (e Entity) Empty() bool {
	return strings.TrimSpace(e.Text) == ""
}

// Listener observes entity extraction. ProcessLine may rewrite each line
// before it is tested against the patterns. Context computes the opaque
// value carried alongside the completed entity.
type Listener interface {
	ProcessLine(line string) string
	Context(text string) any
}

// LineReaderFunc pulls the next unit of text from a splitter.
type LineReaderFunc func(sp *splitter.Splitter) (string, error)

// Lines reads terminator-delimited lines.
func Lines(sp *splitter.Splitter) (string, error) {
	return sp.ReadLine()
}

// XMLLines breaks text before every '<', so each unit starts with an
// element or declaration. '<' inside CDATA sections is not supported.
func XMLLines(sp *splitter.Splitter) (string, error) {
	return sp.ReadUntil('<')
}

// Option configures a Detector.
type Option func(*Detector)

// WithListener installs a Listener.
func WithListener(l Listener) Option {
	return func(d *Detector) {
		d.listener = l
	}
}

// WithLineReader replaces the default line reader.
func WithLineReader(fn LineReaderFunc) Option {
	return func(d *Detector) {
		if fn != nil {
			d.readLine = fn
		}
	}
}

// WithMaxSize bounds the size of a single entity in bytes. Zero means
// unbounded.
func WithMaxSize(n int) Option {
	return func(d *Detector) {
		d.maxSize = n
	}
}

// Detector splits a stream into entities.
type Detector struct {
	start    *regexp.Regexp
	stop     *regexp.Regexp
	listener Listener
	readLine LineReaderFunc
	maxSize  int
}

// Compile compiles a pattern that must match a whole line, terminator
// included, with '.' matching newlines.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`(?s)^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// New creates a Detector. start is required, stop is optional.
func New(start, stop string, opts ...Option) (*Detector, error) {
	if start == "" {
		return nil, errors.New(errors.CodeInvalidFormat, "start pattern is required")
	}

	d := &Detector{readLine: Lines}
	var err error
	if d.start, err = Compile(start); err != nil {
		return nil, err
	}
	if stop != "" {
		if d.stop, err = Compile(stop); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ReadElement returns the next entity from sp. Lines before the first
// start match are dropped. With only a start pattern, a start line that
// follows accumulated text is pushed back and ends the entity. With a
// stop pattern, start matches inside an entity are ignored and the stop
// line is included. A whitespace-only result comes back as an empty
// Entity. A source error ends the entity early and is returned in
// place of the partial text.
//
// sp must not be used concurrently; callers sharing it hold its lock.
func (d *Detector) ReadElement(sp *splitter.Splitter) (Entity, error) {
	var sb strings.Builder
	inElement := false

	for sp.Ready() {
		raw, err := d.readLine(sp)
		if err == io.EOF {
			break
		}
		if err != nil {
			return Entity{}, err
		}

		line := raw
		if d.listener != nil {
			line = d.listener.ProcessLine(raw)
		}

		if (!inElement || d.stop == nil) && d.start.MatchString(line) {
			if strings.TrimSpace(sb.String()) != "" {
				sp.Pushback(raw)
				break
			}
			inElement = true
		}

		if inElement {
			sb.WriteString(line)
			if d.maxSize > 0 && sb.Len() > d.maxSize {
				return Entity{}, errors.New(errors.CodeEntityTooLarge, "entity exceeds maximum size").
					WithContext("max_size", d.maxSize)
			}
			if d.stop != nil && d.stop.MatchString(line) {
				break
			}
		}
	}

	if err := sp.Err(); err != nil {
		return Entity{}, err
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return Entity{}, nil
	}

	ent := Entity{Text: text}
	if d.listener != nil {
		ent.Context = d.listener.Context(text)
	}
	return ent, nil
}
