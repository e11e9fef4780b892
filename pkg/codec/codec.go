// Package codec converts between character streams and records. Readers
// treat a codec as an opaque collaborator: a Decoder yields one record
// per call and nil, io.EOF at the end of its input.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/splitter"
)

// Decoder reads records from one input.
type Decoder interface {
	Decode() (*Record, error)
}

// Encoder writes records to one output.
type Encoder interface {
	Encode(rec *Record) error
	Flush() error
}

// Codec creates decoders and encoders for one format.
type Codec interface {
	Name() string
	ContentType() string
	NewDecoder(r io.Reader, t RecordType) Decoder
	NewEncoder(w io.Writer, t RecordType) Encoder
}

// SyntaxError reports input that the codec could not interpret.
type SyntaxError struct {
	Format string
	Line   int
	Msg    string
	Cause  error
}

func (e *SyntaxError) Error() string {
	msg := fmt.Sprintf("%s syntax error", e.Format)
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

// ErrorCode implements errors.Coder.
func (e *SyntaxError) ErrorCode() errors.Code { return errors.CodeParseFailed }

var registry = map[string]func() Codec{
	"csv":   func() Codec { return NewCSV(',') },
	"tsv":   func() Codec { return NewCSV('\t') },
	"xml":   func() Codec { return NewXML() },
	"jsonl": func() Codec { return NewJSONL() },
}

// Lookup returns a new codec registered under name.
func Lookup(name string) (Codec, error) {
	fn, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errors.InvalidFormat("codec", name)
	}
	return fn(), nil
}

// Names lists the registered codecs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type lineReader interface {
	ReadLine() (string, error)
}

// lines adapts r for line-oriented decoding without reading past the
// lines actually consumed when r is already a Splitter.
func lines(r io.Reader) lineReader {
	if lr, ok := r.(lineReader); ok {
		return lr
	}
	return splitter.New(r)
}

func trimTerminator(line string) string {
	return strings.TrimRight(line, "\r\n")
}
