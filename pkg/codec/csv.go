package codec

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSV reads and writes delimited text, one record per logical line.
type CSV struct {
	Delimiter byte
}

// NewCSV creates a CSV codec with the given delimiter.
func NewCSV(delimiter byte) *CSV {
	return &CSV{Delimiter: delimiter}
}

func (c *CSV) Name() string {
	if c.Delimiter == '\t' {
		return "tsv"
	}
	return "csv"
}

func (c *CSV) ContentType() string { return "text/csv" }

// NewDecoder returns a decoder over r. Blank lines are skipped. When t
// names fields, every line must carry exactly that many values.
func (c *CSV) NewDecoder(r io.Reader, t RecordType) Decoder {
	return &csvDecoder{
		in:      lines(r),
		typ:     t,
		scanner: newCSVScanner(c.Delimiter),
	}
}

type csvDecoder struct {
	in      lineReader
	typ     RecordType
	scanner *csvScanner
	line    int
}

func (d *csvDecoder) Decode() (*Record, error) {
	for {
		text, err := d.in.ReadLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		d.line++
		start := d.line

		// a quoted field may span lines
		for openQuote(text) {
			more, err := d.in.ReadLine()
			if err == io.EOF {
				return nil, &SyntaxError{Format: "csv", Line: start, Msg: "unterminated quoted field"}
			}
			if err != nil {
				return nil, err
			}
			d.line++
			text += more
		}

		body := trimTerminator(text)
		if strings.TrimSpace(body) == "" {
			continue
		}
		return d.record(d.scanner.scan([]byte(body)), start)
	}
}

func (d *csvDecoder) record(values []string, line int) (*Record, error) {
	names := d.typ.Fields
	if len(names) > 0 && len(values) != len(names) {
		return nil, &SyntaxError{
			Format: "csv",
			Line:   line,
			Msg:    fmt.Sprintf("expected %d fields, got %d", len(names), len(values)),
		}
	}

	rec := &Record{Type: d.typ.Name, Fields: make([]Field, len(values))}
	for i, v := range values {
		name := fmt.Sprintf("field%d", i+1)
		if len(names) > 0 {
			name = names[i]
		}
		rec.Fields[i] = Field{Name: name, Value: v}
	}
	return rec, nil
}

// NewEncoder returns an encoder that writes one line per record. When t
// names fields they fix the column order, otherwise record order is used.
func (c *CSV) NewEncoder(w io.Writer, t RecordType) Encoder {
	cw := csv.NewWriter(w)
	cw.Comma = rune(c.Delimiter)
	return &csvEncoder{w: cw, typ: t}
}

type csvEncoder struct {
	w   *csv.Writer
	typ RecordType
}

func (e *csvEncoder) Encode(rec *Record) error {
	var row []string
	if len(e.typ.Fields) > 0 {
		row = rec.Values(e.typ.Fields)
	} else {
		row = make([]string, len(rec.Fields))
		for i, f := range rec.Fields {
			row[i] = f.Value
		}
	}
	return e.w.Write(row)
}

func (e *csvEncoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}
