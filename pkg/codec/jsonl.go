package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// JSONL reads and writes newline-delimited JSON objects. Scalar members
// become fields in document order; object members and arrays of objects
// become child records named after their key.
type JSONL struct{}

// NewJSONL creates a JSONL codec.
func NewJSONL() *JSONL {
	return &JSONL{}
}

func (c *JSONL) Name() string        { return "jsonl" }
func (c *JSONL) ContentType() string { return "application/x-ndjson" }

func (c *JSONL) NewDecoder(r io.Reader, t RecordType) Decoder {
	return &jsonlDecoder{in: lines(r), typ: t}
}

type jsonlDecoder struct {
	in   lineReader
	typ  RecordType
	line int
}

func (d *jsonlDecoder) Decode() (*Record, error) {
	for {
		text, err := d.in.ReadLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		d.line++

		body := strings.TrimSpace(text)
		if body == "" {
			continue
		}
		if body[0] != '{' {
			return nil, &SyntaxError{Format: "jsonl", Line: d.line, Msg: "expected a JSON object"}
		}

		dec := json.NewDecoder(strings.NewReader(body))
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			return nil, &SyntaxError{Format: "jsonl", Line: d.line, Cause: err}
		}
		rec, err := decodeObject(dec, d.typ.Name)
		if err != nil {
			return nil, &SyntaxError{Format: "jsonl", Line: d.line, Cause: err}
		}
		return rec, nil
	}
}

// decodeObject reads members after an opening brace up to its closing
// brace.
func decodeObject(dec *json.Decoder, name string) (*Record, error) {
	rec := &Record{Type: name}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		if err := decodeMember(dec, rec, key); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeMember(dec *json.Decoder, rec *Record, key string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			child, err := decodeObject(dec, key)
			if err != nil {
				return err
			}
			rec.Children = append(rec.Children, child)
		case '[':
			for dec.More() {
				if err := decodeMember(dec, rec, key); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
		}
	case nil:
		rec.Fields = append(rec.Fields, Field{Name: key})
	case string:
		rec.Fields = append(rec.Fields, Field{Name: key, Value: v})
	case json.Number:
		rec.Fields = append(rec.Fields, Field{Name: key, Value: v.String()})
	case bool:
		rec.Fields = append(rec.Fields, Field{Name: key, Value: fmt.Sprint(v)})
	}
	return nil
}

func (c *JSONL) NewEncoder(w io.Writer, t RecordType) Encoder {
	return &jsonlEncoder{w: bufio.NewWriter(w), typ: t}
}

type jsonlEncoder struct {
	w   *bufio.Writer
	typ RecordType
	buf bytes.Buffer
}

func (e *jsonlEncoder) Encode(rec *Record) error {
	e.buf.Reset()
	if err := writeObject(&e.buf, rec, e.typ.Fields); err != nil {
		return err
	}
	e.buf.WriteByte('\n')
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

func writeObject(buf *bytes.Buffer, rec *Record, order []string) error {
	buf.WriteByte('{')
	first := true
	member := func(key string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
	}

	fields := rec.Fields
	if len(order) > 0 {
		fields = make([]Field, len(order))
		for i, name := range order {
			v, _ := rec.Get(name)
			fields[i] = Field{Name: name, Value: v}
		}
	}
	for _, f := range fields {
		member(f.Name)
		v, err := json.Marshal(f.Value)
		if err != nil {
			return err
		}
		buf.Write(v)
	}

	// children sharing a type are written as one array
	var types []string
	groups := map[string][]*Record{}
	for _, c := range rec.Children {
		if _, seen := groups[c.Type]; !seen {
			types = append(types, c.Type)
		}
		groups[c.Type] = append(groups[c.Type], c)
	}
	for _, typ := range types {
		member(typ)
		group := groups[typ]
		if len(group) == 1 {
			if err := writeObject(buf, group[0], nil); err != nil {
				return err
			}
			continue
		}
		buf.WriteByte('[')
		for i, c := range group {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeObject(buf, c, nil); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return nil
}

func (e *jsonlEncoder) Flush() error {
	return e.w.Flush()
}
