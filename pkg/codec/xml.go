package codec

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// XML reads elements as records. Attributes and text-only child
// elements become fields; child elements with structure become child
// records.
type XML struct {
	// CloseAfterDocument closes the input once a record has been
	// decoded, the way document parsers release their stream after one
	// top-level element. Later Decode calls fail with the input's
	// closed error, which readers treat as ordinary exhaustion.
	CloseAfterDocument bool

	// Indent is used by encoders; empty writes compact output.
	Indent string
}

// NewXML creates an XML codec.
func NewXML() *XML {
	return &XML{}
}

func (c *XML) Name() string        { return "xml" }
func (c *XML) ContentType() string { return "application/xml" }

// NewDecoder returns a decoder over r. When r implements io.ByteReader
// the decoder never reads past the element it returns.
func (c *XML) NewDecoder(r io.Reader, t RecordType) Decoder {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	return &xmlDecoder{
		dec:        dec,
		src:        r,
		typ:        t,
		closeAfter: c.CloseAfterDocument,
	}
}

type xmlDecoder struct {
	dec        *xml.Decoder
	src        io.Reader
	typ        RecordType
	closeAfter bool
}

func (d *xmlDecoder) Decode() (*Record, error) {
	for {
		tok, err := d.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, d.wrap(err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if d.typ.Name != "" && se.Name.Local != d.typ.Name {
			// descend into wrapper elements
			continue
		}

		rec, text, err := d.element(se)
		if err != nil {
			return nil, d.wrap(err)
		}
		if rec.Empty() && strings.TrimSpace(text) != "" {
			rec.Fields = append(rec.Fields, Field{Name: rec.Type, Value: strings.TrimSpace(text)})
		}

		if d.closeAfter {
			if c, ok := d.src.(io.Closer); ok {
				c.Close()
			}
		}
		return rec, nil
	}
}

// element consumes tokens up to the end of se.
func (d *xmlDecoder) element(se xml.StartElement) (*Record, string, error) {
	rec := &Record{Type: se.Name.Local}
	for _, a := range se.Attr {
		rec.Fields = append(rec.Fields, Field{Name: a.Name.Local, Value: a.Value})
	}

	var text strings.Builder
	for {
		tok, err := d.dec.Token()
		if err == io.EOF {
			return nil, "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, childText, err := d.element(t)
			if err != nil {
				return nil, "", err
			}
			if child.Empty() {
				rec.Fields = append(rec.Fields, Field{Name: child.Type, Value: strings.TrimSpace(childText)})
			} else {
				rec.Children = append(rec.Children, child)
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return rec, text.String(), nil
		}
	}
}

func (d *xmlDecoder) wrap(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Format: "xml", Line: se.Line, Msg: se.Msg}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &SyntaxError{Format: "xml", Msg: "unexpected end of input", Cause: err}
	}
	return err
}

// NewEncoder returns an encoder that writes one element per record.
func (c *XML) NewEncoder(w io.Writer, t RecordType) Encoder {
	enc := xml.NewEncoder(w)
	if c.Indent != "" {
		enc.Indent("", c.Indent)
	}
	return &xmlEncoder{enc: enc, w: w, typ: t}
}

type xmlEncoder struct {
	enc *xml.Encoder
	w   io.Writer
	typ RecordType
}

func (e *xmlEncoder) Encode(rec *Record) error {
	name := rec.Type
	if name == "" {
		name = e.typ.Name
	}
	if name == "" {
		name = "record"
	}
	if err := e.encodeRecord(name, rec); err != nil {
		return err
	}
	if err := e.enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, "\n")
	return err
}

func (e *xmlEncoder) encodeRecord(name string, rec *Record) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := e.enc.EncodeToken(start); err != nil {
		return err
	}
	for _, f := range rec.Fields {
		if err := e.enc.EncodeElement(f.Value, xml.StartElement{Name: xml.Name{Local: f.Name}}); err != nil {
			return err
		}
	}
	for _, child := range rec.Children {
		if err := e.encodeRecord(child.Type, child); err != nil {
			return err
		}
	}
	return e.enc.EncodeToken(start.End())
}

func (e *xmlEncoder) Flush() error {
	return e.enc.Flush()
}
