package codec

import "strings"

// Field is one named value of a record.
type Field struct {
	Name  string
	Value string
}

// Record is a parsed structured record. Field order is preserved as
// read.
type Record struct {
	Type     string
	Fields   []Field
	Children []*Record
}

// RecordType describes the records a codec should produce.
type RecordType struct {
	// Name is the record (XML element) name. For XML, when set, the decoder
	// descends into wrapper elements until it finds elements of this name.
	Name string

	// Fields names positional values for delimited formats and fixes the
	// column order for writers.
	Fields []string
}

// Empty reports whether the record has neither fields nor children.
// Readers treat an empty record as exhaustion of its stream.
func (r *Record) Empty() bool {
	return r == nil || (len(r.Fields) == 0 && len(r.Children) == 0)
}

// Get returns the first value of the named field.
func (r *Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the named field or appends it.
func (r *Record) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Values returns the values for names, in the order given. Missing
// fields yield empty strings.
func (r *Record) Values(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i], _ = r.Get(n)
	}
	return out
}

// String renders the record compactly for diagnostics.
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(r.Type)
	sb.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
	}
	for _, c := range r.Children {
		sb.WriteString(", ")
		sb.WriteString(c.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
