package codec

// csvState is the state of the CSV field scanner.
type csvState uint8

const (
	stateFieldStart csvState = iota
	stateInField
	stateInQuotedField
	stateQuoteInQuotedField
)

// csvScanner splits one logical CSV record into fields with a finite
// state machine. Embedded delimiters, doubled quotes and quoted line
// breaks are handled.
type csvScanner struct {
	delimiter  byte
	state      csvState
	fieldStart int
	fieldEnd   int
}

func newCSVScanner(delimiter byte) *csvScanner {
	return &csvScanner{delimiter: delimiter}
}

// scan returns the fields of line, which must not carry its trailing
// terminator. An unterminated quoted field takes the rest of the line.
func (s *csvScanner) scan(line []byte) []string {
	if len(line) == 0 {
		return nil
	}

	fields := make([]string, 0, 16)
	s.state = stateFieldStart
	needsUnescape := false

	for i := 0; i <= len(line); i++ {
		var c byte
		if i < len(line) {
			c = line[i]
		}

		switch s.state {
		case stateFieldStart:
			if i >= len(line) {
				// trailing delimiter leaves an empty final field
				fields = append(fields, "")
				continue
			}
			switch c {
			case '"':
				s.fieldStart = i + 1
				s.state = stateInQuotedField
			case s.delimiter:
				fields = append(fields, "")
			default:
				s.fieldStart = i
				s.state = stateInField
			}

		case stateInField:
			if i >= len(line) || c == s.delimiter {
				fields = append(fields, string(line[s.fieldStart:i]))
				s.state = stateFieldStart
			}

		case stateInQuotedField:
			if i >= len(line) {
				fields = append(fields, string(line[s.fieldStart:i]))
				continue
			}
			if c == '"' {
				s.fieldEnd = i
				s.state = stateQuoteInQuotedField
			}

		case stateQuoteInQuotedField:
			switch {
			case i >= len(line) || c == s.delimiter:
				field := line[s.fieldStart:s.fieldEnd]
				if needsUnescape {
					field = unescapeQuotes(field)
					needsUnescape = false
				}
				fields = append(fields, string(field))
				s.state = stateFieldStart
			case c == '"':
				needsUnescape = true
				s.state = stateInQuotedField
			default:
				// stray character after a closing quote; stay lenient
				s.state = stateInQuotedField
			}
		}
	}

	return fields
}

// unescapeQuotes replaces "" with " in a quoted field.
func unescapeQuotes(field []byte) []byte {
	buf := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
			buf = append(buf, '"')
			i++
			continue
		}
		buf = append(buf, field[i])
	}
	return buf
}

// openQuote reports whether text ends inside a quoted field.
func openQuote(text string) bool {
	quotes := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '"' {
			quotes++
		}
	}
	return quotes%2 == 1
}
