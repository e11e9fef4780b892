package splitter

import (
	"errors"
	"io"
	"strings"
	"testing"
)

const sample = "String 1\nString 2\r\nString 3\rString 4"

func readAllLines(t *testing.T, s *Splitter) []string {
	t.Helper()
	var lines []string
	for {
		line, err := s.ReadLine()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("ReadLine() error: %v", err)
		}
		lines = append(lines, line)
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  []Option
		want  []string
	}{
		{"mixed terminators", sample, nil, []string{"String 1\n", "String 2\r\n", "String 3\r", "String 4"}},
		{"short", "A\nB\r\nC\rD", nil, []string{"A\n", "B\r\n", "C\r", "D"}},
		{"tiny buffer", "A\nB\r\nC\rD", []Option{WithBufferSize(1)}, []string{"A\n", "B\r\n", "C\r", "D"}},
		{"crlf across refill", "ab\r\ncd", []Option{WithBufferSize(3)}, []string{"ab\r\n", "cd"}},
		{"trailing cr", "x\r", nil, []string{"x\r"}},
		{"empty lines", "\n\n", nil, []string{"\n", "\n"}},
		{"empty input", "", nil, nil},
		{"consistent lf", "a\nb\nc", []Option{WithConsistentLineTerminators()}, []string{"a\n", "b\n", "c"}},
		{"consistent cr", "a\rb\rc\r", []Option{WithConsistentLineTerminators(), WithBufferSize(2)}, []string{"a\r", "b\r", "c\r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readAllLines(t, New(strings.NewReader(tt.input), tt.opts...))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLinePushback(t *testing.T) {
	s := New(strings.NewReader("String 1\nString 2\r\n"))

	line, _ := s.ReadLine()
	if line != "String 1\n" {
		t.Fatalf("got %q", line)
	}
	s.Pushback(line)

	want := []string{"String 1\n", "String 2\r\n"}
	got := readAllLines(t, s)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadUntil(t *testing.T) {
	for _, size := range []int{BufferSize, 4, 1} {
		s := New(strings.NewReader(sample), WithBufferSize(size))
		want := []string{"Str", "ing 1\nStr", "ing 2\r\nStr", "ing 3\rStr", "ing 4"}
		for i, w := range want {
			got, err := s.ReadUntil('i')
			if err != nil {
				t.Fatalf("buffer %d: call %d error: %v", size, i, err)
			}
			if got != w {
				t.Errorf("buffer %d: call %d = %q, want %q", size, i, got, w)
			}
		}
		if _, err := s.ReadUntil('i'); err != io.EOF {
			t.Errorf("buffer %d: expected io.EOF, got %v", size, err)
		}
	}
}

func TestReadUntilPushbackIgnoresDelimiter(t *testing.T) {
	s := New(strings.NewReader(sample))

	s.ReadUntil('i')
	line, _ := s.ReadUntil('i')
	s.Pushback(line)

	got, err := s.ReadUntil('X')
	if err != nil || got != "ing 1\nStr" {
		t.Fatalf("got %q, %v; want pushed back chunk", got, err)
	}

	rest := []string{"ing 2\r\nStr", "ing 3\rStr", "ing 4"}
	for _, w := range rest {
		if got, _ := s.ReadUntil('i'); got != w {
			t.Errorf("got %q, want %q", got, w)
		}
	}
}

func TestReadUntilInclusive(t *testing.T) {
	s := New(strings.NewReader("a,b,,c"), WithBufferSize(2))
	want := []string{"a,", "b,", ",", "c"}
	for _, w := range want {
		got, err := s.ReadUntilInclusive(',')
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != w {
			t.Errorf("got %q, want %q", got, w)
		}
	}
	if _, err := s.ReadUntilInclusive(','); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestLosslessConcatenation(t *testing.T) {
	input := "<a>\n  <b>1</b>\r\n</a>\r<a><b>2</b></a>\n\n"
	readers := map[string]func(*Splitter) (string, error){
		"ReadLine":           (*Splitter).ReadLine,
		"ReadUntil":          func(s *Splitter) (string, error) { return s.ReadUntil('<') },
		"ReadUntilInclusive": func(s *Splitter) (string, error) { return s.ReadUntilInclusive('>') },
	}

	for name, read := range readers {
		for _, size := range []int{3, 7, BufferSize} {
			s := New(strings.NewReader(input), WithBufferSize(size))
			var sb strings.Builder
			for {
				chunk, err := read(s)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("%s: %v", name, err)
				}
				sb.WriteString(chunk)
			}
			if sb.String() != input {
				t.Errorf("%s (buffer %d): got %q, want %q", name, size, sb.String(), input)
			}
		}
	}
}

func TestArrayRead(t *testing.T) {
	s := New(strings.NewReader(sample))
	buf := make([]byte, 100)

	n, err := s.Read(buf[0:10])
	if n != 10 || err != nil || string(buf[:10]) != "String 1\nS" {
		t.Fatalf("first read = %d, %v, %q", n, err, buf[:10])
	}

	n, _ = s.Read(buf[10:30])
	if n != 20 || string(buf[:30]) != "String 1\nString 2\r\nString 3\rSt" {
		t.Fatalf("second read = %d, %q", n, buf[:30])
	}

	n, _ = s.Read(buf[30:100])
	if n != 6 || string(buf[:36]) != sample {
		t.Fatalf("third read = %d, %q", n, buf[:36])
	}

	n, err = s.Read(buf[36:100])
	if n != 0 || err != io.EOF {
		t.Errorf("expected 0, io.EOF; got %d, %v", n, err)
	}
}

func TestArrayPushbackRead(t *testing.T) {
	s := New(strings.NewReader(sample))
	buf := make([]byte, 100)

	s.Read(buf[0:10])
	s.Pushback("EXTRA")

	n, _ := s.Read(buf[10:13])
	if n != 3 || string(buf[:13]) != "String 1\nSEXT" {
		t.Fatalf("got %d, %q", n, buf[:13])
	}

	n, _ = s.Read(buf[13:35])
	if n != 22 || string(buf[:35]) != "String 1\nSEXTRAtring 2\r\nString 3\rSt" {
		t.Fatalf("got %d, %q", n, buf[:35])
	}

	n, _ = s.Read(buf[35:100])
	if n != 6 || string(buf[:41]) != "String 1\nSEXTRAtring 2\r\nString 3\rString 4" {
		t.Fatalf("got %d, %q", n, buf[:41])
	}

	if n, err := s.Read(buf[41:]); n != 0 || err != io.EOF {
		t.Errorf("expected 0, io.EOF; got %d, %v", n, err)
	}
}

func TestReadByte(t *testing.T) {
	s := New(strings.NewReader("bc"), WithBufferSize(1))
	s.Pushback("a")

	var sb strings.Builder
	for {
		c, err := s.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sb.WriteByte(c)
	}
	if sb.String() != "abc" {
		t.Errorf("got %q, want %q", sb.String(), "abc")
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestClose(t *testing.T) {
	src := &closeTracker{Reader: strings.NewReader(sample)}
	s := New(src)

	if !s.Ready() {
		t.Fatal("expected Ready before close")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !src.closed {
		t.Error("underlying reader was not closed")
	}
	if s.Ready() {
		t.Error("Ready should be false after close")
	}
	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after close = %v, want ErrClosed", err)
	}
	if _, err := s.ReadLine(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadLine after close = %v, want ErrClosed", err)
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	s := New(failingReader{err: boom})
	if _, err := s.ReadLine(); !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
	if s.Ready() {
		t.Error("Ready should be false after a source error")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
	s.Close()
	if s.Err() != nil {
		t.Errorf("Err() after Close = %v, want nil", s.Err())
	}

	closed := New(failingReader{err: io.ErrClosedPipe})
	if _, err := closed.ReadLine(); !errors.Is(err, ErrClosed) {
		t.Errorf("closed pipe should map to ErrClosed, got %v", err)
	}
	if closed.Err() != nil {
		t.Errorf("Err() after close = %v, want nil", closed.Err())
	}
}

func TestReady(t *testing.T) {
	s := New(strings.NewReader("x"))
	if !s.Ready() {
		t.Fatal("expected ready")
	}
	s.ReadLine()
	if s.Ready() {
		t.Error("expected not ready at EOF")
	}
	s.Pushback("y")
	if !s.Ready() {
		t.Error("pushback should make the splitter ready")
	}
}
