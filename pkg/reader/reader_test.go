package reader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/logflow/recsplit/pkg/codec"
	rserrors "github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/validation"
)

var csvType = codec.RecordType{Name: "row", Fields: []string{"id", "value"}}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func writeZip(t *testing.T, entries []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	zw := zip.NewWriter(f)
	for i, content := range entries {
		w, err := zw.Create(fmt.Sprintf("part-%03d", i))
		if err != nil {
			t.Fatalf("zip Create() error: %v", err)
		}
		io.WriteString(w, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error: %v", err)
	}
	f.Close()
	return path
}

func csvLines(from, to int) string {
	var sb strings.Builder
	for i := from; i < to; i++ {
		fmt.Fprintf(&sb, "%d,v%d\n", i, i)
	}
	return sb.String()
}

func xmlPeople(from, to int) string {
	var sb strings.Builder
	sb.WriteString("<people>\n")
	for i := from; i < to; i++ {
		fmt.Fprintf(&sb, "<person>\n<id>%d</id>\n<name>p%d</name>\n</person>\n", i, i)
	}
	sb.WriteString("</people>\n")
	return sb.String()
}

// readConcurrently runs k workers to exhaustion and returns every id read
// and every error seen.
func readConcurrently(t *testing.T, r *RecordReader, k int) ([]string, []error) {
	t.Helper()
	var (
		mu   sync.Mutex
		ids  []string
		errs []error
		wg   sync.WaitGroup
	)
	ctx := context.Background()
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := r.NewWorker()
			defer w.Close()
			for {
				rec, err := w.Read(ctx)
				if err == io.EOF {
					return
				}
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					id, _ := rec.Get("id")
					ids = append(ids, id)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ids, errs
}

func checkExactlyOnce(t *testing.T, ids []string, n int) {
	t.Helper()
	if len(ids) != n {
		t.Errorf("read %d records, want %d", len(ids), n)
	}
	seen := make(map[string]int, len(ids))
	for _, id := range ids {
		seen[id]++
	}
	for i := 0; i < n; i++ {
		if c := seen[fmt.Sprint(i)]; c != 1 {
			t.Errorf("record %d read %d times, want 1", i, c)
		}
	}
}

func TestExactlyOnce(t *testing.T) {
	const n = 210

	perStreamCSV := make([]string, 30)
	for i := range perStreamCSV {
		perStreamCSV[i] = csvLines(i*7, i*7+7)
	}
	perStreamXML := make([]string, 30)
	for i := range perStreamXML {
		perStreamXML[i] = xmlPeople(i*7, i*7+7)
	}

	tests := []struct {
		name  string
		kind  source.Kind
		input func(t *testing.T) string
		cdc   codec.Codec
		typ   codec.RecordType
		opts  []Option
		mode  Mode
	}{
		{
			name:  "shared file",
			kind:  source.KindFile,
			input: func(t *testing.T) string { return writeFile(t, "in.csv", csvLines(0, n)) },
			cdc:   codec.NewCSV(','),
			typ:   csvType,
			mode:  ModeShared,
		},
		{
			name: "shared archive",
			kind: source.KindArchive,
			input: func(t *testing.T) string {
				return writeZip(t, []string{csvLines(0, 70), csvLines(70, 140), csvLines(140, n)})
			},
			cdc:  codec.NewCSV(','),
			typ:  csvType,
			mode: ModeShared,
		},
		{
			name:  "split file",
			kind:  source.KindFile,
			input: func(t *testing.T) string { return writeFile(t, "in.xml", xmlPeople(0, n)) },
			cdc:   codec.NewXML(),
			typ:   codec.RecordType{Name: "person"},
			opts:  []Option{WithStartPattern(`\s*<person>\s*`), WithStopPattern(`\s*</person>\s*`)},
			mode:  ModeSplit,
		},
		{
			name:  "split start only",
			kind:  source.KindFile,
			input: func(t *testing.T) string { return writeFile(t, "in.csv", csvLines(0, n)) },
			cdc:   codec.NewCSV(','),
			typ:   csvType,
			opts:  []Option{WithStartPattern(`.*`)},
			mode:  ModeSplit,
		},
		{
			name:  "per stream",
			kind:  source.KindArchive,
			input: func(t *testing.T) string { return writeZip(t, perStreamCSV) },
			cdc:   codec.NewCSV(','),
			typ:   csvType,
			mode:  ModePerStream,
		},
		{
			name:  "per stream entities",
			kind:  source.KindArchive,
			input: func(t *testing.T) string { return writeZip(t, perStreamXML) },
			cdc:   codec.NewXML(),
			typ:   codec.RecordType{Name: "person"},
			opts:  []Option{WithStartPattern(`\s*<person>\s*`), WithStopPattern(`\s*</person>\s*`)},
			mode:  ModePerStream,
		},
	}

	for _, tt := range tests {
		for k := 1; k <= 8; k++ {
			t.Run(fmt.Sprintf("%s/workers=%d", tt.name, k), func(t *testing.T) {
				src := source.New(tt.kind, source.Options{Location: tt.input(t)})
				r, err := NewRecordReader(src, tt.cdc, tt.typ, tt.opts...)
				if err != nil {
					t.Fatalf("NewRecordReader() error: %v", err)
				}
				if err := r.Open(context.Background(), nil); err != nil {
					t.Fatalf("Open() error: %v", err)
				}
				defer r.Close()

				if r.Mode() != tt.mode {
					t.Fatalf("Mode() = %v, want %v", r.Mode(), tt.mode)
				}
				ids, errs := readConcurrently(t, r, k)
				if len(errs) > 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				checkExactlyOnce(t, ids, n)
			})
		}
	}
}

func openReader(t *testing.T, path string, cdc codec.Codec, typ codec.RecordType, opts ...Option) *RecordReader {
	t.Helper()
	r, err := NewRecordReader(source.NewFileSource(source.Options{Location: path}), cdc, typ, opts...)
	if err != nil {
		t.Fatalf("NewRecordReader() error: %v", err)
	}
	if err := r.Open(context.Background(), nil); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestMalformedEntityIsolated(t *testing.T) {
	input := "<people>\n" +
		"<person>\n<id>0</id>\n</person>\n" +
		"<person>\n<id>1</id>\n</persn>\n</person>\n" +
		"<person>\n<id>2</id>\n</person>\n" +
		"</people>\n"
	r := openReader(t, writeFile(t, "in.xml", input), codec.NewXML(), codec.RecordType{Name: "person"},
		WithStartPattern(`<person>\s*`), WithStopPattern(`</person>\s*`))

	ids, errs := readConcurrently(t, r, 1)
	if strings.Join(ids, ",") != "0,2" {
		t.Errorf("ids = %v, want [0 2]", ids)
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	var pe *ParseError
	if !errors.As(errs[0], &pe) {
		t.Fatalf("error = %v, want *ParseError", errs[0])
	}
	if !strings.Contains(pe.Entity, "<id>1</id>") {
		t.Errorf("Entity = %q, want the malformed entity text", pe.Entity)
	}
	if rserrors.GetCode(errs[0]) != rserrors.CodeParseFailed {
		t.Errorf("GetCode() = %v, want %v", rserrors.GetCode(errs[0]), rserrors.CodeParseFailed)
	}
}

func TestParseFailureDiscardsStream(t *testing.T) {
	input := "0,a\n1,b\nbroken\n3,d\n"
	r := openReader(t, writeFile(t, "in.csv", input), codec.NewCSV(','), csvType)
	w := r.NewWorker()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := w.Read(ctx); err != nil {
			t.Fatalf("Read() #%d error: %v", i, err)
		}
	}
	_, err := w.Read(ctx)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Read() error = %v, want *ParseError", err)
	}
	if pe.Source != "in.csv" {
		t.Errorf("Source = %q, want in.csv", pe.Source)
	}
	if _, err := w.Read(ctx); err != io.EOF {
		t.Errorf("Read() after failure = %v, want io.EOF", err)
	}
}

func TestCodecClosingStreamIsExhaustion(t *testing.T) {
	path := writeFile(t, "doc.xml", "<doc><v>1</v></doc>\n<doc><v>2</v></doc>\n")
	r := openReader(t, path, &codec.XML{CloseAfterDocument: true}, codec.RecordType{Name: "doc"})
	w := r.NewWorker()
	ctx := context.Background()

	rec, err := w.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if v, _ := rec.Get("v"); v != "1" {
		t.Errorf("v = %q, want 1", v)
	}
	if _, err := w.Read(ctx); err != io.EOF {
		t.Errorf("Read() after close = %v, want io.EOF", err)
	}
}

func TestCloseEndsReads(t *testing.T) {
	r := openReader(t, writeFile(t, "in.csv", csvLines(0, 10)), codec.NewCSV(','), csvType)
	w := r.NewWorker()
	ctx := context.Background()
	if _, err := w.Read(ctx); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	r.Close()
	if _, err := w.Read(ctx); err != io.EOF {
		t.Errorf("Read() after Close = %v, want io.EOF", err)
	}
}

func TestEmptyInput(t *testing.T) {
	r := openReader(t, writeFile(t, "empty.csv", ""), codec.NewCSV(','), csvType)
	if _, err := r.NewWorker().Read(context.Background()); err != io.EOF {
		t.Errorf("Read() = %v, want io.EOF", err)
	}
}

type idListener struct {
	lines int
	mu    sync.Mutex
}

func (l *idListener) ProcessLine(line string) string {
	l.mu.Lock()
	l.lines++
	l.mu.Unlock()
	return strings.ReplaceAll(line, "PERSON", "person")
}

func (l *idListener) Context(text string) any { return len(text) }

func (l *idListener) Process(rec *codec.Record, ctx any) (string, error) {
	id, _ := rec.Get("id")
	return fmt.Sprintf("%s:%d", id, ctx.(int)), nil
}

func TestListener(t *testing.T) {
	input := "<PERSON>\n<id>7</id>\n</PERSON>\n"
	l := &idListener{}
	src := source.NewFileSource(source.Options{Location: writeFile(t, "in.xml", input)})
	r, err := New[string](src, codec.NewXML(), codec.RecordType{Name: "person"},
		WithStartPattern(`<person>\s*`), WithStopPattern(`</person>\s*`), WithListener[string](l))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := r.Open(context.Background(), nil); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer r.Close()

	got, err := r.NewWorker().Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	want := fmt.Sprintf("7:%d", len("<person>\n<id>7</id>\n</person>\n"))
	if got != want {
		t.Errorf("Read() = %q, want %q", got, want)
	}
	if l.lines != 3 {
		t.Errorf("ProcessLine called %d times, want 3", l.lines)
	}
}

func TestListenerTypeMismatch(t *testing.T) {
	src := source.NewFileSource(source.Options{})
	if _, err := New[int](src, codec.NewCSV(','), csvType, WithListener[string](&idListener{})); !rserrors.IsCode(err, rserrors.CodeInvalidFormat) {
		t.Errorf("New() with mismatched listener error = %v, want %v", err, rserrors.CodeInvalidFormat)
	}
	if _, err := New[string](src, codec.NewCSV(','), csvType); err == nil {
		t.Error("New() without listener for a non-record type should fail")
	}
}

func TestValidation(t *testing.T) {
	input := "0,a\n1,\n2,c\n"
	factory := func() validation.Validator {
		return validation.NewRuleSet(validation.NewNotEmptyRule("value"))
	}
	r := openReader(t, writeFile(t, "in.csv", input), codec.NewCSV(','), csvType, WithValidation(factory))

	ids, errs := readConcurrently(t, r, 1)
	if strings.Join(ids, ",") != "0,2" {
		t.Errorf("ids = %v, want [0 2]", ids)
	}
	var ve *validation.ValidationError
	if len(errs) != 1 || !errors.As(errs[0], &ve) {
		t.Fatalf("errors = %v, want one *ValidationError", errs)
	}
}

func TestEntityTooLarge(t *testing.T) {
	input := "<person>\n<id>0</id>\n</person>\n<person>\n<id>1</id>\n<pad>" + strings.Repeat("x", 200) + "</pad>\n</person>\n<person>\n<id>2</id>\n</person>\n"
	r := openReader(t, writeFile(t, "in.xml", input), codec.NewXML(), codec.RecordType{Name: "person"},
		WithStartPattern(`<person>\s*`), WithStopPattern(`</person>\s*`), WithMaxEntitySize(100))

	ids, errs := readConcurrently(t, r, 1)
	if strings.Join(ids, ",") != "0,2" {
		t.Errorf("ids = %v, want [0 2]", ids)
	}
	if len(errs) != 1 || !rserrors.IsCode(errs[0], rserrors.CodeParseFailed) {
		t.Errorf("errors = %v, want one parse failure", errs)
	}
}

// writeBadChecksumZip stores entries uncompressed and records a wrong
// checksum for entry bad, so reading it fails after its last byte.
func writeBadChecksumZip(t *testing.T, entries []string, bad int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bad.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	zw := zip.NewWriter(f)
	for i, content := range entries {
		sum := crc32.ChecksumIEEE([]byte(content))
		if i == bad {
			sum ^= 1
		}
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               fmt.Sprintf("part-%03d", i),
			Method:             zip.Store,
			CRC32:              sum,
			CompressedSize64:   uint64(len(content)),
			UncompressedSize64: uint64(len(content)),
		})
		if err != nil {
			t.Fatalf("CreateRaw() error: %v", err)
		}
		io.WriteString(w, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error: %v", err)
	}
	f.Close()
	return path
}

func TestSourceFaultIsResourceError(t *testing.T) {
	perStream := make([]string, 25)
	for i := range perStream {
		perStream[i] = csvLines(i*2, i*2+2)
	}

	tests := []struct {
		name    string
		entries []string
		bad     int
		cdc     codec.Codec
		typ     codec.RecordType
		opts    []Option
		mode    Mode
		ids     int
	}{
		{
			name: "shared",
			// the failure ends the stream after two complete lines
			entries: []string{csvLines(0, 2)},
			cdc:     codec.NewCSV(','),
			typ:     csvType,
			mode:    ModeShared,
			ids:     2,
		},
		{
			name: "split",
			// the second entity is cut off by the failure
			entries: []string{"<people>\n<person>\n<id>0</id>\n</person>\n<person>\n<id>1</id>\n"},
			cdc:     codec.NewXML(),
			typ:     codec.RecordType{Name: "person"},
			opts:    []Option{WithStartPattern(`\s*<person>\s*`), WithStopPattern(`\s*</person>\s*`)},
			mode:    ModeSplit,
			ids:     1,
		},
		{
			name:    "per stream",
			entries: perStream,
			bad:     10,
			cdc:     codec.NewCSV(','),
			typ:     csvType,
			mode:    ModePerStream,
			ids:     50,
		},
	}

	for _, tt := range tests {
		for k := 1; k <= 4; k++ {
			t.Run(fmt.Sprintf("%s/workers=%d", tt.name, k), func(t *testing.T) {
				src := source.NewArchiveSource(source.Options{Location: writeBadChecksumZip(t, tt.entries, tt.bad)})
				r, err := NewRecordReader(src, tt.cdc, tt.typ, tt.opts...)
				if err != nil {
					t.Fatalf("NewRecordReader() error: %v", err)
				}
				if err := r.Open(context.Background(), nil); err != nil {
					t.Fatalf("Open() error: %v", err)
				}
				defer r.Close()
				if r.Mode() != tt.mode {
					t.Fatalf("Mode() = %v, want %v", r.Mode(), tt.mode)
				}

				ids, errs := readConcurrently(t, r, k)
				checkExactlyOnce(t, ids, tt.ids)
				if len(errs) != 1 {
					t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
				}
				var re *ResourceError
				if !errors.As(errs[0], &re) {
					t.Fatalf("error = %v, want *ResourceError", errs[0])
				}
				if !errors.Is(errs[0], zip.ErrChecksum) {
					t.Errorf("error = %v, want it to wrap zip.ErrChecksum", errs[0])
				}
				if rserrors.GetCode(errs[0]) != rserrors.CodeResource {
					t.Errorf("GetCode() = %v, want %v", rserrors.GetCode(errs[0]), rserrors.CodeResource)
				}
			})
		}
	}
}

func TestModeString(t *testing.T) {
	if ModeSplit.String() != "split" || ModePerStream.String() != "per-stream" {
		t.Error("unexpected mode names")
	}
}
