package writer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/resource"
)

// DuckDBWriter loads records into an in-memory DuckDB table and exports
// it on Close with COPY TO. The export format follows the output
// extension: .csv writes CSV, anything else Parquet. Remote outputs are
// exported to a local file first and then uploaded.
type DuckDBWriter struct {
	cfg      Config
	path     string
	typ      codec.RecordType
	resolver *resource.Resolver

	db      *sql.DB
	stmt    *sql.Stmt
	columns []string
	target  string

	mu      sync.Mutex
	batch   []*codec.Record
	written int64
	closed  bool
}

// NewDuckDBWriter creates a DuckDB writer for path. An empty path is
// taken from the output.file parameter on Open.
func NewDuckDBWriter(path string, typ codec.RecordType, cfg Config, r *resource.Resolver) *DuckDBWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &DuckDBWriter{
		cfg:      cfg,
		path:     path,
		typ:      typ,
		resolver: resolver(r),
		batch:    make([]*codec.Record, 0, cfg.BatchSize),
	}
}

func (w *DuckDBWriter) Open(ctx context.Context, p params.Params) error {
	target, err := outputLocation(w.path, p)
	if err != nil {
		return err
	}
	loc, err := resource.Parse(target)
	if err != nil {
		return err
	}
	if loc.Kind == resource.KindHTTP {
		return errors.New(errors.CodeInvalidFormat, "http outputs are not supported").WithContext("location", target)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to open duckdb")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to open duckdb")
	}

	w.mu.Lock()
	w.db, w.target = db, target
	w.mu.Unlock()
	return nil
}

func (w *DuckDBWriter) NewSink() RecordWriter { return sharedSink{w} }

// quoteIdent quotes a column name for DuckDB.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// createTable creates the records table with one VARCHAR column per name.
func (w *DuckDBWriter) createTable(ctx context.Context, names []string) error {
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, name := range names {
		cols[i] = quoteIdent(name) + " VARCHAR"
		marks[i] = "?"
	}

	if _, err := w.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE records (%s)", strings.Join(cols, ", "))); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to create table")
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	stmt, err := w.db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)",
		strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to prepare insert")
	}
	w.stmt, w.columns = stmt, names
	return nil
}

// Write buffers recs and inserts a batch once BatchSize records are held.
func (w *DuckDBWriter) Write(ctx context.Context, recs []*codec.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.db == nil {
		return errors.New(errors.CodeWriteFailed, "writer is not open")
	}
	if len(recs) == 0 {
		return nil
	}
	if w.stmt == nil {
		names := columns(w.typ, recs)
		if len(names) == 0 {
			return errors.New(errors.CodeWriteFailed, "duckdb output needs at least one column")
		}
		if err := w.createTable(ctx, names); err != nil {
			return err
		}
	}

	w.batch = append(w.batch, recs...)
	if len(w.batch) >= w.cfg.BatchSize {
		return w.flushBatch(ctx)
	}
	return nil
}

// flushBatch inserts the buffered records in one transaction.
func (w *DuckDBWriter) flushBatch(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to begin transaction")
	}

	stmt := tx.StmtContext(ctx, w.stmt)
	args := make([]any, len(w.columns))
	for _, rec := range w.batch {
		for i, name := range w.columns {
			args[i] = nil
			if v, ok := rec.Get(name); ok {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to insert record")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to commit transaction")
	}

	w.written += int64(len(w.batch))
	w.batch = w.batch[:0]
	return nil
}

// Written returns the number of rows loaded into the table.
func (w *DuckDBWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *DuckDBWriter) copyOptions() string {
	if strings.EqualFold(filepath.Ext(w.target), ".csv") {
		return "FORMAT CSV, HEADER"
	}

	compression := "snappy"
	switch w.cfg.Compression {
	case CompressionGzip:
		compression = "gzip"
	case CompressionZstd:
		compression = "zstd"
	case CompressionNone:
		compression = "uncompressed"
	}
	return fmt.Sprintf("FORMAT PARQUET, COMPRESSION '%s'", compression)
}

// export copies the table to the target. Remote targets go through a
// local temporary file.
func (w *DuckDBWriter) export(ctx context.Context) error {
	loc, err := resource.Parse(w.target)
	if err != nil {
		return err
	}

	local := loc.Path
	if loc.Kind != resource.KindLocal {
		tmp, err := os.CreateTemp("", "recsplit-export-*"+filepath.Ext(loc.Base()))
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "cannot create export file")
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		local = tmp.Name()
	} else if dir := filepath.Dir(local); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "cannot create output directory")
		}
	}

	query := fmt.Sprintf("COPY records TO %s (%s)", quoteLiteral(local), w.copyOptions())
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to export table").WithContext("path", w.target)
	}

	if loc.Kind == resource.KindLocal {
		return nil
	}
	return w.upload(ctx, local)
}

func (w *DuckDBWriter) upload(ctx context.Context, local string) error {
	in, err := os.Open(local)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "cannot read export file")
	}
	defer in.Close()

	out, err := w.resolver.Create(ctx, w.target, "application/octet-stream")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "upload failed").WithContext("path", w.target)
	}
	return out.Close()
}

// Close flushes buffered records, exports the table and closes the
// database. Nothing is exported when no record was written.
func (w *DuckDBWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.db == nil {
		return nil
	}
	w.closed = true

	ctx := context.Background()
	var errs errors.MultiError
	if w.stmt != nil {
		if err := w.flushBatch(ctx); err != nil {
			errs.Add(err)
		} else {
			errs.Add(w.export(ctx))
		}
		w.stmt.Close()
	}
	errs.Add(w.db.Close())
	return errs.Combined()
}

// Column describes one column of a tabular file.
type Column struct {
	Name string
	Type string
}

// Describe reports the columns and row count of a local Parquet or CSV
// file using DuckDB's readers.
func Describe(ctx context.Context, path string) ([]Column, int64, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeResource, "failed to open duckdb")
	}
	defer db.Close()

	scan := fmt.Sprintf("read_parquet(%s)", quoteLiteral(path))
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		scan = fmt.Sprintf("read_csv_auto(%s, header=true)", quoteLiteral(path))
	}

	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+scan)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeResource, "failed to read schema").WithContext("path", path)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra any
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return nil, 0, err
		}
		cols = append(cols, Column{Name: name, Type: dtype})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+scan).Scan(&count); err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeResource, "failed to count rows").WithContext("path", path)
	}
	return cols, count, nil
}
