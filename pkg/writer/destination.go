package writer

import (
	"archive/zip"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/logflow/recsplit/pkg/errors"
	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/resource"
)

// Destination provides the byte stream an ItemWriter writes to.
type Destination interface {
	Open(ctx context.Context, p params.Params) (io.Writer, error)
	Close() error
}

// outputLocation picks the configured location, falling back to the
// output.file job parameter.
func outputLocation(path string, p params.Params) (string, error) {
	if path == "" {
		path = p.String(params.OutputFile, "")
	}
	if path == "" {
		return "", errors.New(errors.CodeWriteFailed, "no output location").WithContext("param", params.OutputFile)
	}
	return params.StripFileScheme(path), nil
}

// FileDestination writes to a local file or an s3:// object.
type FileDestination struct {
	Path     string
	Resolver *resource.Resolver
	Type     string

	out io.WriteCloser
}

func (d *FileDestination) Open(ctx context.Context, p params.Params) (io.Writer, error) {
	path, err := outputLocation(d.Path, p)
	if err != nil {
		return nil, err
	}
	out, err := resolver(d.Resolver).Create(ctx, path, d.Type)
	if err != nil {
		return nil, err
	}
	d.out = out
	return out, nil
}

func (d *FileDestination) Close() error {
	if d.out == nil {
		return nil
	}
	err := d.out.Close()
	d.out = nil
	return err
}

// ZipDestination writes a zip archive holding a single entry named after
// the output file without its extension.
type ZipDestination struct {
	Path     string
	Resolver *resource.Resolver

	out io.WriteCloser
	zw  *zip.Writer
}

// EntryName returns the archive entry name for path.
func EntryName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (d *ZipDestination) Open(ctx context.Context, p params.Params) (io.Writer, error) {
	path, err := outputLocation(d.Path, p)
	if err != nil {
		return nil, err
	}
	out, err := resolver(d.Resolver).Create(ctx, path, "application/zip")
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(out)
	entry, err := zw.Create(EntryName(path))
	if err != nil {
		out.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "cannot create archive entry")
	}
	d.out, d.zw = out, zw
	return entry, nil
}

func (d *ZipDestination) Close() error {
	if d.out == nil {
		return nil
	}
	var errs errors.MultiError
	errs.Add(d.zw.Close())
	errs.Add(d.out.Close())
	d.out, d.zw = nil, nil
	return errs.Combined()
}

func resolver(r *resource.Resolver) *resource.Resolver {
	if r == nil {
		return resource.NewResolver()
	}
	return r
}
