package source

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/recsplit/pkg/errors"
)

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, err
	}
	return f, nil
}

// listWorkbook lists the sheets of a workbook. Sheets are rendered
// when opened, so their size is unknown up front.
func (s *Source) listWorkbook() error {
	wb, err := excelize.OpenFile(s.local.Path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "cannot open workbook").WithContext("path", s.local.Path)
	}
	s.closers = append(s.closers, wb)

	for _, sheet := range wb.GetSheetList() {
		s.entries = append(s.entries, entry{
			info: EntryInfo{Name: sheet, Size: -1},
			open: func() (io.ReadCloser, error) { return renderSheet(wb, sheet) },
		})
	}
	return nil
}

// renderSheet writes the rows of sheet as CSV text.
func renderSheet(wb *excelize.File, sheet string) (io.ReadCloser, error) {
	rows, err := wb.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}
		if err := w.Write(cols); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}
