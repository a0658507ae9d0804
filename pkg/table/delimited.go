package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// WriteDelimited serializes the table as delimited text. The header row is
// always present. Values are written verbatim; the writer quotes a cell
// only when it contains the delimiter, a quote, or a line break.
func (t *Table) WriteDelimited(w io.Writer, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to path as delimited text.
func (t *Table) WriteFile(path string, delim rune) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteDelimited(f, delim); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDelimited parses delimited text produced by WriteDelimited back into
// a table. The first record is the header. Types are inferred.
func ReadDelimited(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	t := New("", header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if err := t.AppendRow(rec); err != nil {
			return nil, err
		}
	}

	t.InferTypes()
	return t, nil
}
