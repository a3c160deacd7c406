// Package stats holds the import statistics ledger: the record type produced by
// importer handlers and the SQLite-backed, versioned, append-only table store
// that accumulates them across import runs.
package stats

import (
	"fmt"
	"slices"
)

// MaxFieldWidth is the width reserved for every string column of a ledger
// table. Values longer than this are rejected by the table's CHECK constraint.
const MaxFieldWidth = 2000

// Column names, in ledger order.
const (
	ColDate           = "date"
	ColTime           = "time"
	ColDataset        = "dataset"
	ColFilename       = "filename"
	ColFileSize       = "file_size"
	ColImportedNumber = "Imported_number"
	ColImportType     = "Import_type"
	ColName           = "name"
)

// Columns is the fixed statistics schema.
var Columns = []string{
	ColDate,
	ColTime,
	ColDataset,
	ColFilename,
	ColFileSize,
	ColImportedNumber,
	ColImportType,
	ColName,
}

// Record describes one imported artifact: which file was written for which
// dataset, how large it is and how many entities or relationships it holds.
type Record struct {
	Date           string `json:"date"`
	Time           string `json:"time"`
	Dataset        string `json:"dataset"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	ImportedNumber int64  `json:"Imported_number"`
	ImportType     string `json:"Import_type"`
	Name           string `json:"name"`
}

// Value returns the field stored under the given column name.
func (r Record) Value(col string) (any, error) {
	switch col {
	case ColDate:
		return r.Date, nil
	case ColTime:
		return r.Time, nil
	case ColDataset:
		return r.Dataset, nil
	case ColFilename:
		return r.Filename, nil
	case ColFileSize:
		return r.FileSize, nil
	case ColImportedNumber:
		return r.ImportedNumber, nil
	case ColImportType:
		return r.ImportType, nil
	case ColName:
		return r.Name, nil
	}
	return nil, fmt.Errorf("unknown column %q", col)
}

// scanTargets returns pointers to the fields backing cols, for rows.Scan.
func (r *Record) scanTargets(cols []string) ([]any, error) {
	out := make([]any, len(cols))
	for i, col := range cols {
		switch col {
		case ColDate:
			out[i] = &r.Date
		case ColTime:
			out[i] = &r.Time
		case ColDataset:
			out[i] = &r.Dataset
		case ColFilename:
			out[i] = &r.Filename
		case ColFileSize:
			out[i] = &r.FileSize
		case ColImportedNumber:
			out[i] = &r.ImportedNumber
		case ColImportType:
			out[i] = &r.ImportType
		case ColName:
			out[i] = &r.Name
		default:
			return nil, fmt.Errorf("unknown column %q", col)
		}
	}
	return out, nil
}

// Map renders the record keyed by column name.
func (r Record) Map() map[string]any {
	return map[string]any{
		ColDate:           r.Date,
		ColTime:           r.Time,
		ColDataset:        r.Dataset,
		ColFilename:       r.Filename,
		ColFileSize:       r.FileSize,
		ColImportedNumber: r.ImportedNumber,
		ColImportType:     r.ImportType,
		ColName:           r.Name,
	}
}

// Frame is an ordered batch of records sharing one column layout.
type Frame struct {
	Columns []string
	Records []Record
}

// NewFrame shapes adapter output into a frame using the fixed schema.
func NewFrame(records []Record) Frame {
	return Frame{
		Columns: slices.Clone(Columns),
		Records: slices.Clone(records),
	}
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Records) }

// Rows renders every record keyed by column name, in frame order.
func (f Frame) Rows() []any {
	rows := make([]any, len(f.Records))
	for i, r := range f.Records {
		rows[i] = r.Map()
	}
	return rows
}

// validateColumns checks cols is a permutation of the fixed schema.
func validateColumns(cols []string) error {
	if len(cols) != len(Columns) {
		return fmt.Errorf("%w: want %d columns, got %d", ErrSchemaMismatch, len(Columns), len(cols))
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !slices.Contains(Columns, c) {
			return fmt.Errorf("%w: unknown column %q", ErrSchemaMismatch, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate column %q", ErrSchemaMismatch, c)
		}
		seen[c] = true
	}
	return nil
}

func isIntegerColumn(col string) bool {
	return col == ColFileSize || col == ColImportedNumber
}
