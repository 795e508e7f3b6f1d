// Package dataset loads attribute columns from CSV files or PostgreSQL
// tables and converts them into the inputs of the attribute indexes. Rows
// that cannot be used are skipped and counted, never fatal.
package dataset

import (
	"fmt"
)

// maxReportedErrors caps LoadReport.Errors; Skipped keeps counting.
const maxReportedErrors = 20

// Dataset holds raw attribute values by column and entity id. A column has
// no entry for an entity whose value is empty or NULL.
type Dataset struct {
	IDs     []string
	Columns map[string]map[string]string
}

func newDataset(columns []string) *Dataset {
	ds := &Dataset{Columns: make(map[string]map[string]string, len(columns))}
	for _, c := range columns {
		ds.Columns[c] = make(map[string]string)
	}
	return ds
}

// Column returns the raw values of name and whether the column exists.
func (ds *Dataset) Column(name string) (map[string]string, bool) {
	col, ok := ds.Columns[name]
	return col, ok
}

func (ds *Dataset) Len() int { return len(ds.IDs) }

// LoadReport counts the outcome of a load or conversion.
type LoadReport struct {
	Loaded  int
	Skipped int
	Errors  []error
}

func (r *LoadReport) skip(err error) {
	r.Skipped++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, err)
	}
}

// Merge adds other's counts to r.
func (r *LoadReport) Merge(other LoadReport) {
	r.Loaded += other.Loaded
	r.Skipped += other.Skipped
	for _, err := range other.Errors {
		if len(r.Errors) >= maxReportedErrors {
			break
		}
		r.Errors = append(r.Errors, err)
	}
}

// RowError locates a skipped row.
type RowError struct {
	Row    int
	ID     string
	Column string
	Err    error
}

func (e *RowError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("row %d (id %q) column %s: %v", e.Row, e.ID, e.Column, e.Err)
	case e.ID != "":
		return fmt.Sprintf("row %d (id %q): %v", e.Row, e.ID, e.Err)
	default:
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
}

func (e *RowError) Unwrap() error { return e.Err }
