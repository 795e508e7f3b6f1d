package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

var (
	errEmptyID     = errors.New("empty id")
	errDuplicateID = errors.New("duplicate id")
)

// LoadCSV reads a CSV stream whose first row is a header. idColumn names the
// entity id; columns selects the attributes to keep, or every other column
// when empty. Rows with a bad field count, an empty id or a repeated id are
// skipped.
func LoadCSV(r io.Reader, idColumn string, columns []string) (*Dataset, LoadReport, error) {
	logger := slog.Default().With("component", "csv-loader")
	var report LoadReport

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, report, fmt.Errorf("reading csv header: %w", err)
	}
	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[strings.TrimSpace(h)] = i
	}
	idPos, ok := positions[idColumn]
	if !ok {
		return nil, report, apperrors.Newf(apperrors.ErrInvalidConfig, idColumn, "id column not in csv header")
	}
	if len(columns) == 0 {
		for _, h := range header {
			if h = strings.TrimSpace(h); h != idColumn {
				columns = append(columns, h)
			}
		}
	}
	colPos := make([]int, len(columns))
	for i, c := range columns {
		p, ok := positions[c]
		if !ok {
			return nil, report, apperrors.Newf(apperrors.ErrUnknownAttribute, c, "column not in csv header")
		}
		colPos[i] = p
	}

	ds := newDataset(columns)
	seen := make(map[string]struct{})
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.skip(&RowError{Row: row, Err: err})
				continue
			}
			return nil, report, fmt.Errorf("reading csv row %d: %w", row, err)
		}
		id := strings.TrimSpace(record[idPos])
		if id == "" {
			report.skip(&RowError{Row: row, Err: errEmptyID})
			continue
		}
		if _, dup := seen[id]; dup {
			report.skip(&RowError{Row: row, ID: id, Err: errDuplicateID})
			continue
		}
		seen[id] = struct{}{}
		ds.IDs = append(ds.IDs, id)
		for i, c := range columns {
			if v := strings.TrimSpace(record[colPos[i]]); v != "" {
				ds.Columns[c][id] = v
			}
		}
		report.Loaded++
	}
	logger.Info("csv loaded",
		"rows", report.Loaded,
		"skipped", report.Skipped,
		"columns", len(columns),
	)
	return ds, report, nil
}

// LoadCSVFile opens path and calls LoadCSV.
func LoadCSVFile(path string, idColumn string, columns []string) (*Dataset, LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()
	return LoadCSV(f, idColumn, columns)
}
