package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/postgres"
)

// buildSelect renders the query used by LoadPostgres. Every column is read
// as text so the same parsers serve CSV and SQL sources.
func buildSelect(table, idColumn string, columns []string) (string, error) {
	qt, err := postgres.QuoteIdent(table)
	if err != nil {
		return "", err
	}
	qid, err := postgres.QuoteIdent(idColumn)
	if err != nil {
		return "", err
	}
	parts := []string{qid + "::text"}
	for _, c := range columns {
		qc, err := postgres.QuoteIdent(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, qc+"::text")
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(parts, ", "), qt, qid), nil
}

// LoadPostgres reads idColumn and columns from table. NULL values are
// missing; rows with a NULL or repeated id are skipped.
func LoadPostgres(ctx context.Context, db *sql.DB, table, idColumn string, columns []string) (*Dataset, LoadReport, error) {
	logger := slog.Default().With("component", "postgres-loader", "table", table)
	var report LoadReport
	query, err := buildSelect(table, idColumn, columns)
	if err != nil {
		return nil, report, fmt.Errorf("building dataset query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, report, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	ds := newDataset(columns)
	seen := make(map[string]struct{})
	values := make([]sql.NullString, len(columns)+1)
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	for row := 1; rows.Next(); row++ {
		if err := rows.Scan(dest...); err != nil {
			report.skip(&RowError{Row: row, Err: err})
			continue
		}
		id := strings.TrimSpace(values[0].String)
		if !values[0].Valid || id == "" {
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
			v := values[i+1]
			if s := strings.TrimSpace(v.String); v.Valid && s != "" {
				ds.Columns[c][id] = s
			}
		}
		report.Loaded++
	}
	if err := rows.Err(); err != nil {
		return nil, report, fmt.Errorf("reading %s: %w", table, err)
	}
	logger.Info("table loaded",
		"rows", report.Loaded,
		"skipped", report.Skipped,
		"columns", len(columns),
	)
	return ds, report, nil
}
