package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/categorical"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/numeric"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// ParseNumber parses a finite float.
func ParseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing number %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("number %q is not finite", s)
	}
	return v, nil
}

// ParsePoint parses coordinates separated by commas, semicolons or spaces.
// dims > 0 requires exactly that many coordinates.
func ParsePoint(s string, dims int) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("point %q has no coordinates", s)
	}
	if dims > 0 && len(fields) != dims {
		return nil, apperrors.Newf(apperrors.ErrDimensionMismatch, "", "point %q has %d coordinates, expected %d", s, len(fields), dims)
	}
	point := make([]float64, len(fields))
	for i, f := range fields {
		v, err := ParseNumber(f)
		if err != nil {
			return nil, err
		}
		point[i] = v
	}
	return point, nil
}

func (ds *Dataset) column(name string) (map[string]string, error) {
	col, ok := ds.Columns[name]
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnknownAttribute, name, "column not loaded")
	}
	return col, nil
}

// NumericValues converts a column for numeric.BuildIndex.
func NumericValues(ds *Dataset, column string) ([]numeric.Value, LoadReport, error) {
	var report LoadReport
	col, err := ds.column(column)
	if err != nil {
		return nil, report, err
	}
	out := make([]numeric.Value, 0, len(col))
	for row, id := range ds.IDs {
		raw, ok := col[id]
		if !ok {
			continue
		}
		v, err := ParseNumber(raw)
		if err != nil {
			report.skip(&RowError{Row: row + 1, ID: id, Column: column, Err: err})
			continue
		}
		out = append(out, numeric.Value{ID: id, Key: v})
		report.Loaded++
	}
	return out, report, nil
}

// TokenSets converts a column for categorical.BuildIndex. Values that
// tokenize to nothing are skipped.
func TokenSets(ds *Dataset, column, delimiter string) ([]categorical.TokenSet, LoadReport, error) {
	var report LoadReport
	col, err := ds.column(column)
	if err != nil {
		return nil, report, err
	}
	out := make([]categorical.TokenSet, 0, len(col))
	for row, id := range ds.IDs {
		raw, ok := col[id]
		if !ok {
			continue
		}
		set := categorical.NewTokenSet(id, raw, delimiter)
		if len(set.Tokens) == 0 {
			report.skip(&RowError{Row: row + 1, ID: id, Column: column, Err: fmt.Errorf("no tokens in %q", raw)})
			continue
		}
		out = append(out, set)
		report.Loaded++
	}
	return out, report, nil
}

// SpatialEntries converts a column for spatial.Build. The first parsed point
// fixes the dimension; later points of another dimension are skipped.
func SpatialEntries(ds *Dataset, column string) ([]spatial.Entry, LoadReport, error) {
	var report LoadReport
	col, err := ds.column(column)
	if err != nil {
		return nil, report, err
	}
	out := make([]spatial.Entry, 0, len(col))
	dims := 0
	for row, id := range ds.IDs {
		raw, ok := col[id]
		if !ok {
			continue
		}
		p, err := ParsePoint(raw, dims)
		if err != nil {
			report.skip(&RowError{Row: row + 1, ID: id, Column: column, Err: err})
			continue
		}
		dims = len(p)
		out = append(out, spatial.Entry{ID: id, Point: p, Value: raw})
		report.Loaded++
	}
	return out, report, nil
}

// PivotAttribute converts a column into a multi-metric attribute. Jaccard
// columns are tokenized with delimiter; every other metric reads points.
func PivotAttribute(ds *Dataset, column string, metric pivot.Metric, delimiter string) (pivot.Attribute, LoadReport, error) {
	var report LoadReport
	attr := pivot.Attribute{Name: column, Metric: metric}
	col, err := ds.column(column)
	if err != nil {
		return attr, report, err
	}
	attr.Values = make(map[string]pivot.Value, len(col))
	dims := 0
	for row, id := range ds.IDs {
		raw, ok := col[id]
		if !ok {
			continue
		}
		v, err := PivotValue(raw, metric, delimiter, dims)
		if err != nil {
			report.skip(&RowError{Row: row + 1, ID: id, Column: column, Err: err})
			continue
		}
		dims = len(v.Point)
		attr.Values[id] = v
		report.Loaded++
	}
	return attr, report, nil
}

// PivotValue parses one raw value for metric. dims > 0 requires a point of
// that dimension.
func PivotValue(raw string, metric pivot.Metric, delimiter string, dims int) (pivot.Value, error) {
	if metric.Name() == "jaccard" {
		return pivot.TokenValue(raw, categorical.Tokenize(raw, delimiter)), nil
	}
	p, err := ParsePoint(raw, dims)
	if err != nil {
		return pivot.Value{}, err
	}
	if metric.Name() == "haversine" && len(p) != 2 {
		return pivot.Value{}, apperrors.Newf(apperrors.ErrDimensionMismatch, "", "haversine needs lat,lon, got %d coordinates", len(p))
	}
	return pivot.PointValue(raw, p...), nil
}
