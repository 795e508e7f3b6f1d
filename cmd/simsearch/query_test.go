package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadQueryFile(t *testing.T) {
	qf, err := LoadQueryFile("testdata/query.yaml")
	require.NoError(t, err)

	assert.Equal(t, "test-query", qf.ID)
	require.Len(t, qf.Attributes, 4)
	assert.Equal(t, engine.KindMultiMetric, qf.Attributes[3].Kind)
	assert.Equal(t, []string{"location", "price", "size", "tags"}, qf.Columns())
	assert.Equal(t, "csv:testdata/listings.csv", indexName(qf))

	params, err := qf.Params(config.Default().Search)
	require.NoError(t, err)
	assert.Equal(t, 2, params.TopK)
	assert.Equal(t, 5, params.Limit)
}

func TestQueryFileValidate(t *testing.T) {
	csv := SourceSpec{CSV: "x.csv"}
	tests := []struct {
		name string
		qf   QueryFile
	}{
		{"no source", QueryFile{Attributes: []AttributeSpec{{Name: "a", Kind: engine.KindNumeric}}}},
		{"two sources", QueryFile{Source: SourceSpec{CSV: "x.csv", Table: "t"}, Attributes: []AttributeSpec{{Name: "a", Kind: engine.KindNumeric}}}},
		{"no attributes", QueryFile{Source: csv}},
		{"unnamed", QueryFile{Source: csv, Attributes: []AttributeSpec{{Kind: engine.KindNumeric}}}},
		{"duplicate", QueryFile{Source: csv, Attributes: []AttributeSpec{
			{Name: "a", Kind: engine.KindNumeric}, {Name: "a", Kind: engine.KindSpatial},
		}}},
		{"unknown kind", QueryFile{Source: csv, Attributes: []AttributeSpec{{Name: "a", Kind: "fuzzy"}}}},
		{"multimetric without components", QueryFile{Source: csv, Attributes: []AttributeSpec{{Name: "a", Kind: engine.KindMultiMetric}}}},
		{"component without metric", QueryFile{Source: csv, Attributes: []AttributeSpec{
			{Name: "a", Kind: engine.KindMultiMetric, Components: []ComponentSpec{{Column: "x"}}},
		}}},
		{"numeric with components", QueryFile{Source: csv, Attributes: []AttributeSpec{
			{Name: "a", Kind: engine.KindNumeric, Components: []ComponentSpec{{Column: "x", Metric: "manhattan"}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.qf.Validate(), apperrors.ErrInvalidQuery)
		})
	}

	ok := QueryFile{Source: csv, Attributes: []AttributeSpec{{Name: "a", Kind: engine.KindNumeric}}}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "id", ok.Source.IDColumn)
}

func TestParamsRejectsSmallPool(t *testing.T) {
	qf := QueryFile{TopK: 10, CandidatePool: 3}
	_, err := qf.Params(config.Default().Search)
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
}

func TestLoadQueryFileErrors(t *testing.T) {
	_, err := LoadQueryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("attributes: [\n"), 0o644))
	_, err = LoadQueryFile(bad)
	assert.Error(t, err)
}

func planQuery(t *testing.T, cfg *config.Config) ([]engine.Task, *planner) {
	t.Helper()
	qf, err := LoadQueryFile("testdata/query.yaml")
	require.NoError(t, err)
	ds, report, err := dataset.LoadCSVFile(qf.Source.CSV, qf.Source.IDColumn, qf.Columns())
	require.NoError(t, err)
	require.Zero(t, report.Skipped)

	params, err := qf.Params(cfg.Search)
	require.NoError(t, err)
	p := &planner{cfg: cfg, params: params, scale: directScaler(cfg.Pivot)}
	tasks, err := p.tasks(context.Background(), qf, ds)
	require.NoError(t, err)
	return tasks, p
}

func entryIDs(entries []sink.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestPlannedQueryRuns(t *testing.T) {
	cfg := config.Default()
	tasks, p := planQuery(t, cfg)
	require.Len(t, tasks, 4)
	assert.Equal(t, 1, p.report.Skipped, "l6 has a non-numeric price")

	mm := tasks[3].(*engine.MultiMetricTask)
	assert.Contains(t, mm.Query.Scales, "location")
	assert.Contains(t, mm.Query.Scales, "size")
	assert.Equal(t, 2.0, mm.Query.Weights["location"])

	coord, err := engine.NewCoordinator(2)
	require.NoError(t, err)
	defer coord.Close()
	exec, err := coord.Execute(context.Background(), tasks)
	require.NoError(t, err)
	reports, err := exec.Wait()
	require.NoError(t, err)

	results := collect(exec, reports)
	require.Len(t, results, 4)
	price := entryIDs(results["price"].Entries)
	require.GreaterOrEqual(t, len(price), 4)
	assert.Equal(t, []string{"l2", "l4"}, price[:2])
	assert.ElementsMatch(t, []string{"l1", "l5"}, price[2:4], "equal distance 20")
	assert.Equal(t, "l4", results["tags"].Entries[0].ID)
	assert.Equal(t, []string{"l1", "l6"}, entryIDs(results["location"].Entries)[:2])
	assert.Equal(t, "l1", results["nearby"].Entries[0].ID)
	for name, r := range results {
		assert.LessOrEqual(t, r.Emitted, 5, name)
		assert.Empty(t, r.Error, name)
	}
}

func TestMaxRangeScaling(t *testing.T) {
	cfg := config.Default()
	cfg.Pivot.Scaling = "maxrange"
	tasks, _ := planQuery(t, cfg)
	mm := tasks[3].(*engine.MultiMetricTask)
	assert.Equal(t, mm.Index.MaxRangeScales(), mm.Query.Scales)
}
