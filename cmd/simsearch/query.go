package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/categorical"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/numeric"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"gopkg.in/yaml.v3"
)

// QueryFile is the YAML document the search and calibrate commands read.
type QueryFile struct {
	ID            string          `yaml:"id"`
	Source        SourceSpec      `yaml:"source"`
	TopK          int             `yaml:"topK"`
	CandidatePool int             `yaml:"candidatePool"`
	Attributes    []AttributeSpec `yaml:"attributes"`
}

// SourceSpec names the dataset: a CSV file or a Postgres table.
type SourceSpec struct {
	CSV      string `yaml:"csv"`
	Table    string `yaml:"table"`
	IDColumn string `yaml:"idColumn"`
}

// AttributeSpec is one queried attribute. Column defaults to Name;
// multimetric attributes list their parts in Components instead of Value.
type AttributeSpec struct {
	Name       string          `yaml:"name"`
	Kind       engine.Kind     `yaml:"kind"`
	Column     string          `yaml:"column"`
	Value      string          `yaml:"value"`
	Delimiter  *string         `yaml:"delimiter"`
	Components []ComponentSpec `yaml:"components"`
}

// ComponentSpec is one attribute of a multimetric search.
type ComponentSpec struct {
	Column    string   `yaml:"column"`
	Metric    string   `yaml:"metric"`
	Value     string   `yaml:"value"`
	Weight    *float64 `yaml:"weight"`
	Delimiter *string  `yaml:"delimiter"`
}

func (a AttributeSpec) column() string {
	if a.Column != "" {
		return a.Column
	}
	return a.Name
}

func delimiterOr(d *string) string {
	if d == nil {
		return categorical.DefaultDelimiter
	}
	return *d
}

// LoadQueryFile parses and validates a query file.
func LoadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file %s: %w", path, err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing query file %s: %w", path, err)
	}
	if err := qf.Validate(); err != nil {
		return nil, err
	}
	return &qf, nil
}

func (qf *QueryFile) Validate() error {
	if (qf.Source.CSV == "") == (qf.Source.Table == "") {
		return apperrors.New(apperrors.ErrInvalidQuery, "", "source needs exactly one of csv or table")
	}
	if qf.Source.IDColumn == "" {
		qf.Source.IDColumn = "id"
	}
	if len(qf.Attributes) == 0 {
		return apperrors.New(apperrors.ErrInvalidQuery, "", "query has no attributes")
	}
	seen := make(map[string]struct{}, len(qf.Attributes))
	for _, a := range qf.Attributes {
		if a.Name == "" {
			return apperrors.New(apperrors.ErrInvalidQuery, "", "attribute without a name")
		}
		if _, dup := seen[a.Name]; dup {
			return apperrors.New(apperrors.ErrInvalidQuery, a.Name, "attribute listed twice")
		}
		seen[a.Name] = struct{}{}
		switch a.Kind {
		case engine.KindCategorical, engine.KindNumeric, engine.KindSpatial:
			if len(a.Components) > 0 {
				return apperrors.Newf(apperrors.ErrInvalidQuery, a.Name, "%s attribute cannot have components", a.Kind)
			}
		case engine.KindMultiMetric:
			if len(a.Components) == 0 {
				return apperrors.New(apperrors.ErrInvalidQuery, a.Name, "multimetric attribute needs components")
			}
			for _, c := range a.Components {
				if c.Column == "" || c.Metric == "" {
					return apperrors.New(apperrors.ErrInvalidQuery, a.Name, "component needs column and metric")
				}
			}
		default:
			return apperrors.Newf(apperrors.ErrInvalidQuery, a.Name, "unknown kind %q", a.Kind)
		}
	}
	return nil
}

// Columns lists every dataset column the query reads, sorted.
func (qf *QueryFile) Columns() []string {
	set := make(map[string]struct{})
	for _, a := range qf.Attributes {
		if a.Kind == engine.KindMultiMetric {
			for _, c := range a.Components {
				set[c.Column] = struct{}{}
			}
			continue
		}
		set[a.column()] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Params applies the file's overrides to the configured search knobs.
func (qf *QueryFile) Params(cfg config.SearchConfig) (engine.Params, error) {
	if qf.TopK > 0 {
		cfg.TopK = qf.TopK
	}
	if qf.CandidatePool > 0 {
		cfg.CandidatePool = qf.CandidatePool
	}
	if cfg.CandidatePool < cfg.TopK {
		return engine.Params{}, apperrors.Newf(apperrors.ErrInvalidQuery, "",
			"candidatePool (%d) must be >= topK (%d)", cfg.CandidatePool, cfg.TopK)
	}
	return engine.ParamsFromConfig(cfg), nil
}

// scaler supplies the per-attribute scales of a multimetric search.
type scaler func(ctx context.Context, name string, ix *pivot.Index, values map[string]pivot.Value, k int) (map[string]float64, error)

// planner turns a query file and a dataset into runnable tasks.
type planner struct {
	cfg    *config.Config
	params engine.Params
	scale  scaler
	report dataset.LoadReport
}

func (p *planner) tasks(ctx context.Context, qf *QueryFile, ds *dataset.Dataset) ([]engine.Task, error) {
	tasks := make([]engine.Task, 0, len(qf.Attributes))
	for _, a := range qf.Attributes {
		t, err := p.task(ctx, a, ds)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (p *planner) task(ctx context.Context, a AttributeSpec, ds *dataset.Dataset) (engine.Task, error) {
	switch a.Kind {
	case engine.KindCategorical:
		delim := delimiterOr(a.Delimiter)
		sets, report, err := dataset.TokenSets(ds, a.column(), delim)
		if err != nil {
			return nil, err
		}
		p.report.Merge(report)
		return &engine.CategoricalTask{
			Name:   a.Name,
			Index:  categorical.BuildIndex(sets, delim),
			Query:  a.Value,
			Params: p.params,
		}, nil

	case engine.KindNumeric:
		values, report, err := dataset.NumericValues(ds, a.column())
		if err != nil {
			return nil, err
		}
		p.report.Merge(report)
		q, err := dataset.ParseNumber(a.Value)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidQuery, a.Name, "%v", err)
		}
		ix, _ := numeric.BuildIndex(values)
		return &engine.NumericTask{Name: a.Name, Index: ix, Query: q, Params: p.params}, nil

	case engine.KindSpatial:
		entries, report, err := dataset.SpatialEntries(ds, a.column())
		if err != nil {
			return nil, err
		}
		p.report.Merge(report)
		tree, err := spatial.Build(entries, p.cfg.Spatial.Fanout)
		if err != nil {
			return nil, fmt.Errorf("building %s tree: %w", a.Name, err)
		}
		q, err := dataset.ParsePoint(a.Value, tree.Dims)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidQuery, a.Name, "%v", err)
		}
		return &engine.SpatialTask{Name: a.Name, Tree: tree, Query: q, Params: p.params}, nil

	case engine.KindMultiMetric:
		ix, query, err := p.multiMetric(a, ds)
		if err != nil {
			return nil, err
		}
		query.Scales, err = p.scale(ctx, a.Name, ix, query.Values, p.params.TopK)
		if err != nil {
			return nil, fmt.Errorf("scaling %s: %w", a.Name, err)
		}
		return &engine.MultiMetricTask{Name: a.Name, Index: ix, Query: query, Params: p.params}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalidQuery, a.Name, "unknown kind %q", a.Kind)
}

// multiMetric builds the pivot index of a multimetric attribute and its
// unscaled query.
func (p *planner) multiMetric(a AttributeSpec, ds *dataset.Dataset) (*pivot.Index, pivot.Query, error) {
	attrs := make([]pivot.Attribute, 0, len(a.Components))
	query := pivot.Query{
		Values:  make(map[string]pivot.Value, len(a.Components)),
		Weights: make(map[string]float64, len(a.Components)),
	}
	for _, c := range a.Components {
		metric, err := pivot.MetricByName(c.Metric, p.cfg.Pivot.NaNDistance)
		if err != nil {
			return nil, query, err
		}
		attr, report, err := dataset.PivotAttribute(ds, c.Column, metric, delimiterOr(c.Delimiter))
		if err != nil {
			return nil, query, err
		}
		p.report.Merge(report)
		attrs = append(attrs, attr)

		if c.Value != "" {
			v, err := dataset.PivotValue(c.Value, metric, delimiterOr(c.Delimiter), 0)
			if err != nil {
				return nil, query, apperrors.Newf(apperrors.ErrInvalidQuery, c.Column, "%v", err)
			}
			query.Values[c.Column] = v
		}
		w := 1.0
		if c.Weight != nil {
			w = *c.Weight
		}
		query.Weights[c.Column] = w
	}
	ix, err := pivot.Build(attrs, pivot.Options{
		PivotsPerAttribute: p.cfg.Pivot.PivotsPerAttribute,
		Seed:               p.cfg.Pivot.Seed,
		Fanout:             p.cfg.Spatial.Fanout,
	})
	if err != nil {
		return nil, query, fmt.Errorf("building %s pivot index: %w", a.Name, err)
	}
	return ix, query, nil
}

// directScaler calibrates without a cache, or reads the root bounds when
// the configured scaling is maxrange.
func directScaler(cfg config.PivotConfig) scaler {
	return func(ctx context.Context, _ string, ix *pivot.Index, values map[string]pivot.Value, k int) (map[string]float64, error) {
		if cfg.Scaling == "maxrange" {
			return ix.MaxRangeScales(), nil
		}
		return ix.Calibrate(ctx, values, k)
	}
}

// cachedScaler routes knn calibrations through cache under indexName/name.
func cachedScaler(cfg config.PivotConfig, cache *engine.ScaleCache, indexName string) scaler {
	direct := directScaler(cfg)
	return func(ctx context.Context, name string, ix *pivot.Index, values map[string]pivot.Value, k int) (map[string]float64, error) {
		if cfg.Scaling == "maxrange" {
			return direct(ctx, name, ix, values, k)
		}
		scales, _, err := cache.Calibrate(ctx, indexName+":"+name, ix, values, k)
		return scales, err
	}
}
