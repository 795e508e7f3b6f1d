package pivot

import (
	"context"
	"math"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	"golang.org/x/sync/errgroup"
)

// ctxCheckEvery is how many browsed entities pass between context checks
// during calibration.
const ctxCheckEvery = 64

// Calibrate finds, for each attribute on its own, the distance of the k-th
// entity nearest to values. Attributes are calibrated concurrently. A
// distance of 0 keeps browsing until a positive one appears; if none does
// the scale is 1.
func (ix *Index) Calibrate(ctx context.Context, values map[string]Value, k int) (map[string]float64, error) {
	if k < 1 {
		k = 1
	}
	bounders := make([]*bounder, len(ix.refs))
	for m, ref := range ix.refs {
		b, err := ix.resolve(Query{Values: values, Weights: map[string]float64{ref.Name: 1}})
		if err != nil {
			return nil, err
		}
		bounders[m] = b
	}

	scales := make([]float64, len(ix.refs))
	g, ctx := errgroup.WithContext(ctx)
	for m, b := range bounders {
		g.Go(func() error {
			d, err := kthDistance(ctx, spatial.NewBrowser(ix.tree, b, b), k)
			if err != nil {
				return err
			}
			scales[m] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(ix.refs))
	for m, ref := range ix.refs {
		out[ref.Name] = scales[m]
	}
	return out, nil
}

func kthDistance(ctx context.Context, b *spatial.Browser, k int) (float64, error) {
	var last float64
	for count := 1; ; count++ {
		if count%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		nb, ok := b.Next()
		if !ok {
			break
		}
		last = nb.Distance
		if count >= k && last > 0 {
			break
		}
	}
	if last > 0 && !math.IsInf(last, 1) {
		return last, nil
	}
	return 1, nil
}

// MaxRangeScales uses, per attribute, the widest range any of its pivot
// coordinates spans over the whole index.
func (ix *Index) MaxRangeScales() map[string]float64 {
	out := make(map[string]float64, len(ix.refs))
	var root *spatial.Rect
	if ix.tree.Root >= 0 {
		root = &ix.tree.Nodes[ix.tree.Root].MBR
	}
	for _, ref := range ix.refs {
		maxRange := 0.0
		if root != nil {
			for i := ref.Start; i <= ref.End; i++ {
				if root.EmptyDim(i) {
					continue
				}
				maxRange = math.Max(maxRange, root.Max[i]-root.Min[i])
			}
		}
		if maxRange > 0 {
			out[ref.Name] = maxRange
		} else {
			out[ref.Name] = 1
		}
	}
	return out
}
