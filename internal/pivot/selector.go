package pivot

import "math/rand"

// Selector picks pivots on the hull of a value collection: the value
// farthest from a random start, the value farthest from that one, and then
// values whose distances to the chosen pivots best match the distance
// between the first two.
type Selector struct {
	metric Metric
	values []Value
	rng    *rand.Rand
}

func NewSelector(metric Metric, values []Value, seed int64) *Selector {
	return &Selector{
		metric: metric,
		values: values,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Select returns the indices of at most n pivots. Missing values are never
// chosen; fewer than n pivots are returned when there are too few distinct
// candidates.
func (s *Selector) Select(n int) []int {
	var candidates []int
	for i, v := range s.values {
		if !v.Missing() {
			candidates = append(candidates, i)
		}
	}
	if n < 1 || len(candidates) == 0 {
		return nil
	}

	chosen := make(map[int]bool, n)
	// dist[c][j] is the distance of candidate c to pivot j.
	dist := make([][]float64, len(candidates))

	start := candidates[s.rng.Intn(len(candidates))]
	first := s.farthest(candidates, start)
	pivots := []int{candidates[first]}
	chosen[first] = true
	s.record(candidates, dist, candidates[first])
	if n == 1 || len(candidates) == 1 {
		return pivots
	}

	second := s.farthestFrom(dist, 0, chosen)
	if second < 0 {
		return pivots
	}
	pivots = append(pivots, candidates[second])
	chosen[second] = true
	s.record(candidates, dist, candidates[second])
	edge := s.metric.Distance(s.values[pivots[0]], s.values[pivots[1]])

	for len(pivots) < n {
		best, bestErr := -1, 0.0
		for c := range candidates {
			if chosen[c] {
				continue
			}
			var e float64
			for _, d := range dist[c] {
				e += Diff(edge, d)
			}
			if best < 0 || e < bestErr {
				best, bestErr = c, e
			}
		}
		if best < 0 {
			break
		}
		pivots = append(pivots, candidates[best])
		chosen[best] = true
		s.record(candidates, dist, candidates[best])
	}
	return pivots
}

// farthest returns the position in candidates of the value farthest from
// values[from]; the first candidate wins ties.
func (s *Selector) farthest(candidates []int, from int) int {
	best, bestDist := 0, -1.0
	for c, i := range candidates {
		if d := s.metric.Distance(s.values[from], s.values[i]); d > bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// farthestFrom picks the unchosen candidate with the largest recorded
// distance to pivot j.
func (s *Selector) farthestFrom(dist [][]float64, j int, chosen map[int]bool) int {
	best, bestDist := -1, -1.0
	for c := range dist {
		if chosen[c] {
			continue
		}
		if dist[c][j] > bestDist {
			best, bestDist = c, dist[c][j]
		}
	}
	return best
}

func (s *Selector) record(candidates []int, dist [][]float64, pivot int) {
	for c, i := range candidates {
		dist[c] = append(dist[c], s.metric.Distance(s.values[pivot], s.values[i]))
	}
}
