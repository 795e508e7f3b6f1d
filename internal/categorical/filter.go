package categorical

import "math"

// Measure is a token-set similarity for which size and prefix bounds are
// known.
type Measure int

const (
	Jaccard Measure = iota
	Dice
	Cosine
)

func (m Measure) String() string {
	switch m {
	case Jaccard:
		return "jaccard"
	case Dice:
		return "dice"
	case Cosine:
		return "cosine"
	}
	return "unknown"
}

// MinSize is the smallest target size that can reach threshold t against a
// query of size r.
func (m Measure) MinSize(r int, t float64) int {
	switch m {
	case Dice:
		return int(math.Ceil(float64(r) * t / (2 - t)))
	case Cosine:
		return int(math.Ceil(float64(r) * t * t))
	default:
		return int(math.Ceil(float64(r) * t))
	}
}

// MaxSize is the largest target size that can reach threshold t against a
// query of size r. A non-positive threshold admits any size.
func (m Measure) MaxSize(r int, t float64) int {
	if t <= 0 {
		return math.MaxInt
	}
	switch m {
	case Dice:
		return int(math.Floor(float64(r) * (2 - t) / t))
	case Cosine:
		return int(math.Floor(float64(r) / (t * t)))
	default:
		return int(math.Floor(float64(r) / t))
	}
}

// MinOverlap is the overlap two sets of sizes r and s need to reach t.
func (m Measure) MinOverlap(r, s int, t float64) int {
	var o float64
	switch m {
	case Dice:
		o = t * float64(r+s) / 2
	case Cosine:
		o = t * math.Sqrt(float64(r)*float64(s))
	default:
		o = t / (1 + t) * float64(r+s)
	}
	return int(math.Ceil(roundTo(o, 1e5)))
}

// PrefixLength is the number of leading tokens of a set of size r that must
// be indexed so every pair at or above t shares a prefix token.
func (m Measure) PrefixLength(r int, t float64) int {
	p := r - m.MinOverlap(r, m.MinSize(r, t), t) + 1
	return max(0, min(p, r))
}

// Similarity computes m over two sorted id sets.
func (m Measure) Similarity(a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	o := float64(Overlap(a, b))
	switch m {
	case Dice:
		return 2 * o / float64(len(a)+len(b))
	case Cosine:
		return o / math.Sqrt(float64(len(a))*float64(len(b)))
	default:
		return o / float64(len(a)+len(b)-int(o))
	}
}

// Overlap counts the common elements of two ascending id sets.
func Overlap(a, b []int) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

func roundTo(v, precision float64) float64 {
	return math.Round(v*precision) / precision
}
