// Package similarity turns raw distances into decayed similarity scores. A
// Calibrator's scale is fixed once per attribute, from the distance of the
// k-th result, and every score of that attribute is computed against it.
package similarity

import "math"

// maxDistanceEpsilon is the tolerance for recognising a token-set distance of
// exactly 1 (no common token).
const maxDistanceEpsilon = 1e-6

// Calibrator maps a distance d to exp(-(d/scale)*decay).
type Calibrator struct {
	decay float64
	scale float64
	fixed bool
}

func NewCalibrator(decay float64) *Calibrator {
	return &Calibrator{decay: decay}
}

// Fix sets the scale if it is still unset and scale is positive. It reports
// whether the scale was set by this call.
func (c *Calibrator) Fix(scale float64) bool {
	if c.fixed || !(scale > 0) {
		return false
	}
	c.scale = scale
	c.fixed = true
	return true
}

func (c *Calibrator) Fixed() bool { return c.fixed }

func (c *Calibrator) Scale() float64 { return c.scale }

func (c *Calibrator) Decay() float64 { return c.decay }

// Score returns the decayed similarity of d. A zero distance always scores 1.
// If no scale was fixed yet, the first positive distance becomes the scale.
func (c *Calibrator) Score(d float64) float64 {
	if d == 0 {
		return 1
	}
	if !c.fixed {
		c.Fix(d)
	}
	if !c.fixed {
		return 0
	}
	return math.Exp(-(d / c.scale) * c.decay)
}

// ScoreSet scores a token-set distance (1 - Jaccard). Sets sharing no token
// score 0 regardless of the scale.
func (c *Calibrator) ScoreSet(d float64) float64 {
	if math.Abs(d-1) < maxDistanceEpsilon {
		return 0
	}
	return c.Score(d)
}
