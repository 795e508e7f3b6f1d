package similarity

import (
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibratorFixOnce(t *testing.T) {
	c := NewCalibrator(0.5)
	assert.False(t, c.Fix(0), "zero scale must not be fixed")
	assert.False(t, c.Fixed())
	assert.True(t, c.Fix(4))
	assert.False(t, c.Fix(8), "scale must not be re-fixed")
	assert.Equal(t, 4.0, c.Scale())
	assert.InDelta(t, math.Exp(-0.5), c.Score(4), 1e-12)
	assert.Equal(t, 1.0, c.Score(0))
}

func TestCalibratorAutoFixesOnFirstPositiveDistance(t *testing.T) {
	c := NewCalibrator(1)
	assert.Equal(t, 1.0, c.Score(0))
	assert.False(t, c.Fixed())
	assert.InDelta(t, math.Exp(-1), c.Score(3), 1e-12)
	assert.Equal(t, 3.0, c.Scale())
}

func TestScoreSetMaximalDistanceIsZero(t *testing.T) {
	c := NewCalibrator(0.01)
	c.Fix(0.5)
	assert.Equal(t, 0.0, c.ScoreSet(1))
	assert.Equal(t, 0.0, c.ScoreSet(1-1e-9))
	assert.Greater(t, c.ScoreSet(0.9), 0.0)
}

func TestEmitterHoldsFirstK(t *testing.T) {
	const decay = 0.3
	buf := sink.NewBuffer()
	cal := NewCalibrator(decay)
	em := NewEmitter(cal, 2, buf)

	em.Emit("a", 9.0, 1)
	assert.Equal(t, 0, buf.Len(), "first result must wait for the k-th")
	assert.Equal(t, 1, em.Pending())

	em.Emit("b", 15.0, 5)
	require.Equal(t, 2, buf.Len())
	assert.Equal(t, 5.0, cal.Scale())

	em.Emit("c", 4.0, 6)
	em.Close()

	entries := buf.Entries()
	require.Len(t, entries, 3)
	assert.InDelta(t, math.Exp(-decay/5), entries[0].Score, 1e-12)
	assert.InDelta(t, math.Exp(-decay), entries[1].Score, 1e-12)
	assert.InDelta(t, math.Exp(-6.0/5*decay), entries[2].Score, 1e-12)
	assert.Equal(t, 3, em.Count())
}

func TestEmitterCloseFlushesShortResult(t *testing.T) {
	buf := sink.NewBuffer()
	cal := NewCalibrator(1)
	em := NewEmitter(cal, 5, buf)
	em.Emit("a", nil, 0)
	em.Emit("b", nil, 2)
	em.Close()
	em.Close()

	entries := buf.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2.0, cal.Scale())
	assert.Equal(t, 1.0, entries[0].Score)
	assert.InDelta(t, math.Exp(-1), entries[1].Score, 1e-12)
}

func TestEmitterSetMode(t *testing.T) {
	buf := sink.NewBuffer()
	em := NewEmitter(NewCalibrator(1), 1, buf, WithSetDistance())
	em.Emit("a", nil, 0.25)
	em.Emit("b", nil, 1)
	entries := buf.Entries()
	require.Len(t, entries, 2)
	assert.InDelta(t, math.Exp(-1), entries[0].Score, 1e-12)
	assert.Equal(t, 0.0, entries[1].Score)
}
