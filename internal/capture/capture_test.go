package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/models"
	"newfem_go/internal/timeutil"
)

type countingSource struct {
	calls int
	value float64
	err   error
}

func (c *countingSource) Capture(ctx context.Context, roi models.RoiConfig) (Capture, error) {
	c.calls++
	if c.err != nil {
		return Capture{}, c.err
	}
	return Capture{Width: roi.Width(), Height: roi.Height(), MeanIntensity: c.value}, nil
}

func TestCachedSourceReusesWithinInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	src := &countingSource{value: 90}
	cache := NewCachedSource(src, 2, clock)
	roi := models.RoiConfig{X1: 0, Y1: 0, X2: 100, Y2: 50}

	first, err := cache.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 100, first.Width)

	clock.Advance(200 * time.Millisecond)
	second, err := cache.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, src.calls)

	clock.Advance(400 * time.Millisecond)
	third, err := cache.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, src.calls)
}

func TestCachedSourceInvalidatedByRoiChange(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	src := &countingSource{value: 90}
	cache := NewCachedSource(src, 1, clock)

	_, err := cache.Capture(context.Background(), models.RoiConfig{X2: 10, Y2: 10})
	require.NoError(t, err)
	c, err := cache.Capture(context.Background(), models.RoiConfig{X2: 20, Y2: 20})
	require.NoError(t, err)
	assert.False(t, c.Cached)
	assert.Equal(t, 2, src.calls)

	cache.Invalidate()
	_, err = cache.Capture(context.Background(), models.RoiConfig{X2: 20, Y2: 20})
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestCachedSourcePropagatesErrors(t *testing.T) {
	src := &countingSource{err: ErrUnavailable}
	cache := NewCachedSource(src, 2, timeutil.NewMockClock(time.Unix(0, 0)))

	_, err := cache.Capture(context.Background(), models.RoiConfig{X2: 10, Y2: 10})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestCachedSourceFrameRateBounds(t *testing.T) {
	cache := NewCachedSource(Unavailable{}, 500, nil)
	assert.InDelta(t, MaxRoiFrameRate, cache.FrameRate(), 1e-3)
	cache.SetFrameRate(0)
	assert.InDelta(t, MinRoiFrameRate, cache.FrameRate(), 1e-3)
}

func TestWaveformIsDeterministic(t *testing.T) {
	a, b := DefaultWaveform(), DefaultWaveform()
	for i := 0; i < 120; i++ {
		assert.Equal(t, a.Next(60), b.Next(60))
	}

	w := DefaultWaveform()
	assert.InDelta(t, 120.0, w.Next(2), 1e-9) // t=0
	assert.InDelta(t, 130.0, w.Next(2), 1e-9) // t=0.5 -> sin(pi/2)
	assert.InDelta(t, 120.0, w.Next(2), 1e-9) // t=1.0 -> sin(pi)
}

func TestSimulatedSourcePulse(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewSimulatedSource(clock)
	roi := models.RoiConfig{X2: 10, Y2: 10}

	c, err := src.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.MeanIntensity)

	// repouso = 5s - 2*0.5s - 0.3s = 3.7s; topo entre 4.2s e 4.5s
	clock.Advance(4300 * time.Millisecond)
	c, err = src.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.Equal(t, 150.0, c.MeanIntensity)

	_, err = src.Capture(context.Background(), models.RoiConfig{})
	assert.True(t, errors.Is(err, ErrUnavailable))
}
