package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/models"
)

func TestSeriesInsertionOrder(t *testing.T) {
	const capacity = 10

	for n := 0; n <= capacity; n++ {
		s := New(Options{BufferSize: capacity})
		for i := 0; i < n; i++ {
			s.AddFrame(float64(i), time.Time{}, nil)
		}
		series := s.Series(n)
		require.Len(t, series, n)
		for i, f := range series {
			assert.Equal(t, float64(i), f.Value)
			assert.Equal(t, uint64(i+1), f.Index)
		}
	}
}

func TestSeriesOverflowDropsOldest(t *testing.T) {
	s := New(Options{BufferSize: 5})
	for i := 0; i < 8; i++ {
		s.AddFrame(float64(i), time.Time{}, nil)
	}

	series := s.Series(100)
	require.Len(t, series, 5)
	assert.Equal(t, 3.0, series[0].Value)
	assert.Equal(t, 7.0, series[4].Value)
	for i := 1; i < len(series); i++ {
		assert.Greater(t, series[i].Index, series[i-1].Index)
	}
}

func TestSeriesNeverPads(t *testing.T) {
	s := New(Options{BufferSize: 5})
	s.AddFrame(1, time.Time{}, nil)
	assert.Len(t, s.Series(4), 1)
	assert.Len(t, s.RoiSeries(4), 0)
}

func TestBaselineUsesRecentWindow(t *testing.T) {
	s := New(Options{BufferSize: 10, BaselineWindow: 3})
	for _, v := range []float64{100, 100, 100, 10, 20, 30} {
		s.AddFrame(v, time.Time{}, nil)
	}
	assert.InDelta(t, 20.0, s.Baseline(), 1e-9)

	s.Reset()
	assert.Equal(t, 0.0, s.Baseline())
	s.AddFrame(50, time.Time{}, nil)
	assert.InDelta(t, 50.0, s.Snapshot().Baseline, 1e-9)
}

func TestPeakSignalTracking(t *testing.T) {
	s := New(Options{})
	s.AddFrame(1, time.Time{}, models.Signal(1))
	s.AddFrame(2, time.Time{}, nil)

	snap := s.Snapshot()
	assert.Nil(t, snap.PeakSignal)
	require.NotNil(t, snap.LastPeakSignal)
	assert.Equal(t, 1, *snap.LastPeakSignal)

	s.AddFrame(3, time.Time{}, models.Signal(0))
	require.NotNil(t, s.LastPeakSignal())
	assert.Equal(t, 0, *s.LastPeakSignal())
}

func TestSnapshotConsistentUnderConcurrency(t *testing.T) {
	s := New(Options{BufferSize: 50})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			s.AddFrame(float64(i), time.Time{}, nil)
		}
	}()

	for i := 0; i < 500; i++ {
		snap := s.Snapshot()
		// o valor escrito no frame i é exatamente i
		assert.Equal(t, float64(snap.FrameCount), snap.CurrentValue)
		assert.LessOrEqual(t, snap.BufferSize, 50)
	}
	wg.Wait()
}

func TestRoiConfigRoundTrip(t *testing.T) {
	s := New(Options{})
	_, configured := s.RoiConfig()
	assert.False(t, configured)

	cfg := models.RoiConfig{X1: 10, Y1: 20, X2: 110, Y2: 220}
	require.NoError(t, s.SetRoiConfig(cfg))

	got, configured := s.RoiConfig()
	assert.True(t, configured)
	assert.Equal(t, cfg, got)
	assert.True(t, s.Snapshot().RoiConfigured)
}

func TestRoiConfigRejectsInvalid(t *testing.T) {
	s := New(Options{})
	good := models.RoiConfig{X1: 0, Y1: 0, X2: 50, Y2: 50}
	require.NoError(t, s.SetRoiConfig(good))

	for _, bad := range []models.RoiConfig{
		{X1: 10, Y1: 0, X2: 10, Y2: 50},
		{X1: 0, Y1: 60, X2: 50, Y2: 50},
	} {
		err := s.SetRoiConfig(bad)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRoi))

		var verr *models.ValidationError
		assert.True(t, errors.As(err, &verr))
	}

	got, _ := s.RoiConfig()
	assert.Equal(t, good, got, "configuração inválida não deve ser aplicada")
}

func TestRoiFramesIndependentSequence(t *testing.T) {
	s := New(Options{RoiBufferSize: 2})
	roi := models.RoiConfig{X1: 0, Y1: 0, X2: 10, Y2: 10}
	for i := 0; i < 5; i++ {
		s.AddFrame(1, time.Time{}, nil)
	}
	s.AddRoiFrame(90, roi, 5, time.Millisecond, time.Time{})
	s.AddRoiFrame(91, roi, 5, time.Millisecond, time.Time{})
	f := s.AddRoiFrame(92, roi, 5, time.Millisecond, time.Time{})

	assert.Equal(t, uint64(3), f.Index)
	series := s.RoiSeries(10)
	require.Len(t, series, 2)
	assert.Equal(t, 91.0, series[0].GrayValue)

	latest, ok := s.LatestRoiFrame()
	require.True(t, ok)
	assert.Equal(t, 92.0, latest.GrayValue)
}

func TestResetClearsBuffers(t *testing.T) {
	s := New(Options{})
	s.SetStatus(models.StatusRunning)
	s.AddFrame(5, time.Time{}, models.Signal(1))
	s.AddRoiFrame(5, models.RoiConfig{X2: 1, Y2: 1}, 1, 0, time.Time{})

	s.Reset()
	snap := s.Snapshot()
	assert.Zero(t, snap.FrameCount)
	assert.Zero(t, snap.BufferSize)
	assert.Zero(t, snap.RoiBufferSize)
	assert.Nil(t, snap.LastPeakSignal)
	assert.Equal(t, models.StatusRunning, snap.Status)
}
