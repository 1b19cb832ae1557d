package capture

import (
	"context"
	"sync"
	"time"

	"newfem_go/internal/models"
	"newfem_go/internal/timeutil"
)

const (
	MinRoiFrameRate = 1.0
	MaxRoiFrameRate = 60.0
)

// CachedSource reaproveita a última leitura enquanto a ROI não muda e o
// intervalo 1/frameRate não expirou. Trocar a ROI invalida o cache.
type CachedSource struct {
	source FrameSource
	clock  timeutil.Clock

	mu       sync.Mutex
	interval time.Duration
	last     Capture
	lastRoi  models.RoiConfig
	valid    bool
}

// NewCachedSource cria o cache com a taxa de captura da ROI em Hz
func NewCachedSource(source FrameSource, frameRate float64, clock timeutil.Clock) *CachedSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &CachedSource{source: source, clock: clock}
	c.SetFrameRate(frameRate)
	return c
}

// SetFrameRate altera a taxa de captura, limitada a [1, 60] Hz
func (c *CachedSource) SetFrameRate(rate float64) {
	if rate < MinRoiFrameRate {
		rate = MinRoiFrameRate
	}
	if rate > MaxRoiFrameRate {
		rate = MaxRoiFrameRate
	}
	c.mu.Lock()
	c.interval = time.Duration(float64(time.Second) / rate)
	c.mu.Unlock()
}

// FrameRate retorna a taxa de captura atual em Hz
func (c *CachedSource) FrameRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(time.Second) / float64(c.interval)
}

// Invalidate descarta a leitura em cache
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Capture retorna a leitura em cache ou faz uma nova. A leitura da fonte
// acontece fora do lock.
func (c *CachedSource) Capture(ctx context.Context, roi models.RoiConfig) (Capture, error) {
	c.mu.Lock()
	if c.valid && c.lastRoi == roi && c.clock.Since(c.last.CapturedAt) < c.interval {
		cached := c.last
		c.mu.Unlock()
		cached.Cached = true
		return cached, nil
	}
	c.mu.Unlock()

	start := c.clock.Now()
	capture, err := c.source.Capture(ctx, roi)
	if err != nil {
		return Capture{}, err
	}
	if capture.CapturedAt.IsZero() {
		capture.CapturedAt = start
	}
	if capture.Duration == 0 {
		capture.Duration = c.clock.Since(start)
	}
	capture.Cached = false

	c.mu.Lock()
	c.last = capture
	c.lastRoi = roi
	c.valid = true
	c.mu.Unlock()

	return capture, nil
}
