package capture

import (
	"context"
	"time"

	"newfem_go/internal/models"
	"newfem_go/internal/timeutil"
)

// SimulatedSource gera pulsos trapezoidais periódicos sobre uma baseline,
// em função do relógio. Serve para bancada e demonstração sem tela real.
type SimulatedSource struct {
	Baseline   float64
	PeakHeight float64
	Period     time.Duration
	Ramp       time.Duration // duração de cada rampa (subida e descida)
	Hold       time.Duration // tempo no topo

	clock timeutil.Clock
	start time.Time
}

// NewSimulatedSource cria a fonte com os parâmetros padrão de bancada
func NewSimulatedSource(clock timeutil.Clock) *SimulatedSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimulatedSource{
		Baseline:   100,
		PeakHeight: 50,
		Period:     5 * time.Second,
		Ramp:       500 * time.Millisecond,
		Hold:       300 * time.Millisecond,
		clock:      clock,
		start:      clock.Now(),
	}
}

func (s *SimulatedSource) Capture(ctx context.Context, roi models.RoiConfig) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	if !roi.Valid() {
		return Capture{}, ErrUnavailable
	}

	now := s.clock.Now()
	return Capture{
		Width:         roi.Width(),
		Height:        roi.Height(),
		MeanIntensity: s.valueAt(now.Sub(s.start)),
		CapturedAt:    now,
	}, nil
}

func (s *SimulatedSource) valueAt(elapsed time.Duration) float64 {
	if s.Period <= 0 {
		return s.Baseline
	}
	phase := elapsed % s.Period
	// repouso, subida, topo e descida dentro de cada período
	quiet := s.Period - 2*s.Ramp - s.Hold
	if quiet < 0 {
		quiet = 0
	}
	switch {
	case phase < quiet:
		return s.Baseline
	case phase < quiet+s.Ramp:
		return s.Baseline + s.PeakHeight*float64(phase-quiet)/float64(s.Ramp)
	case phase < quiet+s.Ramp+s.Hold:
		return s.Baseline + s.PeakHeight
	case phase < quiet+2*s.Ramp+s.Hold:
		return s.Baseline + s.PeakHeight*float64(quiet+2*s.Ramp+s.Hold-phase)/float64(s.Ramp)
	}
	return s.Baseline
}
