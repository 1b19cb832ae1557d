// Package capture define a capacidade FrameSource (leitura da intensidade
// média de uma região da tela) e as fontes usadas pelo pipeline.
package capture

import (
	"context"
	"errors"
	"math"
	"time"

	"newfem_go/internal/models"
)

// ErrUnavailable indica que a fonte não conseguiu produzir uma leitura neste tick
var ErrUnavailable = errors.New("captura indisponível")

// Capture é o resultado de uma leitura da região
type Capture struct {
	Width         int
	Height        int
	MeanIntensity float64
	CapturedAt    time.Time
	Duration      time.Duration
	Cached        bool // reaproveitada do cache, sem nova leitura
}

// FrameSource lê a intensidade média de uma região
type FrameSource interface {
	Capture(ctx context.Context, roi models.RoiConfig) (Capture, error)
}

// FrameSourceFunc adapta uma função ao FrameSource
type FrameSourceFunc func(ctx context.Context, roi models.RoiConfig) (Capture, error)

func (f FrameSourceFunc) Capture(ctx context.Context, roi models.RoiConfig) (Capture, error) {
	return f(ctx, roi)
}

// Unavailable é uma fonte que nunca produz leitura
type Unavailable struct{}

func (Unavailable) Capture(context.Context, models.RoiConfig) (Capture, error) {
	return Capture{}, ErrUnavailable
}

// Waveform é o sinal sintético determinístico usado quando não há leitura
// válida: base + amplitude·sin(2π·freq·t), com t avançando 1/fps por amostra.
type Waveform struct {
	Base      float64
	Amplitude float64
	Frequency float64 // Hz
	t         float64
}

// DefaultWaveform retorna 120 + 10·sin(2π·0.5·t)
func DefaultWaveform() *Waveform {
	return &Waveform{Base: 120, Amplitude: 10, Frequency: 0.5}
}

// Next retorna a próxima amostra e avança o tempo interno
func (w *Waveform) Next(fps int) float64 {
	v := w.Base + w.Amplitude*math.Sin(2*math.Pi*w.Frequency*w.t)
	if fps > 0 {
		w.t += 1 / float64(fps)
	}
	return v
}

// Reset volta o tempo interno para zero
func (w *Waveform) Reset() {
	w.t = 0
}
