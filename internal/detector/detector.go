// Package detector transforma o sinal de intensidade em eventos de pico
// discretos, com classificação de estabilidade (verde/vermelho).
//
// A cada frame o valor entra numa janela deslizante. Várias estimativas de
// inclinação são combinadas, um limiar dinâmico é derivado da estatística
// recente e candidatos subida/descida são pontuados por forma. O melhor
// candidato aceito gera uma PeakRegion; picos já emitidos não são repetidos
// nos frames seguintes.
package detector

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"newfem_go/internal/models"
	"newfem_go/internal/ringbuf"
	"newfem_go/pkg/logger"
)

// DefaultHistorySize limita o histórico de regiões mantido em memória
const DefaultHistorySize = 100

// Status resume o estado interno do detector
type Status struct {
	Config         Config             `json:"config"`
	WindowLength   int                `json:"frame_buffer_size"`
	TotalPeaks     uint64             `json:"total_peaks_detected"`
	HistoryLength  int                `json:"history_size"`
	InPeakRegion   bool               `json:"in_peak_region"`
	LastPeakRegion *models.PeakRegion `json:"last_peak_region,omitempty"`
}

// PeakDetector é o detector de picos por janela deslizante.
// É seguro para uso concorrente; ProcessFrame é serializado internamente.
type PeakDetector struct {
	config atomic.Pointer[Config]

	mu         sync.Mutex
	window     []float64
	history    *ringbuf.Ring[models.PeakRegion]
	lastPeak   *models.PeakRegion
	totalPeaks uint64
	inRegion   bool
}

// New cria um detector com a configuração informada (validada)
func New(cfg Config) (*PeakDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &PeakDetector{
		window:  make([]float64, 0, cfg.WindowSize),
		history: ringbuf.NewRing[models.PeakRegion](DefaultHistorySize),
	}
	d.config.Store(&cfg)
	return d, nil
}

// UpdateConfig substitui a configuração ativa. A troca vale a partir do
// próximo frame e não descarta as amostras da janela.
func (d *PeakDetector) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.config.Store(&cfg)
	logger.Infof("Configuração de detecção atualizada: threshold=%.1f, margin_frames=%d, difference_threshold=%.2f",
		cfg.Threshold, cfg.MarginFrames, cfg.DifferenceThreshold)
	return nil
}

// Config retorna uma cópia da configuração ativa
func (d *PeakDetector) Config() Config {
	return *d.config.Load()
}

// ProcessFrame consome uma amostra e decide se um pico foi concluído.
// Nunca entra em pânico: valores não finitos são ignorados e qualquer falha
// interna resulta em "sem pico" para o frame.
func (d *PeakDetector) ProcessFrame(value float64, frameIndex uint64) (result models.DetectionResult) {
	cfg := d.config.Load()
	result = models.DetectionResult{FrameIndex: frameIndex, Threshold: cfg.Threshold}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Falha interna no detector (frame %d): %v", frameIndex, r)
			result = models.DetectionResult{FrameIndex: frameIndex, Threshold: cfg.Threshold}
		}
	}()

	if math.IsNaN(value) || math.IsInf(value, 0) {
		logger.Debugf("Frame %d ignorado: valor não finito", frameIndex)
		return result
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = append(d.window, value)
	if len(d.window) > cfg.WindowSize {
		keep := d.window[len(d.window)-cfg.WindowSize:]
		d.window = append(d.window[:0], keep...)
	}

	d.inRegion = d.lastPeak != nil && frameIndex >= d.lastPeak.StartFrame && frameIndex <= d.lastPeak.EndFrame
	result.InPeakRegion = d.inRegion

	if d.lastPeak != nil && frameIndex < d.lastPeak.StartFrame {
		// contagem de frames reiniciada
		d.lastPeak = nil
	}

	data := d.window
	if len(data) < cfg.MinSlopeFrames+2 {
		return result
	}
	result.Threshold = dynamicThreshold(data, noIndex, cfg)

	cands := d.candidates(data, frameIndex, cfg)
	if len(cands) == 0 {
		return result
	}
	best := cands[0]
	if ok, reason := accept(best, len(data)); !ok {
		if logger.IsDebugEnabled() {
			logger.Debugf("Frame %d: candidato rise=%d fall=%d rejeitado (%s, score=%.2f)",
				frameIndex, best.rise, best.fall, reason, best.quality.Score)
		}
		return result
	}

	region := d.buildRegion(data, best, frameIndex, cfg)
	d.lastPeak = &region
	d.history.Push(region)
	d.totalPeaks++
	d.inRegion = true

	logger.Infof("Pico detectado: frame=%d valor=%.2f cor=%s confiança=%.2f rise=%d fall=%d qualidade=%.2f",
		region.PeakFrame, region.MaxValue, region.Color, region.Confidence, best.rise, best.fall, best.quality.Score)

	result.PeakSignal = models.Signal(1)
	result.Color = region.Color
	result.Confidence = region.Confidence
	result.InPeakRegion = true
	result.Region = &region
	return result
}

// candidates reúne o par subida/descida da janela inteira e os candidatos
// da varredura por segmentos, descarta os que já foram emitidos e retorna
// o restante ordenado por qualidade.
func (d *PeakDetector) candidates(data []float64, frameIndex uint64, cfg *Config) []candidate {
	slopeThr := adaptiveSlopeThreshold(data, cfg)

	cands := multiPeaks(data, cfg, slopeThr)
	if rise, fall, ok := completeWaveform(data, cfg, slopeThr); ok {
		if q := peakQuality(data, rise, fall); q.Score > minCandidateQuality {
			cands = append(cands, candidate{rise: rise, fall: fall, quality: q})
		}
	}

	if d.lastPeak != nil {
		fresh := cands[:0]
		for _, c := range cands {
			if peakFrameOf(data, c, frameIndex) > d.lastPeak.EndFrame {
				fresh = append(fresh, c)
			}
		}
		cands = fresh
	}
	if len(cands) == 0 {
		return nil
	}
	return rankCandidates(cands, cfg.MinSlopeFrames)
}

// peakFrameOf converte a posição do máximo do candidato em índice absoluto.
// frameIndex corresponde à última posição da janela.
func peakFrameOf(data []float64, c candidate, frameIndex uint64) uint64 {
	back := uint64(len(data) - 1 - c.rise - c.quality.PeakOffset)
	if frameIndex > back {
		return frameIndex - back
	}
	return 0
}

func (d *PeakDetector) buildRegion(data []float64, c candidate, frameIndex uint64, cfg *Config) models.PeakRegion {
	maxValue := data[c.rise+c.quality.PeakOffset]
	peakFrame := peakFrameOf(data, c, frameIndex)

	margin := uint64(cfg.MarginFrames)
	start := uint64(0)
	if peakFrame > margin {
		start = peakFrame - margin
	}

	color, confidence, _ := classifyColor(data, c.rise, c.fall, cfg.DifferenceThreshold)

	return models.PeakRegion{
		StartFrame: start,
		EndFrame:   peakFrame + margin,
		PeakFrame:  peakFrame,
		MaxValue:   maxValue,
		Color:      color,
		Confidence: confidence,
		Difference: maxValue - math.Min(data[c.rise], data[c.fall]),
		DetectedAt: time.Now(),
	}
}

// RecentPeaks retorna as últimas n regiões detectadas, da mais antiga para a mais recente
func (d *PeakDetector) RecentPeaks(n int) []models.PeakRegion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Last(n)
}

// ClearHistory apaga o histórico de regiões
func (d *PeakDetector) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.Clear()
	d.lastPeak = nil
	d.inRegion = false
	logger.Info("Histórico de picos limpo")
}

// Reset limpa a janela e o histórico
func (d *PeakDetector) Reset() {
	d.mu.Lock()
	d.window = d.window[:0]
	d.mu.Unlock()
	d.ClearHistory()
}

// Status retorna o estado atual do detector
func (d *PeakDetector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		Config:        *d.config.Load(),
		WindowLength:  len(d.window),
		TotalPeaks:    d.totalPeaks,
		HistoryLength: d.history.Len(),
		InPeakRegion:  d.inRegion,
	}
	if d.lastPeak != nil {
		last := *d.lastPeak
		st.LastPeakRegion = &last
	}
	return st
}

func (s Status) String() string {
	return fmt.Sprintf("janela=%d picos=%d histórico=%d", s.WindowLength, s.TotalPeaks, s.HistoryLength)
}
