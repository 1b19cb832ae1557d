// Package store mantém os buffers de amostras e o status corrente do
// pipeline. Todas as leituras de múltiplos campos são feitas sob o mesmo
// lock e portanto são consistentes entre si.
package store

import (
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"newfem_go/internal/models"
	"newfem_go/internal/ringbuf"
)

const (
	DefaultBufferSize     = 100
	DefaultRoiBufferSize  = 500
	DefaultBaselineWindow = 60
)

// ErrInvalidRoi é retornado quando a ROI viola x1<x2 e y1<y2
var ErrInvalidRoi = errors.New("coordenadas de ROI inválidas")

// Options configura as capacidades do armazenamento
type Options struct {
	BufferSize     int
	RoiBufferSize  int
	BaselineWindow int // normalmente igual ao FPS
}

// SignalStore é a fonte única de verdade das amostras do pipeline
type SignalStore struct {
	mu sync.RWMutex

	frames    *ringbuf.Ring[models.Frame]
	roiFrames *ringbuf.Ring[models.RoiFrame]

	frameCount    uint64
	roiFrameCount uint64

	status         models.SystemStatus
	currentValue   float64
	peakSignal     *int
	lastPeakSignal *int
	baseline       float64
	baselineWindow int

	roi           models.RoiConfig
	roiConfigured bool

	// scratch para o cálculo da baseline, evita alocação por frame
	scratch []float64
}

// New cria um armazenamento vazio no estado stopped
func New(opts Options) *SignalStore {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.RoiBufferSize <= 0 {
		opts.RoiBufferSize = DefaultRoiBufferSize
	}
	if opts.BaselineWindow <= 0 {
		opts.BaselineWindow = DefaultBaselineWindow
	}
	return &SignalStore{
		frames:         ringbuf.NewRing[models.Frame](opts.BufferSize),
		roiFrames:      ringbuf.NewRing[models.RoiFrame](opts.RoiBufferSize),
		status:         models.StatusStopped,
		baselineWindow: opts.BaselineWindow,
	}
}

// AddFrame adiciona uma amostra ao canal principal e recalcula a baseline.
// Timestamp zero usa o horário atual. peak nil mantém lastPeakSignal.
func (s *SignalStore) AddFrame(value float64, timestamp time.Time, peak *int) models.Frame {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frameCount++
	frame := models.Frame{
		Index:      s.frameCount,
		Timestamp:  timestamp,
		Value:      value,
		PeakSignal: copyInt(peak),
	}
	s.frames.Push(frame)

	s.currentValue = value
	s.peakSignal = copyInt(peak)
	if peak != nil {
		s.lastPeakSignal = copyInt(peak)
	}
	s.baseline = s.computeBaseline()

	return frame
}

// computeBaseline calcula a média das últimas min(len, baselineWindow) amostras.
// Deve ser chamada com o lock adquirido.
func (s *SignalStore) computeBaseline() float64 {
	n := s.frames.Len()
	if n > s.baselineWindow {
		n = s.baselineWindow
	}
	if n == 0 {
		return 0
	}
	s.scratch = s.scratch[:0]
	for _, f := range s.frames.Last(n) {
		s.scratch = append(s.scratch, f.Value)
	}
	return stat.Mean(s.scratch, nil)
}

// AddRoiFrame adiciona uma amostra ao canal ROI, com sequência de índices própria
func (s *SignalStore) AddRoiFrame(gray float64, roi models.RoiConfig, mainFrameIndex uint64, captureDuration time.Duration, timestamp time.Time) models.RoiFrame {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.roiFrameCount++
	frame := models.RoiFrame{
		Index:           s.roiFrameCount,
		Timestamp:       timestamp,
		GrayValue:       gray,
		Roi:             roi,
		MainFrameIndex:  mainFrameIndex,
		CaptureDuration: captureDuration,
	}
	s.roiFrames.Push(frame)
	return frame
}

// Snapshot retorna todos os campos de status lidos em uma única seção crítica
func (s *SignalStore) Snapshot() models.StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return models.StatusSnapshot{
		Status:         s.status,
		FrameCount:     s.frameCount,
		CurrentValue:   s.currentValue,
		PeakSignal:     copyInt(s.peakSignal),
		LastPeakSignal: copyInt(s.lastPeakSignal),
		BufferSize:     s.frames.Len(),
		Baseline:       s.baseline,
		RoiConfigured:  s.roiConfigured,
		RoiBufferSize:  s.roiFrames.Len(),
	}
}

// Series retorna as últimas n amostras do canal principal, da mais antiga para a mais recente
func (s *SignalStore) Series(n int) []models.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames.Last(n)
}

// RoiSeries retorna as últimas n amostras do canal ROI
func (s *SignalStore) RoiSeries(n int) []models.RoiFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roiFrames.Last(n)
}

// LatestRoiFrame retorna a amostra ROI mais recente
func (s *SignalStore) LatestRoiFrame() (models.RoiFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roiFrames.Newest()
}

// SetRoiConfig valida e ativa a ROI
func (s *SignalStore) SetRoiConfig(cfg models.RoiConfig) error {
	if !cfg.Valid() {
		return &models.ValidationError{
			Field:  "roi",
			Value:  cfg.String(),
			Reason: "x1 < x2 e y1 < y2 são obrigatórios",
			Err:    ErrInvalidRoi,
		}
	}

	s.mu.Lock()
	s.roi = cfg
	s.roiConfigured = true
	s.mu.Unlock()
	return nil
}

// RoiConfig retorna a ROI atual e se ela está configurada
func (s *SignalStore) RoiConfig() (models.RoiConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roi, s.roiConfigured
}

// ClearRoiConfig desativa a ROI
func (s *SignalStore) ClearRoiConfig() {
	s.mu.Lock()
	s.roi = models.RoiConfig{}
	s.roiConfigured = false
	s.mu.Unlock()
}

// SetStatus altera o status do sistema
func (s *SignalStore) SetStatus(status models.SystemStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status retorna o status do sistema
func (s *SignalStore) Status() models.SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Baseline retorna a baseline atual
func (s *SignalStore) Baseline() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline
}

// LastPeakSignal retorna o último sinal de pico não nulo
func (s *SignalStore) LastPeakSignal() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyInt(s.lastPeakSignal)
}

// FrameCount retorna o total de frames do canal principal
func (s *SignalStore) FrameCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameCount
}

// SetBaselineWindow altera a janela da baseline (normalmente após mudança de FPS)
func (s *SignalStore) SetBaselineWindow(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.baselineWindow = n
	s.baseline = s.computeBaseline()
	s.mu.Unlock()
}

// Reset limpa os dois buffers e o status derivado. A ROI é mantida.
func (s *SignalStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames.Clear()
	s.roiFrames.Clear()
	s.frameCount = 0
	s.roiFrameCount = 0
	s.currentValue = 0
	s.peakSignal = nil
	s.lastPeakSignal = nil
	s.baseline = 0
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
