// Package acquisition contém o laço de aquisição: a cada tick obtém uma
// amostra, aplica a estratégia de detecção ativa e grava no armazenamento.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"newfem_go/internal/capture"
	"newfem_go/internal/detector"
	"newfem_go/internal/metrics"
	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/pkg/logger"
)

const (
	MinFPS             = 10
	MaxFPS             = 120
	DefaultFPS         = 60
	DefaultStopTimeout = 2 * time.Second

	// a cada N falhas consecutivas de captura uma linha de log é emitida
	captureErrorLogEvery = 100
)

// ErrStopTimeout indica que o laço não encerrou dentro do prazo de Stop
var ErrStopTimeout = errors.New("tempo esgotado aguardando o laço de aquisição")

// SampleSource identifica a origem da amostra de um tick
type SampleSource string

const (
	SourceRoi       SampleSource = "roi"
	SourceSynthetic SampleSource = "synthetic"
)

// Tick é o resultado de uma iteração do laço
type Tick struct {
	Frame    models.Frame
	Result   models.DetectionResult
	RoiFrame *models.RoiFrame // nil quando a captura veio do cache ou não houve ROI
	Source   SampleSource
	Duration time.Duration
}

// ResultHandler recebe cada tick gravado
type ResultHandler func(tick Tick)

// Options configura o serviço
type Options struct {
	FPS          int
	StopTimeout  time.Duration
	SimpleMargin float64
}

// Stats resume o desempenho do laço
type Stats struct {
	Running         bool          `json:"running"`
	FPS             int           `json:"fps"`
	TotalTicks      int64         `json:"total_ticks"`
	AvgTickDuration time.Duration `json:"avg_tick_duration_ns"`
	Overruns        int64         `json:"overruns"`
	CaptureErrors   int64         `json:"capture_errors"`
}

// Service é o produtor de amostras do pipeline
type Service struct {
	store    *store.SignalStore
	detector *detector.PeakDetector
	simple   detector.BaselineExceedance
	source   capture.FrameSource
	metrics  *metrics.Metrics

	waveMu   sync.Mutex
	waveform *capture.Waveform

	fps         atomic.Int64
	stopTimeout time.Duration

	mutex   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// fence serializa a gravação de um tick com a transição para Stopped
	fence sync.Mutex

	handlers     []ResultHandler
	handlersLock sync.RWMutex

	stats struct {
		totalTicks     atomic.Int64
		overruns       atomic.Int64
		captureErrors  atomic.Int64
		cycleDurations []time.Duration
	}
	statsLock sync.Mutex
}

// NewService cria o serviço parado. source pode ser nil: nesse caso só a
// forma de onda sintética é usada.
func NewService(st *store.SignalStore, det *detector.PeakDetector, source capture.FrameSource, m *metrics.Metrics, opts Options) *Service {
	if opts.FPS == 0 {
		opts.FPS = DefaultFPS
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if source == nil {
		source = capture.Unavailable{}
	}
	s := &Service{
		store:       st,
		detector:    det,
		simple:      detector.NewBaselineExceedance(opts.SimpleMargin),
		source:      source,
		metrics:     m,
		waveform:    capture.DefaultWaveform(),
		stopTimeout: opts.StopTimeout,
	}
	s.fps.Store(int64(clampFPS(opts.FPS)))
	s.stats.cycleDurations = make([]time.Duration, 0, 100)
	return s
}

// Start inicia o laço. Chamar com o laço já ativo não tem efeito.
func (s *Service) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)
	s.store.SetStatus(models.StatusRunning)

	logger.Infof("Iniciando aquisição a %d FPS", s.FPS())
	go s.collectData(ctx, done)
	return nil
}

// Stop encerra o laço e aguarda sua saída. Ao retornar, nenhum frame novo
// é gravado, mesmo quando o prazo de espera se esgota.
func (s *Service) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running.Load() {
		return nil
	}

	logger.Info("Parando aquisição")
	s.cancel()

	var err error
	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		err = fmt.Errorf("%w após %v", ErrStopTimeout, s.stopTimeout)
		logger.Warnf("Laço de aquisição não encerrou em %v", s.stopTimeout)
	}

	s.fence.Lock()
	s.store.SetStatus(models.StatusStopped)
	s.fence.Unlock()

	s.running.Store(false)
	s.cancel = nil
	s.done = nil
	return err
}

// IsRunning verifica se o laço está ativo
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// SetFPS altera a taxa de aquisição; vale a partir do próximo tick
func (s *Service) SetFPS(fps int) error {
	if fps < MinFPS || fps > MaxFPS {
		return &models.ValidationError{
			Field:  "fps",
			Value:  fps,
			Reason: fmt.Sprintf("deve estar entre %d e %d", MinFPS, MaxFPS),
		}
	}
	s.fps.Store(int64(fps))
	s.store.SetBaselineWindow(fps)
	logger.Infof("FPS de aquisição alterado para %d", fps)
	return nil
}

// FPS retorna a taxa configurada
func (s *Service) FPS() int {
	return int(s.fps.Load())
}

// RegisterResultHandler registra uma função chamada a cada tick gravado
func (s *Service) RegisterResultHandler(handler ResultHandler) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Stats retorna as estatísticas de desempenho
func (s *Service) Stats() Stats {
	st := Stats{
		Running:       s.IsRunning(),
		FPS:           s.FPS(),
		TotalTicks:    s.stats.totalTicks.Load(),
		Overruns:      s.stats.overruns.Load(),
		CaptureErrors: s.stats.captureErrors.Load(),
	}
	s.statsLock.Lock()
	st.AvgTickDuration = averageDuration(s.stats.cycleDurations)
	s.statsLock.Unlock()
	return st
}

func (s *Service) period() time.Duration {
	return time.Second / time.Duration(s.FPS())
}

// collectData executa o laço principal. Um tick que estoura o período é
// seguido imediatamente pelo próximo, sem rajada de recuperação.
func (s *Service) collectData(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			s.logPerformanceStats()
		case <-timer.C:
			start := time.Now()
			period := s.period()

			s.processTick(ctx)

			elapsed := time.Since(start)
			overrun := elapsed >= period
			s.recordCycle(elapsed, overrun)

			wait := period - elapsed
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

// processTick executa uma iteração. Qualquer pânico é registrado e o laço segue.
func (s *Service) processTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Falha inesperada no ciclo de aquisição: %v", r)
			s.metrics.ObservePanic()
		}
	}()

	start := time.Now()
	roi, configured := s.store.RoiConfig()

	// a captura acontece fora de qualquer lock
	value, shot, source := s.sample(ctx, roi, configured)

	frame, result, roiFrame, ok := s.record(ctx, value, shot, roi, configured)
	if !ok {
		return
	}

	s.metrics.ObserveFrame(result, roiFrame != nil)
	if result.Region != nil {
		logger.Infof("Pico %s detectado no frame %d (confiança %.2f)",
			result.Region.Color, result.Region.PeakFrame, result.Region.Confidence)
	}

	s.notifyResultHandlers(Tick{
		Frame:    frame,
		Result:   result,
		RoiFrame: roiFrame,
		Source:   source,
		Duration: time.Since(start),
	})
}

// record processa e grava a amostra sob o fence. Após o cancelamento nada
// é gravado.
func (s *Service) record(ctx context.Context, value float64, shot *capture.Capture, roi models.RoiConfig, configured bool) (models.Frame, models.DetectionResult, *models.RoiFrame, bool) {
	s.fence.Lock()
	defer s.fence.Unlock()

	if ctx.Err() != nil {
		return models.Frame{}, models.DetectionResult{}, nil, false
	}

	index := s.store.FrameCount() + 1
	var result models.DetectionResult
	if configured {
		result = s.detector.ProcessFrame(value, index)
	} else {
		baseline := value
		if index > 1 {
			baseline = s.store.Baseline()
		}
		result = s.simple.Evaluate(value, baseline, index)
	}

	var timestamp time.Time
	if shot != nil {
		timestamp = shot.CapturedAt
	}
	frame := s.store.AddFrame(value, timestamp, result.PeakSignal)

	var roiFrame *models.RoiFrame
	if shot != nil && !shot.Cached {
		rf := s.store.AddRoiFrame(shot.MeanIntensity, roi, frame.Index, shot.Duration, shot.CapturedAt)
		roiFrame = &rf
	}
	return frame, result, roiFrame, true
}

// sample obtém o valor do tick: captura da ROI quando configurada e válida,
// senão a forma de onda sintética.
func (s *Service) sample(ctx context.Context, roi models.RoiConfig, configured bool) (float64, *capture.Capture, SampleSource) {
	if configured {
		shot, err := s.source.Capture(ctx, roi)
		switch {
		case err != nil:
			s.handleCaptureError(err)
		case shot.MeanIntensity > 0:
			return shot.MeanIntensity, &shot, SourceRoi
		}
	}

	s.waveMu.Lock()
	defer s.waveMu.Unlock()
	return s.waveform.Next(s.FPS()), nil, SourceSynthetic
}

func (s *Service) handleCaptureError(err error) {
	n := s.stats.captureErrors.Add(1)
	s.metrics.ObserveCaptureError()
	if n == 1 || n%captureErrorLogEvery == 0 {
		logger.Warnf("Falha na captura da ROI (%d no total), usando amostra sintética: %v", n, err)
	}
}

// ResetSession descarta os dados da sessão: buffers do armazenamento, janela
// e histórico do detector e a fase da forma de onda sintética. A ROI e a
// configuração são mantidas.
func (s *Service) ResetSession() {
	s.fence.Lock()
	s.store.Reset()
	s.detector.Reset()
	s.fence.Unlock()

	s.waveMu.Lock()
	s.waveform.Reset()
	s.waveMu.Unlock()

	logger.Info("Sessão de aquisição reiniciada")
}

func (s *Service) notifyResultHandlers(tick Tick) {
	s.handlersLock.RLock()
	handlers := s.handlers
	s.handlersLock.RUnlock()

	for _, handler := range handlers {
		s.safeNotify(handler, tick)
	}
}

func (s *Service) safeNotify(handler ResultHandler, tick Tick) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Handler de resultado falhou no frame %d: %v", tick.Frame.Index, r)
		}
	}()
	handler(tick)
}

func (s *Service) recordCycle(d time.Duration, overrun bool) {
	s.stats.totalTicks.Add(1)
	if overrun {
		s.stats.overruns.Add(1)
	}
	s.metrics.ObserveTick(d, overrun)

	s.statsLock.Lock()
	s.stats.cycleDurations = append(s.stats.cycleDurations, d)
	if len(s.stats.cycleDurations) > 100 {
		s.stats.cycleDurations = s.stats.cycleDurations[1:]
	}
	s.statsLock.Unlock()
}

// logPerformanceStats registra estatísticas de desempenho
func (s *Service) logPerformanceStats() {
	st := s.Stats()
	logger.Infof("Estatísticas de aquisição: %d ticks, duração média %v, %d estouros, %d falhas de captura",
		st.TotalTicks, st.AvgTickDuration, st.Overruns, st.CaptureErrors)
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func clampFPS(fps int) int {
	if fps < MinFPS {
		return MinFPS
	}
	if fps > MaxFPS {
		return MaxFPS
	}
	return fps
}
