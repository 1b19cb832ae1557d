// Package metrics expõe os contadores do pipeline no formato Prometheus
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newfem_go/internal/models"
)

const namespace = "newfem"

// Metrics agrupa os coletores do pipeline. Todos os métodos aceitam receptor nil.
type Metrics struct {
	registry *prometheus.Registry

	framesAcquired  prometheus.Counter
	roiFrames       prometheus.Counter
	peaksDetected   *prometheus.CounterVec
	captureErrors   prometheus.Counter
	tickOverruns    prometheus.Counter
	tickPanics      prometheus.Counter
	tickDuration    prometheus.Histogram
	messagesSent    *prometheus.CounterVec
	subscribersLost *prometheus.CounterVec
}

// New cria um registro próprio com os coletores do pipeline
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_acquired_total",
			Help:      "Frames gravados no canal principal",
		}),
		roiFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roi_frames_total",
			Help:      "Capturas de ROI gravadas",
		}),
		peaksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peaks_detected_total",
			Help:      "Picos emitidos pelo detector, por cor",
		}, []string{"color"}),
		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Falhas da fonte de captura recuperadas com amostra sintética",
		}),
		tickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks que excederam o período configurado",
		}),
		tickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_panics_total",
			Help:      "Falhas inesperadas recuperadas dentro de um tick",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duração de processamento de cada tick",
			Buckets:   []float64{.0005, .001, .002, .005, .01, .02, .05, .1},
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_sent_total",
			Help:      "Mensagens enfileiradas para assinantes, por tipo",
		}, []string{"type"}),
		subscribersLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_subscribers_removed_total",
			Help:      "Assinantes removidos, por motivo",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.framesAcquired,
		m.roiFrames,
		m.peaksDetected,
		m.captureErrors,
		m.tickOverruns,
		m.tickPanics,
		m.tickDuration,
		m.messagesSent,
		m.subscribersLost,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterGaugeFunc registra um gauge lido sob demanda (ex.: snapshot do armazenamento)
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// ObserveTick registra a duração de um tick e se ele estourou o período
func (m *Metrics) ObserveTick(d time.Duration, overrun bool) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	if overrun {
		m.tickOverruns.Inc()
	}
}

// ObserveFrame contabiliza um frame gravado e o resultado da detecção
func (m *Metrics) ObserveFrame(result models.DetectionResult, roiFrame bool) {
	if m == nil {
		return
	}
	m.framesAcquired.Inc()
	if roiFrame {
		m.roiFrames.Inc()
	}
	if result.Region != nil {
		m.peaksDetected.WithLabelValues(string(result.Region.Color)).Inc()
	}
}

// ObserveCaptureError contabiliza uma falha de captura
func (m *Metrics) ObserveCaptureError() {
	if m == nil {
		return
	}
	m.captureErrors.Inc()
}

// ObservePanic contabiliza uma falha recuperada no tick
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.tickPanics.Inc()
}

// ObserveMessage contabiliza uma mensagem enviada a um assinante
func (m *Metrics) ObserveMessage(msgType models.MessageType) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(msgType)).Inc()
}

// ObserveRemoval contabiliza a remoção de um assinante
func (m *Metrics) ObserveRemoval(reason string) {
	if m == nil {
		return
	}
	m.subscribersLost.WithLabelValues(reason).Inc()
}

// Registry retorna o registro Prometheus
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler retorna o handler HTTP do Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
