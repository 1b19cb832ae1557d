package models

import (
	"fmt"
	"time"
)

// SystemStatus representa o estado do pipeline de aquisição
type SystemStatus string

const (
	StatusRunning SystemStatus = "running"
	StatusStopped SystemStatus = "stopped"
	StatusError   SystemStatus = "error"
)

// PeakColor classifica a estabilidade de um pico detectado
type PeakColor string

const (
	ColorNone  PeakColor = ""
	ColorGreen PeakColor = "green" // estável
	ColorRed   PeakColor = "red"   // instável
)

// Frame é uma amostra do canal principal
type Frame struct {
	Index      uint64    `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	PeakSignal *int      `json:"peak_signal"`
}

// RoiConfig define a região da tela monitorada. Deve satisfazer X1 < X2 e Y1 < Y2.
type RoiConfig struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid verifica a ordenação das coordenadas
func (r RoiConfig) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

// Width retorna a largura da região
func (r RoiConfig) Width() int { return r.X2 - r.X1 }

// Height retorna a altura da região
func (r RoiConfig) Height() int { return r.Y2 - r.Y1 }

// Clamp limita a região às dimensões da tela
func (r RoiConfig) Clamp(screenWidth, screenHeight int) RoiConfig {
	clamp := func(v, max int) int {
		if v < 0 {
			return 0
		}
		if v > max {
			return max
		}
		return v
	}
	return RoiConfig{
		X1: clamp(r.X1, screenWidth),
		Y1: clamp(r.Y1, screenHeight),
		X2: clamp(r.X2, screenWidth),
		Y2: clamp(r.Y2, screenHeight),
	}
}

func (r RoiConfig) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// RoiFrame é uma amostra do canal ROI, com sequência própria de índices
type RoiFrame struct {
	Index           uint64        `json:"index"`
	Timestamp       time.Time     `json:"timestamp"`
	GrayValue       float64       `json:"gray_value"`
	Roi             RoiConfig     `json:"roi_config"`
	MainFrameIndex  uint64        `json:"main_frame_index"`
	CaptureDuration time.Duration `json:"capture_duration"`
}

// StatusSnapshot é uma leitura consistente de vários campos do armazenamento
type StatusSnapshot struct {
	Status         SystemStatus `json:"status"`
	FrameCount     uint64       `json:"frame_count"`
	CurrentValue   float64      `json:"current_value"`
	PeakSignal     *int         `json:"peak_signal"`
	LastPeakSignal *int         `json:"last_peak_signal"`
	BufferSize     int          `json:"buffer_size"`
	Baseline       float64      `json:"baseline"`
	RoiConfigured  bool         `json:"roi_configured"`
	RoiBufferSize  int          `json:"roi_buffer_size"`
}

// PeakRegion é o resultado de uma detecção completa. StartFrame <= PeakFrame <= EndFrame.
type PeakRegion struct {
	StartFrame uint64    `json:"start_frame"`
	EndFrame   uint64    `json:"end_frame"`
	PeakFrame  uint64    `json:"peak_frame"`
	MaxValue   float64   `json:"max_value"`
	Color      PeakColor `json:"color"`
	Confidence float64   `json:"confidence"`
	Difference float64   `json:"difference"`
	DetectedAt time.Time `json:"detected_at"`
}

// DetectionResult é a decisão de um tick do detector
type DetectionResult struct {
	FrameIndex   uint64      `json:"frame_index"`
	PeakSignal   *int        `json:"peak_signal"`
	Color        PeakColor   `json:"color,omitempty"`
	Confidence   float64     `json:"confidence"`
	Threshold    float64     `json:"threshold"`
	InPeakRegion bool        `json:"in_peak_region"`
	Region       *PeakRegion `json:"region,omitempty"`
}

// Peak indica se o tick emitiu um pico
func (r DetectionResult) Peak() bool {
	return r.PeakSignal != nil && *r.PeakSignal == 1
}

// Signal retorna um ponteiro para o valor de sinal informado
func Signal(v int) *int {
	return &v
}
