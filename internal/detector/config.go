package detector

import (
	"errors"

	"newfem_go/internal/models"
)

// ErrInvalidConfig é retornado quando algum campo da configuração está fora da faixa
var ErrInvalidConfig = errors.New("configuração de detecção inválida")

// Config contém os parâmetros do detector de picos. Uma única cópia fica
// ativa e é substituída por inteiro em UpdateConfig.
type Config struct {
	Threshold           float64 `json:"threshold"`
	MarginFrames        int     `json:"margin_frames"`
	DifferenceThreshold float64 `json:"difference_threshold"`
	MinRegionLength     int     `json:"min_region_length"`

	// Janela deslizante
	WindowSize     int     `json:"window_size"`
	SlopeThreshold float64 `json:"slope_threshold"`
	MinSlopeFrames int     `json:"min_slope_frames"`

	// Limiar dinâmico
	AdaptiveThreshold   bool    `json:"adaptive_threshold"`
	BaselineWindow      int     `json:"baseline_window"`
	BaselineMultiplier  float64 `json:"baseline_multiplier"`
	MinDynamicThreshold float64 `json:"min_dynamic_threshold"`
	MaxDynamicThreshold float64 `json:"max_dynamic_threshold"`
	NoiseTolerance      float64 `json:"noise_tolerance"`
	TrendCompensation   bool    `json:"trend_compensation"`
}

// DefaultConfig retorna a configuração padrão do detector
func DefaultConfig() Config {
	return Config{
		Threshold:           105.0,
		MarginFrames:        5,
		DifferenceThreshold: 2.1,
		MinRegionLength:     3,

		WindowSize:     100,
		SlopeThreshold: 0.5,
		MinSlopeFrames: 3,

		AdaptiveThreshold:   true,
		BaselineWindow:      50,
		BaselineMultiplier:  1.2,
		MinDynamicThreshold: 80.0,
		MaxDynamicThreshold: 150.0,
		NoiseTolerance:      0.1,
		TrendCompensation:   true,
	}
}

// Validate verifica as faixas aceitas. A configuração é rejeitada por inteiro.
func (c Config) Validate() error {
	invalid := func(field string, value interface{}, reason string) error {
		return &models.ValidationError{Field: field, Value: value, Reason: reason, Err: ErrInvalidConfig}
	}

	switch {
	case c.Threshold < 50 || c.Threshold > 255:
		return invalid("threshold", c.Threshold, "deve estar entre 50 e 255")
	case c.MarginFrames < 1 || c.MarginFrames > 20:
		return invalid("margin_frames", c.MarginFrames, "deve estar entre 1 e 20")
	case c.DifferenceThreshold < 0.1 || c.DifferenceThreshold > 10:
		return invalid("difference_threshold", c.DifferenceThreshold, "deve estar entre 0.1 e 10")
	case c.MinRegionLength < 1 || c.MinRegionLength > 20:
		return invalid("min_region_length", c.MinRegionLength, "deve estar entre 1 e 20")
	case c.MinSlopeFrames < 1 || c.MinSlopeFrames > 20:
		return invalid("min_slope_frames", c.MinSlopeFrames, "deve estar entre 1 e 20")
	case c.WindowSize < 2*c.MinSlopeFrames+2 || c.WindowSize > 1000:
		return invalid("window_size", c.WindowSize, "deve comportar a busca de subida e descida (máximo 1000)")
	case c.SlopeThreshold <= 0:
		return invalid("slope_threshold", c.SlopeThreshold, "deve ser positivo")
	}

	if c.AdaptiveThreshold {
		switch {
		case c.BaselineWindow < 1:
			return invalid("baseline_window", c.BaselineWindow, "deve ser positivo")
		case c.BaselineMultiplier <= 0:
			return invalid("baseline_multiplier", c.BaselineMultiplier, "deve ser positivo")
		case c.MinDynamicThreshold > c.MaxDynamicThreshold:
			return invalid("min_dynamic_threshold", c.MinDynamicThreshold, "não pode exceder max_dynamic_threshold")
		case c.NoiseTolerance < 0:
			return invalid("noise_tolerance", c.NoiseTolerance, "não pode ser negativo")
		}
	}
	return nil
}
