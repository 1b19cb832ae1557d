package detector

import "newfem_go/internal/models"

// DefaultExceedanceMargin é a margem sobre a baseline usada pela detecção simples
const DefaultExceedanceMargin = 8.0

// BaselineExceedance é a estratégia simples usada quando não há ROI
// configurada: pico quando o valor supera a baseline móvel por uma margem fixa.
type BaselineExceedance struct {
	Margin float64
}

// NewBaselineExceedance cria a estratégia com a margem informada (<= 0 usa o padrão)
func NewBaselineExceedance(margin float64) BaselineExceedance {
	if margin <= 0 {
		margin = DefaultExceedanceMargin
	}
	return BaselineExceedance{Margin: margin}
}

// Evaluate compara o valor com a baseline anterior à escrita do frame
func (b BaselineExceedance) Evaluate(value, baseline float64, frameIndex uint64) models.DetectionResult {
	signal := 0
	if value-baseline > b.Margin {
		signal = 1
	}
	return models.DetectionResult{
		FrameIndex: frameIndex,
		PeakSignal: models.Signal(signal),
		Threshold:  baseline + b.Margin,
	}
}
