package detector

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	iqrToStdDev      = 1.35 // IQR de uma normal ≈ 1.35σ
	trendSamples     = 20
	slopeStatSamples = 10
)

// noIndex indica busca sem posição de referência (sem compensação de tendência)
const noIndex = -1

// dynamicThreshold calcula o limiar de início de pico. Em modo estático, ou
// sem amostras suficientes, retorna cfg.Threshold. Com index >= 0 a janela
// de baseline é centrada na posição e a compensação de tendência é aplicada.
func dynamicThreshold(data []float64, index int, cfg *Config) float64 {
	n := len(data)
	if !cfg.AdaptiveThreshold || n < cfg.BaselineWindow {
		return cfg.Threshold
	}

	var window []float64
	if index == noIndex {
		window = data[n-cfg.BaselineWindow:]
	} else {
		lo := index - cfg.BaselineWindow/2
		if lo < 0 {
			lo = 0
		}
		hi := index + cfg.BaselineWindow/2
		if hi > n {
			hi = n
		}
		window = data[lo:hi]
	}
	if len(window) == 0 {
		return cfg.Threshold
	}

	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	m := len(sorted)
	q1 := sorted[m/4]
	q3 := sorted[3*m/4]
	median := sorted[m/2]
	noise := (q3 - q1) / iqrToStdDev

	trend := 0.0
	if cfg.TrendCompensation && index != noIndex && n > 10 {
		trend = trendCompensation(data)
	}

	threshold := (median + noise*cfg.NoiseTolerance + trend) * cfg.BaselineMultiplier
	return math.Max(cfg.MinDynamicThreshold, math.Min(cfg.MaxDynamicThreshold, threshold))
}

// trendCompensation extrapola a tendência linear das últimas amostras
func trendCompensation(data []float64) float64 {
	recent := data
	if len(recent) > trendSamples {
		recent = recent[len(recent)-trendSamples:]
	}
	if len(recent) < 5 {
		return 0
	}

	xs := make([]float64, len(recent))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, recent, nil, false)
	if math.IsNaN(beta) {
		return 0
	}
	return beta * float64(len(recent)-1)
}

// adaptiveSlopeThreshold relaxa o limiar de inclinação quando as inclinações
// recentes variam muito e o endurece quando o sinal está calmo.
func adaptiveSlopeThreshold(data []float64, cfg *Config) float64 {
	n := len(data)
	if n < slopeStatSamples {
		return cfg.SlopeThreshold
	}

	slopes := make([]float64, 0, slopeStatSamples)
	for i := n - slopeStatSamples; i < n-1; i++ {
		slopes = append(slopes, math.Abs(slope(data, i, Central3)))
	}
	if len(slopes) == 0 {
		return cfg.SlopeThreshold
	}

	_, std := stat.PopMeanStdDev(slopes, nil)
	factor := 1.0
	switch {
	case std > 2.0:
		factor = 0.7
	case std < 0.5:
		factor = 1.3
	}
	return cfg.SlopeThreshold * factor
}
