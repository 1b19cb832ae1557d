package detector

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"newfem_go/internal/models"
)

const (
	contextFrames   = 5  // amostras antes/depois da região usadas para a amplitude
	noiseSamples    = 20 // amostras finais usadas como ruído de referência
	minAcceptScore  = 0.4
	minAmplitude    = 5.0
	minPeakWidth    = 2
	settleFrames    = 3 // amostras exigidas após a descida para classificar a cor
	maxColorSamples = 5
)

// pesos: amplitude, largura, simetria, nitidez, SNR, consistência de tendência
var qualityWeights = [6]float64{0.2, 0.15, 0.15, 0.2, 0.2, 0.1}

// quality resume as métricas de forma de um candidato
type quality struct {
	Score            float64
	Amplitude        float64
	Width            int
	Symmetry         float64 // 0 = simétrico
	Sharpness        float64
	SignalNoise      float64
	TrendConsistency float64
	PeakOffset       int // posição do máximo relativa à subida
}

// peakQuality calcula a pontuação composta de um par subida/descida
func peakQuality(data []float64, rise, fall int) quality {
	n := len(data)
	if rise < 0 || rise >= fall || fall >= n {
		return quality{}
	}

	peak := data[rise : fall+1]
	offset := floats.MaxIdx(peak)
	maxValue := peak[offset]

	lo := rise - contextFrames
	if lo < 0 {
		lo = 0
	}
	hi := fall + contextFrames + 1
	if hi > n {
		hi = n
	}
	amplitude := maxValue - floats.Min(data[lo:hi])
	width := fall - rise
	halfWidth := float64(width) / 2

	q := quality{
		Amplitude:        amplitude,
		Width:            width,
		Symmetry:         math.Abs((float64(offset) - halfWidth) / (halfWidth + 1)),
		Sharpness:        amplitude / float64(width+1),
		SignalNoise:      1.0,
		TrendConsistency: 1.0,
		PeakOffset:       offset,
	}

	if n > noiseSamples {
		_, std := stat.PopMeanStdDev(data[n-noiseSamples:], nil)
		if std == 0 {
			std = 1.0
		}
		q.SignalNoise = amplitude / (std + 1e-6)
	}

	end := fall
	if end > n-1 {
		end = n - 1
	}
	if end > rise {
		slopes := make([]float64, 0, end-rise)
		for i := rise; i < end; i++ {
			slopes = append(slopes, slope(data, i, Central3))
		}
		mean := stat.Mean(slopes, nil)
		consistency := 1 - (floats.Max(slopes)-floats.Min(slopes))/(math.Abs(mean)+1e-6)
		q.TrendConsistency = math.Max(0, consistency)
	}

	components := [6]float64{
		math.Min(1, q.Amplitude/20),
		math.Min(1, float64(q.Width)/10),
		math.Max(0, 1-q.Symmetry),
		math.Min(1, q.Sharpness/2),
		math.Min(1, q.SignalNoise/5),
		q.TrendConsistency,
	}
	q.Score = math.Max(0, math.Min(1, floats.Dot(components[:], qualityWeights[:])))
	return q
}

// accept aplica os critérios finais de aceitação de um candidato
func accept(c candidate, n int) (bool, string) {
	switch {
	case c.quality.Score < minAcceptScore:
		return false, "pontuação de qualidade baixa"
	case c.quality.Amplitude < minAmplitude:
		return false, "amplitude pequena"
	case c.quality.Width < minPeakWidth:
		return false, "pico estreito"
	case c.quality.Width > n/3:
		return false, "pico largo"
	case n-c.fall-1 < settleFrames:
		return false, "descida ainda em andamento"
	}
	return true, ""
}

// classifyColor compara a média das amostras antes da subida com a média
// das amostras após a descida.
func classifyColor(data []float64, rise, fall int, differenceThreshold float64) (models.PeakColor, float64, float64) {
	n := len(data)

	before := clampInt(rise, settleFrames, maxColorSamples)
	beforeStart := rise - before
	if beforeStart < 0 {
		beforeStart = 0
	}
	beforeAvg := data[rise]
	if beforeStart < rise {
		beforeAvg = stat.Mean(data[beforeStart:rise], nil)
	}

	after := clampInt(n-fall-1, settleFrames, maxColorSamples)
	afterEnd := fall + after + 1
	if afterEnd > n {
		afterEnd = n
	}
	afterAvg := data[fall]
	if fall+1 < afterEnd {
		afterAvg = stat.Mean(data[fall+1:afterEnd], nil)
	}

	diff := afterAvg - beforeAvg
	if diff > differenceThreshold {
		return models.ColorGreen, math.Min(1, diff/(2*differenceThreshold)), diff
	}
	return models.ColorRed, math.Max(0, diff/differenceThreshold), diff
}

// clampInt retorna max(lo, min(hi, v))
func clampInt(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
