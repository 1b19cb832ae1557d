package detector

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	fallThresholdFactor = 0.9
	minCandidateQuality = 0.3
	maxCandidates       = 5
	consistencyEpsilon  = 1e-6
)

// candidate é um par subida/descida dentro da janela
type candidate struct {
	rise    int
	fall    int
	quality quality
}

// runScore pontua uma sequência de inclinações: contagem * média * consistência
func runScore(count int, slopes []float64, total float64) float64 {
	avg := total / float64(len(slopes))
	spread := floats.Max(slopes) - floats.Min(slopes)
	consistency := 1 - spread/(abs(avg)+consistencyEpsilon)
	return float64(count) * avg * consistency
}

// risingEdge retorna a posição de melhor pontuação onde começam pelo menos
// MinSlopeFrames amostras acima do limiar dinâmico com inclinação positiva.
func risingEdge(data []float64, cfg *Config, slopeThr float64) (int, bool) {
	msf := cfg.MinSlopeFrames
	n := len(data)
	if n < msf+2 {
		return 0, false
	}

	threshold := dynamicThreshold(data, noIndex, cfg)
	best, bestScore := -1, 0.0
	slopes := make([]float64, 0, msf)

	for i := 0; i < n-msf-1; i++ {
		if data[i] <= threshold {
			continue
		}

		slopes = slopes[:0]
		count, total := 0, 0.0
		for j := i; j < i+msf && j < n; j++ {
			s := combinedSlope(data, j)
			slopes = append(slopes, s)
			if s > slopeThr {
				count++
			}
			total += s
		}

		if count >= msf {
			if score := runScore(count, slopes, total); score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best, best >= 0
}

// fallingEdge busca, de trás para frente, a descida de melhor pontuação
// abaixo de 0.9x o limiar dinâmico local.
func fallingEdge(data []float64, cfg *Config, slopeThr float64) (int, bool) {
	msf := cfg.MinSlopeFrames
	n := len(data)
	if n < msf+2 {
		return 0, false
	}

	best, bestScore := -1, 0.0
	slopes := make([]float64, 0, msf)

	for i := n - 1; i > msf; i-- {
		if data[i] >= dynamicThreshold(data, i, cfg)*fallThresholdFactor {
			continue
		}

		slopes = slopes[:0]
		count, total := 0, 0.0
		for j := i; j > i-msf && j > 0; j-- {
			s := combinedSlope(data, j)
			slopes = append(slopes, s)
			if s < -slopeThr {
				count++
			}
			total += abs(s)
		}

		if count >= msf {
			if score := runScore(count, slopes, total); score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best, best >= 0
}

// completeWaveform combina as buscas de subida e descida e exige
// subida antes da descida com intervalo entre MinSlopeFrames e metade da janela.
func completeWaveform(data []float64, cfg *Config, slopeThr float64) (rise, fall int, ok bool) {
	rise, ok = risingEdge(data, cfg, slopeThr)
	if !ok {
		return 0, 0, false
	}
	fall, ok = fallingEdge(data, cfg, slopeThr)
	if !ok || rise >= fall {
		return 0, 0, false
	}

	interval := fall - rise
	if interval < cfg.MinSlopeFrames || interval > len(data)/2 {
		return 0, 0, false
	}
	return rise, fall, true
}

// risingInSegment retorna a primeira subida dentro do segmento, usando apenas a inclinação robusta
func risingInSegment(segment []float64, threshold, slopeThr float64, msf int) (int, bool) {
	for i := 0; i < len(segment)-msf; i++ {
		if segment[i] <= threshold {
			continue
		}
		count, total := 0, 0.0
		for j := i; j < i+msf && j < len(segment); j++ {
			s := robustSlope(segment, j)
			if s > slopeThr {
				count++
			}
			total += s
		}
		if count >= msf && total > 0 {
			return i, true
		}
	}
	return 0, false
}

// fallingInSegment retorna o fim da primeira descida após o início do
// segmento. Buscar a última descida juntaria picos vizinhos num só candidato.
func fallingInSegment(segment []float64, slopeThr float64, msf int) (int, bool) {
	descending := func(i int) bool {
		count, total := 0, 0.0
		for j := i; j > i-msf && j > 0; j-- {
			s := robustSlope(segment, j)
			if s < -slopeThr {
				count++
				total += abs(s)
			}
		}
		return count >= msf && total > 0
	}

	for i := msf + 1; i < len(segment); i++ {
		if !descending(i) {
			continue
		}
		for i+1 < len(segment) && descending(i+1) {
			i++
		}
		return i, true
	}
	return 0, false
}

// multiPeaks varre segmentos sobrepostos da janela em busca de vários pares
// subida/descida independentes.
func multiPeaks(data []float64, cfg *Config, slopeThr float64) []candidate {
	msf := cfg.MinSlopeFrames
	n := len(data)
	threshold := dynamicThreshold(data, noIndex, cfg)

	searchWindow := msf * 2
	step := searchWindow / 2
	if step < 1 {
		step = 1
	}

	var found []candidate
	var processed [][2]int

	for start := 0; start < n-searchWindow; start += step {
		end := start + searchWindow
		if end > n {
			end = n
		}
		if overlapsAny(start, end, processed) {
			continue
		}

		r, ok := risingInSegment(data[start:end], threshold, slopeThr, msf)
		if !ok {
			continue
		}
		rise := start + r

		f, ok := fallingInSegment(data[rise:], slopeThr, msf)
		if !ok {
			continue
		}
		fall := rise + f

		if fall-rise < msf {
			continue
		}
		q := peakQuality(data, rise, fall)
		if q.Score > minCandidateQuality {
			found = append(found, candidate{rise: rise, fall: fall, quality: q})
			processed = append(processed, [2]int{rise, fall})
		}
	}
	return found
}

func overlapsAny(start, end int, ranges [][2]int) bool {
	for _, r := range ranges {
		if !(end < r[0] || r[1] < start) {
			return true
		}
	}
	return false
}

// rankCandidates remove candidatos próximos demais (mantendo o de maior
// confiança), ordena por confiança e limita a quantidade.
func rankCandidates(cands []candidate, msf int) []candidate {
	if len(cands) > 1 {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].rise < cands[j].rise })
		dedup := []candidate{cands[0]}
		for _, c := range cands[1:] {
			last := &dedup[len(dedup)-1]
			if c.rise-last.fall < msf {
				if c.quality.Score > last.quality.Score {
					*last = c
				}
				continue
			}
			dedup = append(dedup, c)
		}
		cands = dedup
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].quality.Score > cands[j].quality.Score })
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	return cands
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
