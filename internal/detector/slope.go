package detector

import (
	"math"
	"sort"
)

// SlopeMethod seleciona o estimador de derivada discreta
type SlopeMethod int

const (
	Central3  SlopeMethod = iota // (f[i+1] - f[i-1]) / 2
	Central5                     // (-f[i+2] + 8f[i+1] - 8f[i-1] + f[i-2]) / 12
	Forward2                     // f[i+1] - f[i]
	Backward2                    // f[i] - f[i-1]
	Adaptive                     // escolhe o melhor estimador disponível para a posição
)

// Pesos da combinação de estimadores
const (
	robustWeight   = 0.5
	adaptiveWeight = 0.3
	smoothedWeight = 0.2
)

// slope estima a inclinação em data[i]. Posições fora do alcance do
// estimador retornam 0.
func slope(data []float64, i int, method SlopeMethod) float64 {
	n := len(data)
	if i < 0 || i >= n {
		return 0
	}

	if method == Adaptive {
		switch {
		case i >= 2 && i < n-2:
			method = Central5
		case i >= 1 && i < n-1:
			method = Central3
		case i < n-1:
			method = Forward2
		default:
			method = Backward2
		}
	}

	switch method {
	case Central5:
		if i < 2 || i >= n-2 {
			return slope(data, i, Central3)
		}
		return (-data[i+2] + 8*data[i+1] - 8*data[i-1] + data[i-2]) / 12
	case Forward2:
		if i >= n-1 {
			return 0
		}
		return data[i+1] - data[i]
	case Backward2:
		if i < 1 {
			return 0
		}
		return data[i] - data[i-1]
	default:
		if i < 1 || i >= n-1 {
			return 0
		}
		return (data[i+1] - data[i-1]) / 2
	}
}

// smoothedSlope faz a média ponderada das inclinações centrais vizinhas
// (excluindo a própria posição), com peso maior perto do centro.
func smoothedSlope(data []float64, i, width int) float64 {
	n := len(data)
	if i < 0 || i >= n {
		return 0
	}

	half := width / 2
	lo := i - half
	if lo < 0 {
		lo = 0
	}
	hi := i + half + 1
	if hi > n {
		hi = n
	}

	slopes := make([]float64, 0, hi-lo)
	for k := lo; k < hi; k++ {
		if k != i {
			slopes = append(slopes, slope(data, k, Central3))
		}
	}
	if len(slopes) == 0 {
		return 0
	}

	center := float64(len(slopes)) / 2
	var sum, total float64
	for k, s := range slopes {
		w := 1 - math.Abs(float64(k)-center)/(center+1)
		sum += s * w
		total += w
	}
	if total <= 0 {
		return 0
	}
	return sum / total
}

// robustSlope combina os estimadores disponíveis em torno da mediana,
// reduzindo o peso dos que se afastam dela.
func robustSlope(data []float64, i int) float64 {
	n := len(data)
	slopes := make([]float64, 0, 4)

	if i >= 1 && i < n-1 {
		slopes = append(slopes, slope(data, i, Central3))
	}
	if i >= 2 && i < n-2 {
		slopes = append(slopes, slope(data, i, Central5))
	}
	if i < n-1 {
		slopes = append(slopes, slope(data, i, Forward2))
	}
	if i >= 1 {
		slopes = append(slopes, slope(data, i, Backward2))
	}
	if len(slopes) == 0 {
		return 0
	}

	sort.Float64s(slopes)
	median := slopes[len(slopes)/2]

	var mad float64
	for _, s := range slopes {
		mad += math.Abs(s - median)
	}
	mad /= float64(len(slopes))

	var sum, total float64
	for _, s := range slopes {
		w := 1 / (1 + math.Abs(s-median)/(mad+1e-6))
		sum += s * w
		total += w
	}
	if total <= 0 {
		return median
	}
	return sum / total
}

// combinedSlope é a inclinação usada nas buscas de subida e descida
func combinedSlope(data []float64, i int) float64 {
	return robustWeight*robustSlope(data, i) +
		adaptiveWeight*slope(data, i, Adaptive) +
		smoothedWeight*smoothedSlope(data, i, 3)
}
