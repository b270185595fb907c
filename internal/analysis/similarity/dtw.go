package similarity

import "math"

// DTW returns the dynamic time warping distance between a and b restricted to
// a Sakoe-Chiba band of the given half-width. The result is the root of the
// mean squared cost along the optimal path, so it is comparable to rmse.
func DTW(a, b []float64, band int) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return 0
	}
	if diff := n - m; diff > band {
		band = diff
	} else if -diff > band {
		band = -diff
	}

	inf := math.Inf(1)
	prevCost := make([]float64, m+1)
	curCost := make([]float64, m+1)
	prevLen := make([]int, m+1)
	curLen := make([]int, m+1)
	for j := range prevCost {
		prevCost[j] = inf
	}
	prevCost[0] = 0

	for i := 1; i <= n; i++ {
		for j := range curCost {
			curCost[j] = inf
			curLen[j] = 0
		}
		lo := i - band
		if lo < 1 {
			lo = 1
		}
		hi := i + band
		if hi > m {
			hi = m
		}
		for j := lo; j <= hi; j++ {
			d := a[i-1] - b[j-1]
			bestCost, bestLen := prevCost[j-1], prevLen[j-1]
			if prevCost[j] < bestCost {
				bestCost, bestLen = prevCost[j], prevLen[j]
			}
			if curCost[j-1] < bestCost {
				bestCost, bestLen = curCost[j-1], curLen[j-1]
			}
			curCost[j] = bestCost + d*d
			curLen[j] = bestLen + 1
		}
		prevCost, curCost = curCost, prevCost
		prevLen, curLen = curLen, prevLen
	}

	if math.IsInf(prevCost[m], 1) || prevLen[m] == 0 {
		return 0
	}
	return math.Sqrt(prevCost[m] / float64(prevLen[m]))
}
