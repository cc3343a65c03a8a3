package corpus

import "math"

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MMR greedily picks up to k candidate indexes, scoring each remaining
// candidate as lambda*sim(query) - (1-lambda)*max sim(selected). The first
// pick is the candidate closest to the query. Ties go to the lower index.
func MMR(query []float32, candidates [][]float32, k int, lambda float64) []int {
	k = min(k, len(candidates))
	if k <= 0 {
		return nil
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = cosine(query, c)
	}
	// redundancy[i] is the max similarity of i to the selected set.
	redundancy := make([]float64, len(candidates))
	for i := range redundancy {
		redundancy[i] = math.Inf(-1)
	}
	selected := make([]int, 0, k)
	taken := make([]bool, len(candidates))

	best := 0
	for i := 1; i < len(relevance); i++ {
		if relevance[i] > relevance[best] {
			best = i
		}
	}
	for {
		selected = append(selected, best)
		taken[best] = true
		if len(selected) == k {
			return selected
		}
		for i, c := range candidates {
			if taken[i] {
				continue
			}
			if s := cosine(candidates[best], c); s > redundancy[i] {
				redundancy[i] = s
			}
		}
		best = -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy[i]
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
	}
}
