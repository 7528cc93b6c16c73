package utils

import "math"

// MaxMarginalRelevance picks up to k indices from candidates, greedily
// maximising lambda*sim(query, c) - (1-lambda)*max(sim(c, selected)).
// The first pick is always the most query-similar candidate. Candidates whose
// dimension does not match the query are skipped.
func MaxMarginalRelevance(query []float32, candidates [][]float32, k int, lambda float64) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	relevance := make([]float64, len(candidates))
	usable := make([]bool, len(candidates))
	remaining := 0
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c)
		if err != nil {
			continue
		}
		relevance[i] = sim
		usable[i] = true
		remaining++
	}
	if k > remaining {
		k = remaining
	}

	selected := make([]int, 0, k)
	// redundancy[i] is the highest similarity between candidate i and
	// anything already selected; -1 is the cosine lower bound.
	redundancy := make([]float64, len(candidates))
	for i := range redundancy {
		redundancy[i] = -1
	}

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if !usable[i] {
				continue
			}
			penalty := redundancy[i]
			if len(selected) == 0 {
				penalty = 0
			}
			score := lambda*relevance[i] - (1-lambda)*penalty
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		usable[best] = false

		for i, c := range candidates {
			if !usable[i] {
				continue
			}
			sim, err := CosineSimilarity(candidates[best], c)
			if err != nil {
				continue
			}
			if sim > redundancy[i] {
				redundancy[i] = sim
			}
		}
	}
	return selected
}
