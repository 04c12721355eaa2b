// Package search provides hybrid recall (keyword + vector) with reciprocal rank fusion.
package search

import "sort"

// DefaultRRFK is the rank offset k in 1/(k+rank).
const DefaultRRFK = 60

// FusedResult holds a chunk ID, its fused score and its rank in each input list (0 = absent).
type FusedResult struct {
	ID          string
	Score       float64
	KeywordRank int
	VectorRank  int
}

// MaxFusedScore is the highest raw RRF score a chunk can reach over two lists:
// first in both.
func MaxFusedScore(k int) float64 {
	return 2.0 / float64(k+1)
}

// FuseRRF merges ranked ID lists with reciprocal rank fusion. A chunk at 1-based
// rank r of a list contributes 1/(k+r); absent chunks contribute nothing.
// Scores are divided by MaxFusedScore(k) so a chunk first in both lists scores 1.0.
// Results are ordered by score descending; ties keep keyword order, then vector order.
func FuseRRF(keywordIDs, vectorIDs []string, k int) []*FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := make(map[string]*FusedResult, len(keywordIDs)+len(vectorIDs))
	ordered := make([]*FusedResult, 0, len(keywordIDs)+len(vectorIDs))
	add := func(id string, rank int, keyword bool) {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ID: id}
			byID[id] = r
			ordered = append(ordered, r)
		}
		// Only the best rank of a duplicated ID counts.
		if keyword && r.KeywordRank == 0 {
			r.KeywordRank = rank
			r.Score += 1.0 / float64(k+rank)
		}
		if !keyword && r.VectorRank == 0 {
			r.VectorRank = rank
			r.Score += 1.0 / float64(k+rank)
		}
	}
	for i, id := range keywordIDs {
		add(id, i+1, true)
	}
	for i, id := range vectorIDs {
		add(id, i+1, false)
	}

	norm := MaxFusedScore(k)
	for _, r := range ordered {
		r.Score /= norm
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })
	return ordered
}
