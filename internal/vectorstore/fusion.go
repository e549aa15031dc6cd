package vectorstore

import "sort"

// DefaultRRFK is the reciprocal-rank-fusion constant used when options do
// not override it.
const DefaultRRFK = 100

// FuseRRF merges a dense-ranked list and a sparse-ranked list by reciprocal
// rank fusion: score(d) = sum over lists of 1/(k + rank). Ranks are
// 1-based. Documents appearing in only one list contribute a single term.
// Ties in fused score break by dense rank, with dense-ranked documents
// ordering before sparse-only ones.
func FuseRRF(dense, sparse []SearchHit, k int) []SearchHit {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		doc       Document
		score     float64
		denseRank int
	}

	const unranked = int(^uint(0) >> 1)

	merged := make(map[string]*fused, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))

	for rank, hit := range dense {
		id := hit.Document.ID
		merged[id] = &fused{
			doc:       hit.Document,
			score:     1.0 / float64(k+rank+1),
			denseRank: rank + 1,
		}
		order = append(order, id)
	}

	for rank, hit := range sparse {
		id := hit.Document.ID
		if f, ok := merged[id]; ok {
			f.score += 1.0 / float64(k+rank+1)
			continue
		}
		merged[id] = &fused{
			doc:       hit.Document,
			score:     1.0 / float64(k+rank+1),
			denseRank: unranked,
		}
		order = append(order, id)
	}

	results := make([]SearchHit, 0, len(order))
	for _, id := range order {
		f := merged[id]
		results = append(results, SearchHit{Document: f.doc, Score: f.score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return merged[results[i].Document.ID].denseRank < merged[results[j].Document.ID].denseRank
	})

	return results
}
