package rank

import "sort"

// FuseRRF merges ranked lists with reciprocal rank fusion: each appearance at
// 1-based rank r contributes 1/(k+r) to the item's fused score. Raw scores
// from the input lists are ignored, only positions matter, so lists with
// incomparable score scales (BM25 vs cosine) fuse cleanly. A single input
// list passes through the same arithmetic and yields a valid ranking.
func FuseRRF(k int, limit int, lists ...[]Scored) []Scored {
	fused := make(map[string]*Scored)
	var order []string

	for _, list := range lists {
		for rankPos, item := range list {
			entry, ok := fused[item.Memory.ID]
			if !ok {
				entry = &Scored{Memory: item.Memory}
				fused[item.Memory.ID] = entry
				order = append(order, item.Memory.ID)
			}
			entry.Score += 1.0 / float64(k+rankPos+1)
		}
	}

	// First-seen order makes ties deterministic.
	result := make([]Scored, 0, len(order))
	for _, id := range order {
		result = append(result, *fused[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
