package embeddings

import "sort"

// batch is a group of texts dispatched to the model server in one request.
// indices map each text back to its position in the caller's input.
type batch struct {
	indices []int
	texts   []string
}

// packBatches groups texts into batches that keep padding waste low. Inputs
// are sorted by length descending so the first text of a batch is its longest;
// the greedy walk then closes a batch as soon as the next addition would
// exceed maxBatch texts or push the padding waste ratio past maxWaste.
//
// For a candidate addition the waste ratio is
//
//	(maxLen*(size+1) - sumLens) / (maxLen*(size+1))
//
// where maxLen is the length of the batch's first (longest) text.
func packBatches(texts []string, maxBatch int, maxWaste float64) []batch {
	if len(texts) == 0 {
		return nil
	}
	order := make([]int, len(texts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(texts[order[a]]) > len(texts[order[b]])
	})

	var (
		out     []batch
		cur     batch
		maxLen  int
		sumLens int
	)
	flush := func() {
		if len(cur.texts) > 0 {
			out = append(out, cur)
			cur = batch{}
		}
	}
	for _, idx := range order {
		n := len(texts[idx])
		if len(cur.texts) == 0 {
			cur = batch{indices: []int{idx}, texts: []string{texts[idx]}}
			maxLen, sumLens = n, n
			continue
		}
		size := len(cur.texts)
		if size+1 > maxBatch {
			flush()
			cur = batch{indices: []int{idx}, texts: []string{texts[idx]}}
			maxLen, sumLens = n, n
			continue
		}
		denom := float64(maxLen * (size + 1))
		waste := (denom - float64(sumLens+n)) / denom
		if waste > maxWaste {
			flush()
			cur = batch{indices: []int{idx}, texts: []string{texts[idx]}}
			maxLen, sumLens = n, n
			continue
		}
		cur.indices = append(cur.indices, idx)
		cur.texts = append(cur.texts, texts[idx])
		sumLens += n
	}
	flush()
	return out
}

// wasteRatio reports the padding waste of a packed batch, for metrics.
func (b batch) wasteRatio() float64 {
	if len(b.texts) == 0 {
		return 0
	}
	maxLen := len(b.texts[0])
	sum := 0
	for _, t := range b.texts {
		sum += len(t)
	}
	denom := float64(maxLen * len(b.texts))
	if denom == 0 {
		return 0
	}
	return (denom - float64(sum)) / denom
}
