package recommend

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length or are empty; a zero-norm vector scores 0.
func Cosine(a, b []float64) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// Candidate is a module ranked for a student
type Candidate struct {
	ModuleID   string  `json:"module_id"`
	Title      string  `json:"module_title"`
	Similarity float64 `json:"similarity"`
}

// rank orders candidates by similarity desc then module id asc and keeps
// the top k.
func rank(cands []Candidate, k int) []Candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Similarity != cands[j].Similarity {
			return cands[i].Similarity > cands[j].Similarity
		}
		return cands[i].ModuleID < cands[j].ModuleID
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
