package skills

import (
	"context"
	"math"

	"edukg/backend/internal/graph"
)

// Percentages scores a student per group: the summed mastery of the
// student's modules in the group over the number of mapped modules in the
// group, as a percentage rounded to 2 decimals. Every group is present.
func Percentages(mastery []graph.MasteryEdge, modules map[string]string) map[string]float64 {
	totals := make(map[string]int, len(Groups))
	for _, g := range modules {
		totals[g]++
	}
	sums := make(map[string]float64, len(Groups))
	for _, e := range mastery {
		if g, ok := modules[e.ModuleID]; ok {
			sums[g] += e.Mastery
		}
	}

	out := make(map[string]float64, len(Groups))
	for _, g := range Groups {
		if totals[g] == 0 {
			out[g] = 0
			continue
		}
		out[g] = math.Round(sums[g]/float64(totals[g])*100*100) / 100
	}
	return out
}

// StudentPercentages reads the student's mastery from store and scores it
func StudentPercentages(ctx context.Context, store graph.Store, studentID string, modules map[string]string) (map[string]float64, error) {
	edges, err := store.StudentMastery(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return Percentages(edges, modules), nil
}
