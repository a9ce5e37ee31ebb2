// Package embedding computes student competency vectors as the
// mastery-weighted centroid of the modules they have mastered.
package embedding

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"edukg/backend/internal/graph"
	apperrors "edukg/backend/pkg/errors"
)

// Weighted is one module vector with its mastery weight
type Weighted struct {
	ModuleID string
	Vector   []float64
	Weight   float64
}

// Centroid returns Σ wᵢ·vᵢ / Σ wᵢ over items with a positive finite weight
// and a non-empty vector. It returns nil when nothing contributes, and a
// dimension error when the contributing vectors differ in length.
func Centroid(subject string, items []Weighted) ([]float64, error) {
	var sum []float64
	var wsum float64
	for _, it := range items {
		if !(it.Weight > 0) || math.IsInf(it.Weight, 0) || len(it.Vector) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(it.Vector))
		} else if len(it.Vector) != len(sum) {
			return nil, apperrors.NewDimensionMismatch(subject, len(sum), len(it.Vector))
		}
		for i, x := range it.Vector {
			sum[i] += it.Weight * x
		}
		wsum += it.Weight
	}
	if sum == nil || wsum <= 0 {
		return nil, nil
	}
	for i := range sum {
		sum[i] /= wsum
	}
	return sum, nil
}

// Report summarizes an aggregation run
type Report struct {
	CycleID    string    `json:"cycle_id"`
	ComputedAt time.Time `json:"computed_at"`
	Students   int       `json:"students"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Invalid    int       `json:"invalid"`
}

// Aggregator recomputes every student embedding from the store
type Aggregator struct {
	store  graph.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator over store
func NewAggregator(store graph.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// Run recomputes all student embeddings and replaces them in one write.
// Students without contributors or with a dimension defect end the run
// with no embedding.
func (a *Aggregator) Run(ctx context.Context, cycleID string) (Report, error) {
	report := Report{CycleID: cycleID}

	modules, err := a.store.ModuleEmbeddings(ctx)
	if err != nil {
		return report, err
	}
	edges, err := a.store.MasteryEdges(ctx)
	if err != nil {
		return report, err
	}
	students, err := a.store.Students(ctx)
	if err != nil {
		return report, err
	}
	report.Students = len(students)

	byStudent := make(map[string][]Weighted)
	for _, e := range edges {
		vec, ok := modules[e.ModuleID]
		if !ok {
			continue
		}
		byStudent[e.StudentID] = append(byStudent[e.StudentID], Weighted{ModuleID: e.ModuleID, Vector: vec, Weight: e.Mastery})
	}

	vectors := make(map[string][]float64, len(byStudent))
	for _, sid := range students {
		centroid, err := Centroid(sid, byStudent[sid])
		if err != nil {
			report.Invalid++
			a.logger.Warn("Student embedding abandoned", zap.String("student_id", sid), zap.Error(err))
			continue
		}
		if centroid == nil {
			report.Skipped++
			continue
		}
		vectors[sid] = centroid
	}

	report.ComputedAt = a.now().UTC()
	if err := a.store.ReplaceStudentEmbeddings(ctx, vectors, report.ComputedAt, cycleID); err != nil {
		return report, err
	}
	report.Updated = len(vectors)

	a.logger.Info("Student embeddings aggregated",
		zap.String("cycle", cycleID),
		zap.Int("students", report.Students),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("invalid", report.Invalid),
	)
	return report, nil
}
