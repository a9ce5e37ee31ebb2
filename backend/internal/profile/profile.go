// Package profile reports a student's progress through the graph.
package profile

import (
	"context"
	"sort"

	"edukg/backend/internal/graph"
	apperrors "edukg/backend/pkg/errors"
)

// Service answers per-student progress questions from the store
type Service struct {
	store     graph.Store
	threshold float64
}

// NewService creates a profile service. Completed modules with mastery
// below threshold are reported as insufficient.
func NewService(store graph.Store, threshold float64) *Service {
	return &Service{store: store, threshold: threshold}
}

// Exists reports whether the store knows the student
func (s *Service) Exists(ctx context.Context, studentID string) (bool, error) {
	ids, err := s.store.Students(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

// Modules returns completed, in-progress and not-started modules. An
// unknown student is an error.
func (s *Service) Modules(ctx context.Context, studentID string) (*graph.StudentModules, error) {
	ok, err := s.Exists(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewStudentNotFound(studentID)
	}
	return s.store.StudentModules(ctx, studentID)
}

// Insufficient returns the student's completed modules with mastery below
// the threshold, ordered by module id.
func (s *Service) Insufficient(ctx context.Context, studentID string) ([]graph.ModuleRef, error) {
	edges, err := s.store.StudentMastery(ctx, studentID)
	if err != nil {
		return nil, err
	}

	var weak []graph.MasteryEdge
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.Mastery < s.threshold {
			weak = append(weak, e)
			ids = append(ids, e.ModuleID)
		}
	}
	out := make([]graph.ModuleRef, 0, len(weak))
	if len(weak) == 0 {
		return out, nil
	}

	meta, err := s.store.ModuleMeta(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range weak {
		name := meta[e.ModuleID].Name
		if name == "" {
			name = e.ModuleID
		}
		out = append(out, graph.ModuleRef{ID: e.ModuleID, Name: name, Mastery: e.Mastery})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
