// Package recommend ranks modules for a student and resolves the final
// recommendation from two independent signals.
package recommend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"edukg/backend/internal/graph"
)

// CandidateList is the output of one candidate generation
type CandidateList struct {
	StudentID  string      `json:"student_id"`
	Candidates []Candidate `json:"candidates"`
	// Stale is set when the student embedding predates the current cycle
	Stale      bool      `json:"stale,omitempty"`
	ComputedAt time.Time `json:"computed_at,omitempty"`
}

// Generator is the prerequisite-aware similarity recommender. Module
// embeddings, titles and prerequisite closures are read once and cached,
// so a Generator serves one cycle.
type Generator struct {
	store     graph.Store
	threshold float64
	logger    *zap.Logger

	once    sync.Once
	loadErr error
	modules map[string][]float64
	titles  map[string]string

	mu      sync.Mutex
	closure map[string][]string
}

// NewGenerator creates a generator. A prerequisite counts as mastered when
// the student's mastery on it is at least threshold.
func NewGenerator(store graph.Store, threshold float64, logger *zap.Logger) *Generator {
	return &Generator{
		store:     store,
		threshold: threshold,
		logger:    logger,
		closure:   make(map[string][]string),
	}
}

func (g *Generator) load(ctx context.Context) error {
	g.once.Do(func() {
		g.modules, g.loadErr = g.store.ModuleEmbeddings(ctx)
		if g.loadErr != nil {
			return
		}
		meta, err := g.store.ModuleMeta(ctx, nil)
		if err != nil {
			g.loadErr = err
			return
		}
		g.titles = make(map[string]string, len(meta))
		for id, m := range meta {
			g.titles[id] = m.Name
		}
	})
	return g.loadErr
}

func (g *Generator) prerequisites(ctx context.Context, moduleID string) ([]string, error) {
	g.mu.Lock()
	cached, ok := g.closure[moduleID]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	ids, err := g.store.PrerequisitesOf(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.closure[moduleID] = ids
	g.mu.Unlock()
	return ids, nil
}

// ModuleVectors returns the cached module embeddings
func (g *Generator) ModuleVectors(ctx context.Context) (map[string][]float64, error) {
	if err := g.load(ctx); err != nil {
		return nil, err
	}
	return g.modules, nil
}

// Title returns a module's display name, or its id
func (g *Generator) Title(moduleID string) string {
	if t := g.titles[moduleID]; t != "" {
		return t
	}
	return moduleID
}

// Generate returns up to k unseen, prerequisite-satisfied modules ranked by
// cosine similarity. A student without an embedding gets an empty list.
// cycleStart marks the current cycle; an embedding computed before it is
// reported as stale.
func (g *Generator) Generate(ctx context.Context, studentID string, k int, cycleStart time.Time) (*CandidateList, error) {
	out := &CandidateList{StudentID: studentID, Candidates: []Candidate{}}

	vec, err := g.store.StudentEmbedding(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		g.logger.Debug("No student embedding", zap.String("student_id", studentID))
		return out, nil
	}
	out.ComputedAt = vec.ComputedAt
	if !cycleStart.IsZero() && vec.ComputedAt.Before(cycleStart) {
		out.Stale = true
		g.logger.Warn("Student embedding is stale",
			zap.String("student_id", studentID),
			zap.Time("computed_at", vec.ComputedAt),
			zap.Time("cycle_start", cycleStart),
		)
	}

	if err := g.load(ctx); err != nil {
		return nil, err
	}
	edges, err := g.store.StudentMastery(ctx, studentID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]float64, len(edges))
	for _, e := range edges {
		seen[e.ModuleID] = e.Mastery
	}

	var cands []Candidate
	for moduleID, mvec := range g.modules {
		if _, done := seen[moduleID]; done {
			continue
		}
		sim, ok := Cosine(vec.Embedding, mvec)
		if !ok {
			g.logger.Debug("Module skipped (dimension)", zap.String("module_id", moduleID))
			continue
		}
		satisfied, err := g.prerequisitesMet(ctx, moduleID, seen)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			continue
		}
		cands = append(cands, Candidate{ModuleID: moduleID, Title: g.Title(moduleID), Similarity: sim})
	}
	out.Candidates = append(out.Candidates, rank(cands, k)...)
	return out, nil
}

func (g *Generator) prerequisitesMet(ctx context.Context, moduleID string, mastery map[string]float64) (bool, error) {
	prereqs, err := g.prerequisites(ctx, moduleID)
	if err != nil {
		return false, err
	}
	for _, p := range prereqs {
		m, ok := mastery[p]
		if !ok || m < g.threshold {
			return false, nil
		}
	}
	return true, nil
}

// Lookup is the unfiltered similarity shortlist: cosine between the student
// and every module embedding, top k. It is the second signal of the
// intersection merge.
func (g *Generator) Lookup(ctx context.Context, studentID string, k int) ([]Candidate, error) {
	vec, err := g.store.StudentEmbedding(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return []Candidate{}, nil
	}
	if err := g.load(ctx); err != nil {
		return nil, err
	}

	var cands []Candidate
	for moduleID, mvec := range g.modules {
		sim, ok := Cosine(vec.Embedding, mvec)
		if !ok {
			continue
		}
		cands = append(cands, Candidate{ModuleID: moduleID, Title: g.Title(moduleID), Similarity: sim})
	}
	return append([]Candidate{}, rank(cands, k)...), nil
}
