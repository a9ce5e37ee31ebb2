package recommend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edukg/backend/internal/graph"
)

// Options configure an Engine
type Options struct {
	TopK                   int
	Mode                   string
	PrereqMasteryThreshold float64
	MinDescriptionLength   int
	DescriptionMaxLength   int
	Workers                int
}

// Result pairs a student's candidate list with the merged decision
type Result struct {
	Candidates *CandidateList `json:"candidates"`
	Decision   Decision       `json:"decision"`
}

// Engine produces candidates and final decisions for one cycle
type Engine struct {
	store     graph.Store
	generator *Generator
	merger    *Merger
	opts      Options
	logger    *zap.Logger
}

// NewEngine wires a generator and merger over store
func NewEngine(store graph.Store, validator Validator, opts Options, logger *zap.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Mode == "" {
		opts.Mode = ModeBinary
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Engine{
		store:     store,
		generator: NewGenerator(store, opts.PrereqMasteryThreshold, logger),
		merger: NewMerger(validator, MergeOptions{
			MinDescriptionLength: opts.MinDescriptionLength,
			DescriptionMaxLength: opts.DescriptionMaxLength,
		}, logger),
		opts:   opts,
		logger: logger,
	}
}

// Recommend runs candidate generation and the configured merge for one
// student. k and mode override the engine defaults when set.
func (e *Engine) Recommend(ctx context.Context, studentID string, k int, mode string, cycleStart time.Time) (*Result, error) {
	if k <= 0 {
		k = e.opts.TopK
	}
	if mode == "" {
		mode = e.opts.Mode
	}

	list, err := e.generator.Generate(ctx, studentID, k, cycleStart)
	if err != nil {
		return nil, err
	}

	var d Decision
	switch mode {
	case ModeIntersection:
		lookup, err := e.generator.Lookup(ctx, studentID, k)
		if err != nil {
			return nil, err
		}
		d = e.merger.Intersection(studentID, list.Candidates, lookup)
	case ModeBinary:
		ids := make([]string, 0, len(list.Candidates))
		for _, c := range list.Candidates {
			ids = append(ids, c.ModuleID)
		}
		meta := map[string]graph.ModuleMeta{}
		if len(ids) > 0 {
			if meta, err = e.store.ModuleMeta(ctx, ids); err != nil {
				return nil, err
			}
		}
		d = e.merger.Binary(ctx, studentID, list.Candidates, meta)
	default:
		return nil, fmt.Errorf("unknown merge mode %q", mode)
	}
	d.Stale = list.Stale

	e.logger.Info("Recommendation resolved",
		zap.String("student_id", studentID),
		zap.String("mode", d.Mode),
		zap.String("module_id", d.ModuleID),
		zap.String("reason", d.Reason),
		zap.Int("candidates", len(list.Candidates)),
	)
	return &Result{Candidates: list, Decision: d}, nil
}

// RecommendAll runs Recommend for every student with bounded parallelism.
// Results keep the order of students.
func (e *Engine) RecommendAll(ctx context.Context, students []string, cycleStart time.Time) ([]*Result, error) {
	results := make([]*Result, len(students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, id := range students {
		i, id := i, id
		g.Go(func() error {
			res, err := e.Recommend(gctx, id, 0, "", cycleStart)
			if err != nil {
				return fmt.Errorf("recommend %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Export writes both export files for results
func Export(dir string, results []*Result) (candidatesPath, decisionsPath string, err error) {
	lists := make([]*CandidateList, 0, len(results))
	decisions := make([]Decision, 0, len(results))
	for _, r := range results {
		lists = append(lists, r.Candidates)
		decisions = append(decisions, r.Decision)
	}
	if candidatesPath, err = SaveCandidates(dir, lists); err != nil {
		return "", "", err
	}
	if decisionsPath, err = SaveDecisions(dir, decisions); err != nil {
		return "", "", err
	}
	return candidatesPath, decisionsPath, nil
}
