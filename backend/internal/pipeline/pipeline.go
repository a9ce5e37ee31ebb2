// Package pipeline runs the stages of one recommendation cycle against a
// graph store.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/competency"
	"edukg/backend/internal/constants"
	"edukg/backend/internal/embedding"
	"edukg/backend/internal/graph"
	"edukg/backend/internal/kgbuild"
	"edukg/backend/internal/mastery"
	"edukg/backend/internal/recommend"
	"edukg/backend/internal/skills"
	"edukg/backend/internal/state"
	"edukg/backend/pkg/config"
	apperrors "edukg/backend/pkg/errors"
)

// Progress receives the stage about to run and the share of the cycle done
type Progress = func(stage string, percent int)

// Cycle is one logical run. Stages of a cycle share its id, start time and
// the graph working set once built.
type Cycle struct {
	ID    string
	Start time.Time
	graph *kgbuild.Graph
}

// Pipeline wires the stage packages to configuration and a store
type Pipeline struct {
	cfg       *config.Config
	store     graph.Store
	completer adapter.Completer
	embedder  adapter.Embedder
	validator recommend.Validator
	logger    *zap.Logger

	mu        sync.Mutex
	lastCycle *Cycle
	exportMu  sync.Mutex
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCompleter sets the chat model used for validation, competency
// extraction and domain classification.
func WithCompleter(c adapter.Completer) Option {
	return func(p *Pipeline) { p.completer = c }
}

// WithEmbedder sets the embeddings service for module vectors
func WithEmbedder(e adapter.Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithValidator replaces the chat-model validator of the binary merge
func WithValidator(v recommend.Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// New creates a pipeline
func New(cfg *config.Config, store graph.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.validator == nil && p.completer != nil {
		p.validator = recommend.NewLLMValidator(p.completer, cfg.ValidationTimeout, logger.Named("validator"))
	}
	return p
}

// NewCycle starts a cycle and makes it the current one
func (p *Pipeline) NewCycle() *Cycle {
	c := &Cycle{ID: uuid.New().String(), Start: time.Now().UTC()}
	p.mu.Lock()
	p.lastCycle = c
	p.mu.Unlock()
	return c
}

// CurrentCycle returns the latest cycle, or nil before the first one
func (p *Pipeline) CurrentCycle() *Cycle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCycle
}

// Run executes every stage of a cycle in order
func (p *Pipeline) Run(ctx context.Context, progress Progress) (*state.CycleReport, error) {
	cycle := p.NewCycle()
	report := &state.CycleReport{CycleID: cycle.ID, StartedAt: cycle.Start}
	p.logger.Info("Pipeline cycle started", zap.String("cycle", cycle.ID))

	stages := map[string]func(context.Context, *Cycle) (any, bool, error){
		constants.StageMastery: func(ctx context.Context, c *Cycle) (any, bool, error) {
			res, err := p.Mastery(ctx)
			return res, false, err
		},
		constants.StageBuild: func(ctx context.Context, c *Cycle) (any, bool, error) {
			res, err := p.Build(c)
			return res, false, err
		},
		constants.StageImport: func(ctx context.Context, c *Cycle) (any, bool, error) {
			res, err := p.Import(ctx, c)
			return res, false, err
		},
		constants.StageEmbedModules: func(ctx context.Context, c *Cycle) (any, bool, error) {
			n, skipped, err := p.EmbedModules(ctx, c)
			return map[string]int{"updated": n}, skipped, err
		},
		constants.StageAggregate: func(ctx context.Context, c *Cycle) (any, bool, error) {
			res, err := p.Aggregate(ctx, c)
			return res, false, err
		},
		constants.StageRecommend: func(ctx context.Context, c *Cycle) (any, bool, error) {
			res, err := p.RecommendAll(ctx, c)
			return res, false, err
		},
	}

	for i, name := range constants.PipelineStages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if progress != nil {
			progress(name, i*100/len(constants.PipelineStages))
		}
		started := time.Now()
		summary, skipped, err := stages[name](ctx, cycle)
		if err != nil {
			p.logger.Error("Pipeline stage failed", zap.String("stage", name), zap.String("cycle", cycle.ID), zap.Error(err))
			return report, fmt.Errorf("stage %s: %w", name, err)
		}
		report.Stages = append(report.Stages, state.StageResult{
			Stage:    name,
			Skipped:  skipped,
			Duration: time.Since(started),
			Summary:  summary,
		})
	}

	report.Finished = time.Now().UTC()
	if progress != nil {
		progress(constants.ProgressDone, constants.PercentCompleted)
	}
	p.logger.Info("Pipeline cycle finished",
		zap.String("cycle", cycle.ID),
		zap.Duration("duration", report.Finished.Sub(report.StartedAt)),
	)
	return report, nil
}

// MasterySummary reports the mastery stage
type MasterySummary struct {
	mastery.LoadReport
	QuizRows   int    `json:"quiz_rows"`
	ModuleRows int    `json:"module_rows"`
	Dropped    int    `json:"dropped"`
	ModulePath string `json:"module_path"`
}

// Mastery recomputes the quiz and module mastery tables
func (p *Pipeline) Mastery(ctx context.Context) (*MasterySummary, error) {
	subs, load, err := mastery.LoadSubmissions(p.cfg.CoursesDir(), p.logger)
	if err != nil {
		return nil, err
	}
	res := mastery.Compute(subs)
	_, modulePath, err := mastery.Save(p.cfg.ProcessedDir, res)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Mastery computed",
		zap.Int("submissions", len(subs)),
		zap.Int("quiz_rows", len(res.Quizzes)),
		zap.Int("module_rows", len(res.Modules)),
		zap.Int("dropped", res.Dropped),
	)
	return &MasterySummary{
		LoadReport: load,
		QuizRows:   len(res.Quizzes),
		ModuleRows: len(res.Modules),
		Dropped:    res.Dropped,
		ModulePath: modulePath,
	}, nil
}

// Build assembles the working set and writes the CSV artifacts
func (p *Pipeline) Build(c *Cycle) (*kgbuild.BuildReport, error) {
	g, report, err := kgbuild.NewBuilder(p.logger.Named("kgbuild")).Build(kgbuild.InputsFromConfig(p.cfg))
	if err != nil {
		return nil, err
	}
	if err := kgbuild.Save(p.cfg.TriplesDir, g); err != nil {
		return nil, err
	}
	c.graph = g
	return &report, nil
}

func (p *Pipeline) workingSet(c *Cycle) (*kgbuild.Graph, error) {
	if c.graph == nil {
		if _, err := p.Build(c); err != nil {
			return nil, err
		}
	}
	return c.graph, nil
}

// Import upserts the cycle's working set and links LTI identities
func (p *Pipeline) Import(ctx context.Context, c *Cycle) (*kgbuild.ImportReport, error) {
	g, err := p.workingSet(c)
	if err != nil {
		return nil, err
	}
	report, err := kgbuild.Import(ctx, p.store, g, p.logger)
	if err != nil {
		return nil, err
	}
	n, err := kgbuild.LinkIdentities(ctx, p.store, filepath.Join(p.cfg.TriplesDir, kgbuild.IdentitiesFile), p.logger)
	if err != nil {
		p.logger.Warn("Identities not linked", zap.Error(err))
	}
	report.Identities = n
	return &report, nil
}

// EmbedModules stores module vectors from the configured file or the
// embeddings service. It is skipped when neither is configured.
func (p *Pipeline) EmbedModules(ctx context.Context, c *Cycle) (int, bool, error) {
	embedder := embedding.NewModuleEmbedder(p.store, p.embedder, p.logger)

	if path := p.cfg.ModuleEmbeddingsFile; path != "" {
		vectors, err := embedding.LoadVectors(path)
		if err != nil {
			return 0, false, err
		}
		n, err := embedder.Apply(ctx, vectors, filepath.Base(path))
		return n, false, err
	}

	if p.embedder == nil || p.cfg.EmbeddingModel == "" {
		p.logger.Info("No module embedding source configured, keeping stored vectors")
		return 0, true, nil
	}
	g, err := p.workingSet(c)
	if err != nil {
		return 0, false, err
	}
	vectors, err := embedder.EmbedTexts(ctx, embedding.ModuleTexts(g.Nodes(), g.Edges()))
	if err != nil {
		return 0, false, err
	}
	n, err := embedder.Apply(ctx, vectors, p.cfg.EmbeddingModel)
	return n, false, err
}

// Aggregate recomputes every student embedding under the cycle id
func (p *Pipeline) Aggregate(ctx context.Context, c *Cycle) (*embedding.Report, error) {
	report, err := embedding.NewAggregator(p.store, p.logger).Run(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// RecommendSummary reports the recommend stage
type RecommendSummary struct {
	Students       int    `json:"students"`
	Recommended    int    `json:"recommended"`
	Stale          int    `json:"stale"`
	CandidatesPath string `json:"candidates_path"`
	DecisionsPath  string `json:"decisions_path"`
}

func (p *Pipeline) engine() *recommend.Engine {
	return recommend.NewEngine(p.store, p.validator, recommend.Options{
		TopK:                   p.cfg.TopK,
		Mode:                   p.cfg.MergeMode,
		PrereqMasteryThreshold: p.cfg.PrereqMasteryThreshold,
		MinDescriptionLength:   p.cfg.MinDescriptionLength,
		DescriptionMaxLength:   p.cfg.DescriptionMaxLength,
		Workers:                p.cfg.Workers,
	}, p.logger.Named("recommend"))
}

// RecommendAll produces and exports a decision for every student
func (p *Pipeline) RecommendAll(ctx context.Context, c *Cycle) (*RecommendSummary, error) {
	students, err := p.store.Students(ctx)
	if err != nil {
		return nil, err
	}
	results, err := p.engine().RecommendAll(ctx, students, c.Start)
	if err != nil {
		return nil, err
	}

	summary := &RecommendSummary{Students: len(students)}
	for _, r := range results {
		if r.Decision.Found() {
			summary.Recommended++
		}
		if r.Candidates.Stale {
			summary.Stale++
		}
	}

	p.exportMu.Lock()
	defer p.exportMu.Unlock()
	summary.CandidatesPath, summary.DecisionsPath, err = recommend.Export(p.cfg.ExportDir, results)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Recommend resolves one student's recommendation against the current
// cycle and records the decision in the export.
func (p *Pipeline) Recommend(ctx context.Context, studentID string, k int, mode string) (*recommend.Result, error) {
	var start time.Time
	if c := p.CurrentCycle(); c != nil {
		start = c.Start
	}
	res, err := p.engine().Recommend(ctx, studentID, k, mode, start)
	if err != nil {
		return nil, err
	}

	p.exportMu.Lock()
	defer p.exportMu.Unlock()
	if _, _, err := recommend.Export(p.cfg.ExportDir, []*recommend.Result{res}); err != nil {
		p.logger.Warn("Recommendation not exported", zap.String("student_id", studentID), zap.Error(err))
	}
	return res, nil
}

// ExtractCompetencies regenerates the competencies table from lesson bodies
func (p *Pipeline) ExtractCompetencies(ctx context.Context) (*competency.Report, error) {
	if p.completer == nil {
		return nil, apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	rows, report, err := competency.NewExtractor(p.completer, p.logger).ExtractAll(ctx, p.cfg.CoursesDir())
	if err != nil {
		return nil, err
	}
	if err := competency.Save(filepath.Join(p.cfg.DataDir, kgbuild.CompetenciesFile), rows); err != nil {
		return nil, err
	}
	return &report, nil
}

// MapSkills refreshes the domain and module skill mappings
func (p *Pipeline) MapSkills(ctx context.Context) (map[string]string, error) {
	var classifier *skills.Classifier
	if p.completer != nil {
		classifier = skills.NewClassifier(p.completer, p.logger)
	}
	return skills.NewMapper(p.store, classifier, p.cfg.DataDir, p.logger).Run(ctx)
}

// ModuleSkills reads the module skill mapping written by MapSkills
func (p *Pipeline) ModuleSkills() (map[string]string, error) {
	return skills.LoadMapping(filepath.Join(p.cfg.DataDir, skills.ModuleMappingFile))
}
