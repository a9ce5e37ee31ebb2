package kgbuild

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"edukg/backend/internal/graph"
	"edukg/backend/internal/mastery"
	"edukg/backend/pkg/config"
)

// Inputs locates everything one build reads. Only CoursesDir is required.
type Inputs struct {
	CoursesDir       string
	SemanticTriples  string
	Prerequisites    string
	Competencies     string
	MasteryTable     string
	SemanticMinScore float64
}

// InputsFromConfig resolves the build inputs from configuration
func InputsFromConfig(cfg *config.Config) Inputs {
	return Inputs{
		CoursesDir:       cfg.CoursesDir(),
		SemanticTriples:  filepath.Join(cfg.TriplesDir, SemanticTriplesFile),
		Prerequisites:    filepath.Join(cfg.ProcessedDir, PrerequisitesFile),
		Competencies:     filepath.Join(cfg.DataDir, CompetenciesFile),
		MasteryTable:     filepath.Join(cfg.ProcessedDir, mastery.ModuleFile),
		SemanticMinScore: cfg.SemanticMinScore,
	}
}

// BuildReport summarizes one build
type BuildReport struct {
	Summary
	SemanticTriples int                    `json:"semantic_triples"`
	Prerequisites   int                    `json:"prerequisites"`
	Competencies    int                    `json:"competencies"`
	MasteryEdges    int                    `json:"mastery_edges"`
	DroppedBy       map[graph.Relation]int `json:"dropped_by_relation"`
}

// Build assembles the full working set: course tree, prerequisites,
// competencies, mastery table and semantic triples.
func (b *Builder) Build(in Inputs) (*Graph, BuildReport, error) {
	var report BuildReport
	g := NewGraph()

	if err := b.BuildCourses(g, in.CoursesDir); err != nil {
		return nil, report, err
	}

	var err error
	if report.Prerequisites, err = AddPrerequisites(g, in.Prerequisites); err != nil {
		b.logger.Warn("Prerequisites not loaded", zap.String("path", in.Prerequisites), zap.Error(err))
	}
	if report.Competencies, err = AddCompetencyFile(g, in.Competencies); err != nil {
		b.logger.Warn("Competencies not loaded", zap.String("path", in.Competencies), zap.Error(err))
	}
	if in.MasteryTable != "" {
		rows, skipped, err := mastery.LoadModuleCSV(in.MasteryTable)
		if err != nil {
			b.logger.Warn("Mastery table not loaded", zap.String("path", in.MasteryTable), zap.Error(err))
		} else {
			report.MasteryEdges = AddMastery(g, rows)
			if skipped > 0 {
				b.logger.Warn("Mastery rows skipped", zap.Int("skipped", skipped))
			}
		}
	}
	if report.SemanticTriples, err = AddSemanticTriples(g, in.SemanticTriples, in.SemanticMinScore); err != nil {
		b.logger.Warn("Semantic triples not loaded", zap.String("path", in.SemanticTriples), zap.Error(err))
	}

	report.Summary = g.Summary()
	report.DroppedBy = g.Dropped()
	for rel, n := range report.DroppedBy {
		b.logger.Warn("Edges dropped (missing endpoint)", zap.String("relation", string(rel)), zap.Int("count", n))
	}
	b.logger.Info("Graph built",
		zap.Int("nodes", report.Nodes),
		zap.Int("edges", report.Edges),
		zap.Int("triples", report.Triples),
		zap.Int("semantic_triples", report.SemanticTriples),
	)
	return g, report, nil
}

// ImportReport summarizes a store import
type ImportReport struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Merged     int `json:"merged"`
	Skipped    int `json:"skipped"`
	Identities int `json:"identities"`
}

// Import upserts the working set into the store, nodes first
func Import(ctx context.Context, store graph.Store, g *Graph, logger *zap.Logger) (ImportReport, error) {
	nodes := g.Nodes()
	edges := g.Edges()
	report := ImportReport{Nodes: len(nodes), Edges: len(edges)}

	if err := store.UpsertNodes(ctx, nodes); err != nil {
		return report, err
	}
	merged, err := store.UpsertEdges(ctx, edges)
	if err != nil {
		return report, err
	}
	report.Merged = merged
	report.Skipped = len(edges) - merged

	logger.Info("Graph imported",
		zap.Int("nodes", report.Nodes),
		zap.Int("edges", report.Edges),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// LinkIdentities imports an LTI user export onto Student nodes. A missing
// export is not an error.
func LinkIdentities(ctx context.Context, store graph.Store, path string, logger *zap.Logger) (int, error) {
	f, err := openOptional(path)
	if err != nil {
		return 0, err
	}
	if f == nil {
		logger.Debug("No identity export", zap.String("path", path))
		return 0, nil
	}
	defer f.Close()

	identities, err := ReadIdentities(f)
	if err != nil {
		return 0, err
	}
	for _, id := range identities {
		if err := store.LinkStudentIdentity(ctx, id); err != nil {
			return 0, err
		}
	}
	logger.Info("Student identities linked", zap.Int("count", len(identities)))
	return len(identities), nil
}
