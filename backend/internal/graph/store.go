package graph

import (
	"context"
	"time"
)

// Store is the persistent property graph as seen by the pipeline. Every write
// is keyed by natural identity (label + id for nodes, relation + endpoints for
// edges) and is last-writer-wins per property, so repeated or concurrent
// writers converge on the same state.
type Store interface {
	// UpsertNodes merges nodes by (label, id). An empty name, or a name equal
	// to the id, never replaces an existing name; attributes are merged.
	UpsertNodes(ctx context.Context, nodes []Node) error
	// UpsertEdges merges edges by (relation, source, target) and overwrites
	// their properties. Edges whose endpoints do not exist are skipped; the
	// number actually merged is returned.
	UpsertEdges(ctx context.Context, edges []Edge) (int, error)
	// LinkStudentIdentity creates or updates a Student with platform identity fields.
	LinkStudentIdentity(ctx context.Context, identity StudentIdentity) error

	// StudentEmbedding returns nil when the student is unknown or has no embedding.
	StudentEmbedding(ctx context.Context, studentID string) (*StudentVector, error)
	ModuleEmbeddings(ctx context.Context) (map[string][]float64, error)
	SetModuleEmbeddings(ctx context.Context, vectors map[string][]float64, model string) (int, error)
	// ReplaceStudentEmbeddings writes every given vector and removes the
	// embedding of every other student. All students are stamped with
	// computedAt and cycleID.
	ReplaceStudentEmbeddings(ctx context.Context, vectors map[string][]float64, computedAt time.Time, cycleID string) error

	MasteryEdges(ctx context.Context) ([]MasteryEdge, error)
	StudentMastery(ctx context.Context, studentID string) ([]MasteryEdge, error)
	// PrerequisitesOf returns the transitive prerequisite closure of a module,
	// sorted by id. Cycles terminate.
	PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error)

	Students(ctx context.Context) ([]string, error)
	// ModuleMeta returns metadata for the given modules, or for every module
	// when ids is empty.
	ModuleMeta(ctx context.Context, ids []string) (map[string]ModuleMeta, error)
	StudentModules(ctx context.Context, studentID string) (*StudentModules, error)
	CompetencyDomains(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
}
