package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same merge semantics as the
// Neo4j repository. It backs tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[NodeKey]*Node
	edges map[EdgeKey]*Edge
	order []EdgeKey
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeKey]*Node),
		edges: make(map[EdgeKey]*Edge),
	}
}

// UpsertNodes merges nodes by label and id
func (s *MemoryStore) UpsertNodes(_ context.Context, nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		s.mergeNode(n)
	}
	return nil
}

func (s *MemoryStore) mergeNode(n Node) *Node {
	key := n.Key()
	existing, ok := s.nodes[key]
	if !ok {
		existing = &Node{ID: n.ID, Label: n.Label, Name: n.ID, Attrs: map[string]any{}}
		s.nodes[key] = existing
	}
	if n.Name != "" && n.Name != n.ID {
		existing.Name = n.Name
	}
	for k, v := range n.Attrs {
		existing.Attrs[k] = v
	}
	return existing
}

// UpsertEdges merges edges whose endpoints exist
func (s *MemoryStore) UpsertEdges(_ context.Context, edges []Edge) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := 0
	for _, e := range edges {
		if _, ok := s.nodes[e.SourceKey()]; !ok {
			continue
		}
		if _, ok := s.nodes[e.TargetKey()]; !ok {
			continue
		}
		key := e.Key()
		existing, ok := s.edges[key]
		if !ok {
			existing = &Edge{
				Source: e.Source, SourceLabel: e.SourceLabel,
				Relation: e.Relation,
				Target:   e.Target, TargetLabel: e.TargetLabel,
				Props: map[string]any{},
			}
			s.edges[key] = existing
			s.order = append(s.order, key)
		}
		for k, v := range e.Properties() {
			if v == nil {
				delete(existing.Props, k)
				continue
			}
			existing.Props[k] = v
		}
		existing.Score = nil
		if sc, ok := existing.Props["score"].(float64); ok {
			score := sc
			existing.Score = &score
		}
		merged++
	}
	return merged, nil
}

// LinkStudentIdentity creates or updates a student with its LTI identity
func (s *MemoryStore) LinkStudentIdentity(_ context.Context, identity StudentIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.mergeNode(Node{ID: identity.ID, Label: LabelStudent, Name: identity.Name})
	if identity.Name != "" {
		n.Name = identity.Name
	}
	n.Attrs["lti_id"] = identity.LTIID
	return nil
}

// StudentEmbedding returns the student's embedding or nil
func (s *MemoryStore) StudentEmbedding(_ context.Context, studentID string) (*StudentVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[NodeKey{Label: LabelStudent, ID: studentID}]
	if !ok {
		return nil, nil
	}
	vec := toVector(n.Attrs["embedding"])
	if len(vec) == 0 {
		return nil, nil
	}
	out := &StudentVector{StudentID: studentID, Embedding: vec}
	if at, ok := n.Attrs["embedding_computed_at"].(string); ok {
		out.ComputedAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	out.CycleID, _ = n.Attrs["embedding_cycle"].(string)
	return out, nil
}

// ModuleEmbeddings returns every module embedding
func (s *MemoryStore) ModuleEmbeddings(_ context.Context) (map[string][]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]float64)
	for key, n := range s.nodes {
		if key.Label != LabelModule {
			continue
		}
		if vec := toVector(n.Attrs["embedding"]); len(vec) > 0 {
			out[key.ID] = vec
		}
	}
	return out, nil
}

// SetModuleEmbeddings writes embeddings onto existing modules
func (s *MemoryStore) SetModuleEmbeddings(_ context.Context, vectors map[string][]float64, model string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for id, vec := range vectors {
		n, ok := s.nodes[NodeKey{Label: LabelModule, ID: id}]
		if !ok {
			continue
		}
		n.Attrs["embedding"] = toVector(vec)
		n.Attrs["embedding_model"] = model
		updated++
	}
	return updated, nil
}

// ReplaceStudentEmbeddings performs the write-all embedding refresh
func (s *MemoryStore) ReplaceStudentEmbeddings(_ context.Context, vectors map[string][]float64, computedAt time.Time, cycleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := computedAt.UTC().Format(time.RFC3339Nano)
	for key, n := range s.nodes {
		if key.Label != LabelStudent {
			continue
		}
		if vec, ok := vectors[key.ID]; ok {
			n.Attrs["embedding"] = toVector(vec)
		} else {
			delete(n.Attrs, "embedding")
		}
		n.Attrs["embedding_computed_at"] = stamp
		n.Attrs["embedding_cycle"] = cycleID
	}
	return nil
}

// MasteryEdges returns every mastery_on edge sorted by student and module
func (s *MemoryStore) MasteryEdges(_ context.Context) ([]MasteryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masteryWhere(func(string) bool { return true }), nil
}

// StudentMastery returns the mastery_on edges of one student
func (s *MemoryStore) StudentMastery(_ context.Context, studentID string) ([]MasteryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masteryWhere(func(id string) bool { return id == studentID }), nil
}

func (s *MemoryStore) masteryWhere(match func(studentID string) bool) []MasteryEdge {
	out := []MasteryEdge{}
	for _, key := range s.order {
		e := s.edges[key]
		if e.Relation != RelMasteryOn || !match(e.Source) {
			continue
		}
		out = append(out, MasteryEdge{
			StudentID:   e.Source,
			ModuleID:    e.Target,
			Mastery:     toFloat64(e.Props["mastery"]),
			Quizzes:     int(toFloat64(e.Props["quizzes"])),
			TotalPoints: toFloat64(e.Props["total_points"]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].ModuleID < out[j].ModuleID
	})
	return out
}

// PrerequisitesOf returns the transitive REQUIRES closure of a module
func (s *MemoryStore) PrerequisitesOf(_ context.Context, moduleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	direct := make(map[string][]string)
	for _, key := range s.order {
		if key.Relation == RelRequires && key.SourceLabel == LabelModule && key.TargetLabel == LabelModule {
			direct[key.Source] = append(direct[key.Source], key.Target)
		}
	}
	return Closure(direct, moduleID), nil
}

// Closure walks a direct-prerequisite map breadth first and returns every
// module reachable from start, excluding start, sorted by id.
func Closure(direct map[string][]string, start string) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	out := []string{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range direct[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	sort.Strings(out)
	return out
}

// Students returns every student id
func (s *MemoryStore) Students(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsWithLabel(LabelStudent), nil
}

func (s *MemoryStore) idsWithLabel(label Label) []string {
	ids := []string{}
	for key := range s.nodes {
		if key.Label == label {
			ids = append(ids, key.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ModuleMeta returns module names and linked competencies
func (s *MemoryStore) ModuleMeta(_ context.Context, ids []string) (map[string]ModuleMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := ids
	if len(wanted) == 0 {
		wanted = s.idsWithLabel(LabelModule)
	}

	out := make(map[string]ModuleMeta, len(wanted))
	for _, id := range wanted {
		n, ok := s.nodes[NodeKey{Label: LabelModule, ID: id}]
		if !ok {
			continue
		}
		meta := ModuleMeta{ModuleID: id, Name: n.Name}
		for _, key := range s.order {
			if key.Relation != RelHasCompetency || key.Source != id || key.SourceLabel != LabelModule {
				continue
			}
			c, ok := s.nodes[s.edges[key].TargetKey()]
			if !ok {
				continue
			}
			meta.Competencies = append(meta.Competencies, Competency{
				ID:          c.ID,
				Name:        c.Name,
				Description: attrString(c.Attrs, "description"),
				Domain:      attrString(c.Attrs, "domain"),
			})
		}
		sort.Slice(meta.Competencies, func(i, j int) bool { return meta.Competencies[i].ID < meta.Competencies[j].ID })
		out[id] = meta
	}
	return out, nil
}

// StudentModules splits modules by a student's progress
func (s *MemoryStore) StudentModules(_ context.Context, studentID string) (*StudentModules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mastery := make(map[string]float64)
	attemptedQuizzes := make(map[string]bool)
	quizModule := make(map[string][]string)
	for _, key := range s.order {
		e := s.edges[key]
		switch {
		case e.Relation == RelMasteryOn && e.Source == studentID:
			mastery[e.Target] = toFloat64(e.Props["mastery"])
		case e.Relation == RelAttempted && e.Source == studentID:
			attemptedQuizzes[e.Target] = true
		case e.Relation == RelHasQuiz:
			quizModule[e.Target] = append(quizModule[e.Target], e.Source)
		}
	}
	inProgress := make(map[string]bool)
	for quiz := range attemptedQuizzes {
		for _, mod := range quizModule[quiz] {
			if _, done := mastery[mod]; !done {
				inProgress[mod] = true
			}
		}
	}

	out := &StudentModules{Completed: []ModuleRef{}, InProgress: []ModuleRef{}, NotStarted: []ModuleRef{}}
	for _, id := range s.idsWithLabel(LabelModule) {
		name := s.nodes[NodeKey{Label: LabelModule, ID: id}].Name
		switch {
		case hasKey(mastery, id):
			out.Completed = append(out.Completed, ModuleRef{ID: id, Name: name, Mastery: mastery[id]})
		case inProgress[id]:
			out.InProgress = append(out.InProgress, ModuleRef{ID: id, Name: name})
		default:
			out.NotStarted = append(out.NotStarted, ModuleRef{ID: id, Name: name})
		}
	}
	return out, nil
}

// CompetencyDomains returns the distinct trimmed competency domains
func (s *MemoryStore) CompetencyDomains(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	out := []string{}
	for key, n := range s.nodes {
		if key.Label != LabelCompetency {
			continue
		}
		d := strings.TrimSpace(attrString(n.Attrs, "domain"))
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stats counts nodes and edges
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Nodes: int64(len(s.nodes)), Relationships: int64(len(s.edges))}, nil
}

// Node returns a copy of a stored node, for inspection.
func (s *MemoryStore) Node(label Label, id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[NodeKey{Label: label, ID: id}]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Attrs = make(map[string]any, len(n.Attrs))
	for k, v := range n.Attrs {
		cp.Attrs[k] = v
	}
	return cp, true
}

// Edges returns copies of every stored edge in insertion order.
func (s *MemoryStore) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Edge, 0, len(s.order))
	for _, key := range s.order {
		e := *s.edges[key]
		e.Props = make(map[string]any, len(s.edges[key].Props))
		for k, v := range s.edges[key].Props {
			e.Props[k] = v
		}
		out = append(out, e)
	}
	return out
}

func attrString(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func hasKey[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}
