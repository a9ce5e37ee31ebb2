package embedding

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
	apperrors "edukg/backend/pkg/errors"
)

// embedBatch bounds the texts sent in one embeddings request
const embedBatch = 64

// ModuleTexts renders the text embedded for every module: its name, lesson
// titles, and the names and descriptions of its competencies.
func ModuleTexts(nodes []graph.Node, edges []graph.Edge) map[string]string {
	byKey := make(map[graph.NodeKey]graph.Node, len(nodes))
	for _, n := range nodes {
		byKey[n.Key()] = n
	}

	parts := make(map[string][]string)
	for _, n := range nodes {
		if n.Label == graph.LabelModule {
			parts[n.ID] = []string{n.Name}
		}
	}
	for _, e := range edges {
		if e.SourceLabel != graph.LabelModule {
			continue
		}
		if _, ok := parts[e.Source]; !ok {
			continue
		}
		target, ok := byKey[e.TargetKey()]
		if !ok {
			continue
		}
		switch e.Relation {
		case graph.RelHasLesson:
			parts[e.Source] = append(parts[e.Source], target.Name)
		case graph.RelHasCompetency:
			text := target.Name
			if desc, ok := target.Attrs["description"].(string); ok && desc != "" {
				text += ": " + desc
			}
			parts[e.Source] = append(parts[e.Source], text)
		}
	}

	out := make(map[string]string, len(parts))
	for id, p := range parts {
		out[id] = strings.Join(p, "\n")
	}
	return out
}

// LoadVectors reads a {module_id: [floats]} JSON file
func LoadVectors(path string) (map[string][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewMissingInput(path, err)
	}
	var out map[string][]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.NewInputDefect(path, "not a module embedding map", err)
	}
	return out, nil
}

// ConsistentVectors keeps the vectors sharing the dimension of the first
// non-empty vector in id order; the ids of rejected vectors are returned.
func ConsistentVectors(vectors map[string][]float64) (map[string][]float64, []string) {
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dim := 0
	kept := make(map[string][]float64, len(vectors))
	var rejected []string
	for _, id := range ids {
		vec := vectors[id]
		if len(vec) == 0 {
			rejected = append(rejected, id)
			continue
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			rejected = append(rejected, id)
			continue
		}
		kept[id] = vec
	}
	return kept, rejected
}

// ModuleEmbedder writes module embeddings into the store
type ModuleEmbedder struct {
	store    graph.Store
	embedder adapter.Embedder
	logger   *zap.Logger
}

// NewModuleEmbedder creates a module embedder; embedder may be nil when
// vectors only come from files.
func NewModuleEmbedder(store graph.Store, embedder adapter.Embedder, logger *zap.Logger) *ModuleEmbedder {
	return &ModuleEmbedder{store: store, embedder: embedder, logger: logger}
}

// EmbedTexts calls the embeddings service for every module text
func (m *ModuleEmbedder) EmbedTexts(ctx context.Context, texts map[string]string) (map[string][]float64, error) {
	if m.embedder == nil {
		return nil, apperrors.NewConfigMissingRequired("EMBEDDING_MODEL")
	}
	ids := make([]string, 0, len(texts))
	for id := range texts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string][]float64, len(ids))
	for start := 0; start < len(ids); start += embedBatch {
		end := start + embedBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, texts[id])
		}
		vecs, err := m.embedder.Embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, id := range ids[start:end] {
			out[id] = vecs[i]
		}
	}
	return out, nil
}

// Apply stores the consistent subset of vectors under model
func (m *ModuleEmbedder) Apply(ctx context.Context, vectors map[string][]float64, model string) (int, error) {
	kept, rejected := ConsistentVectors(vectors)
	for _, id := range rejected {
		m.logger.Warn("Module embedding rejected (dimension)", zap.String("module_id", id))
	}
	updated, err := m.store.SetModuleEmbeddings(ctx, kept, model)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Module embeddings stored",
		zap.Int("updated", updated),
		zap.Int("rejected", len(rejected)),
		zap.String("model", model),
	)
	return updated, nil
}
