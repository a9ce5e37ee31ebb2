package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
)

type stubLLM struct {
	reply string
	calls int
	last  string
}

func (s *stubLLM) Complete(_ context.Context, _, userMsg string, _ adapter.CompleteOptions) (string, error) {
	s.calls++
	s.last = userMsg
	return s.reply, nil
}

func TestNormalizeGroup(t *testing.T) {
	assert.Equal(t, GroupNET, NormalizeGroup("network"))
	assert.Equal(t, GroupFE, NormalizeGroup(" fe "))
	assert.Equal(t, GroupMobile, NormalizeGroup("Mobile"))
	assert.Equal(t, GroupNone, NormalizeGroup("None"))
	assert.Equal(t, GroupNone, NormalizeGroup("cooking"))
	assert.Equal(t, GroupNone, NormalizeGroup(""))
}

func TestClassify(t *testing.T) {
	llm := &stubLLM{reply: `{"Web_Frontend": "FE", "Networking": "NETWORK", "Invented": "AI"}`}
	c := NewClassifier(llm, zap.NewNop())

	got, err := c.Classify(context.Background(), []string{"Web_Frontend", "Networking", "Math"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Web_Frontend": "FE", "Networking": "NET", "Math": "None"}, got)
	assert.JSONEq(t, `{"domains": ["Web_Frontend", "Networking", "Math"]}`, llm.last)

	llm.reply = "not json"
	_, err = c.Classify(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestModuleSkills(t *testing.T) {
	meta := map[string]graph.ModuleMeta{
		"m1": {ModuleID: "m1", Competencies: []graph.Competency{{Domain: "Web"}, {Domain: "Web"}, {Domain: "Net"}}},
		"m2": {ModuleID: "m2", Competencies: []graph.Competency{{Domain: "Net"}, {Domain: "Web"}}},
		"m3": {ModuleID: "m3", Competencies: []graph.Competency{{Domain: "Unknown"}}},
		"m4": {ModuleID: "m4"},
	}
	got := ModuleSkills(meta, map[string]string{"Web": "FE", "Net": "NET"})
	assert.Equal(t, map[string]string{"m1": "FE", "m2": "FE"}, got)
}

func TestPercentages(t *testing.T) {
	modules := map[string]string{"module_44": "FE", "module_45": "FE", "module_46": "BE", "module_47": "None"}
	got := Percentages([]graph.MasteryEdge{
		{ModuleID: "module_44", Mastery: 0.8},
		{ModuleID: "module_45", Mastery: 0.555},
		{ModuleID: "module_46", Mastery: 1},
		{ModuleID: "module_99", Mastery: 1},
	}, modules)

	assert.Len(t, got, len(Groups))
	assert.Equal(t, 67.75, got["FE"])
	assert.Equal(t, 100.0, got["BE"])
	assert.Equal(t, 0.0, got["None"])
	assert.Equal(t, 0.0, got["AI"])
}

func TestMapper_Run(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertNodes(ctx, []graph.Node{
		{ID: "m1", Label: graph.LabelModule, Name: "Intro"},
		{ID: "html", Label: graph.LabelCompetency, Name: "HTML", Attrs: map[string]any{"domain": "Web_Frontend"}},
		{ID: "sql", Label: graph.LabelCompetency, Name: "SQL", Attrs: map[string]any{"domain": "Databases"}},
	}))
	_, err := store.UpsertEdges(ctx, []graph.Edge{
		{Source: "m1", SourceLabel: graph.LabelModule, Relation: graph.RelHasCompetency, Target: "html", TargetLabel: graph.LabelCompetency},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, SaveMapping(filepath.Join(dir, DomainMappingFile), map[string]string{"Web_Frontend": "FE"}))

	llm := &stubLLM{reply: `{"Databases": "DATA"}`}
	m := NewMapper(store, NewClassifier(llm, zap.NewNop()), dir, zap.NewNop())

	modules, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"m1": "FE"}, modules)
	assert.Equal(t, 1, llm.calls)
	assert.JSONEq(t, `{"domains": ["Databases"]}`, llm.last)

	domains, err := LoadMapping(filepath.Join(dir, DomainMappingFile))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Web_Frontend": "FE", "Databases": "DATA"}, domains)

	_, err = os.Stat(filepath.Join(dir, ModuleMappingFile))
	require.NoError(t, err)

	// everything cached now
	_, err = m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
}

func TestLoadMapping_Missing(t *testing.T) {
	got, err := LoadMapping(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
