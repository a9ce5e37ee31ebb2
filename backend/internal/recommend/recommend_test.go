package recommend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
	apperrors "edukg/backend/pkg/errors"
)

var computedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func module(id, name string) graph.Node {
	return graph.Node{ID: id, Label: graph.LabelModule, Name: name}
}

func requires(module, prereq string) graph.Edge {
	return graph.Edge{Source: module, SourceLabel: graph.LabelModule, Relation: graph.RelRequires, Target: prereq, TargetLabel: graph.LabelModule}
}

func hasCompetency(module, comp string) graph.Edge {
	return graph.Edge{Source: module, SourceLabel: graph.LabelModule, Relation: graph.RelHasCompetency, Target: comp, TargetLabel: graph.LabelCompetency}
}

// seedStore builds:
//
//	m1 mastered by user_1
//	m2 REQUIRES m1      -> eligible
//	m3 REQUIRES m4      -> blocked, m4 not mastered
//	m4                  -> eligible
//	m5 without embedding
func seedStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := graph.NewMemoryStore()
	require.NoError(t, s.UpsertNodes(ctx, []graph.Node{
		{ID: "user_1", Label: graph.LabelStudent, Name: "user_1"},
		{ID: "user_2", Label: graph.LabelStudent, Name: "user_2"},
		module("m1", "Intro"), module("m2", "Loops"), module("m3", "Recursion"),
		module("m4", "Networks"), module("m5", "Drafts"),
		{ID: "loops", Label: graph.LabelCompetency, Name: "Loops", Attrs: map[string]any{
			"description": "Write for and while loops over collections", "domain": "Programming",
		}},
		{ID: "routing", Label: graph.LabelCompetency, Name: "Routing", Attrs: map[string]any{
			"description": "Explain how packets are routed",
		}},
	}))
	_, err := s.UpsertEdges(ctx, []graph.Edge{
		{Source: "user_1", SourceLabel: graph.LabelStudent, Relation: graph.RelMasteryOn, Target: "m1", TargetLabel: graph.LabelModule, Props: graph.MasteryProps(0.8, 1, 10)},
		requires("m2", "m1"),
		requires("m3", "m4"),
		hasCompetency("m2", "loops"),
		hasCompetency("m4", "routing"),
	})
	require.NoError(t, err)

	_, err = s.SetModuleEmbeddings(ctx, map[string][]float64{
		"m1": {1, 0},
		"m2": {0.9, 0.1},
		"m3": {1, 0.05},
		"m4": {0, 1},
	}, "test")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceStudentEmbeddings(ctx, map[string][]float64{"user_1": {1, 0}}, computedAt, "cycle-1"))
	return s
}

type fakeValidator struct {
	verdicts []Verdict
	err      error
	calls    int
	last     ValidationRequest
}

func (f *fakeValidator) Validate(_ context.Context, req ValidationRequest) ([]Verdict, error) {
	f.calls++
	f.last = req
	return f.verdicts, f.err
}

type fakeCompleter struct {
	reply string
	err   error
	block bool
	calls int32
}

func (f *fakeCompleter) Complete(ctx context.Context, _, _ string, _ adapter.CompleteOptions) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func gatedMeta(ids ...string) map[string]graph.ModuleMeta {
	out := make(map[string]graph.ModuleMeta, len(ids))
	for _, id := range ids {
		out[id] = graph.ModuleMeta{ModuleID: id, Competencies: []graph.Competency{
			{ID: id + "_c", Domain: "Programming", Description: "A sufficiently long description"},
		}}
	}
	return out
}

func TestCosine(t *testing.T) {
	sim, ok := Cosine([]float64{1, 0}, []float64{1, 0})
	assert.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, ok = Cosine([]float64{0, 0}, []float64{1, 0})
	assert.True(t, ok)
	assert.Equal(t, 0.0, sim)

	_, ok = Cosine([]float64{1, 0}, []float64{1, 0, 0})
	assert.False(t, ok)
}

func TestGenerate_PrerequisitesAndSeen(t *testing.T) {
	s := seedStore(t)
	g := NewGenerator(s, 0, zap.NewNop())

	list, err := g.Generate(context.Background(), "user_1", 5, time.Time{})
	require.NoError(t, err)

	ids := make([]string, 0, len(list.Candidates))
	for _, c := range list.Candidates {
		ids = append(ids, c.ModuleID)
	}
	assert.Equal(t, []string{"m2", "m4"}, ids)
	assert.Equal(t, "Loops", list.Candidates[0].Title)
	assert.Greater(t, list.Candidates[0].Similarity, list.Candidates[1].Similarity)
	assert.False(t, list.Stale)
}

func TestGenerate_TopK(t *testing.T) {
	g := NewGenerator(seedStore(t), 0, zap.NewNop())
	list, err := g.Generate(context.Background(), "user_1", 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, "m2", list.Candidates[0].ModuleID)
}

func TestGenerate_MasteryThreshold(t *testing.T) {
	g := NewGenerator(seedStore(t), 0.9, zap.NewNop())
	list, err := g.Generate(context.Background(), "user_1", 5, time.Time{})
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, "m4", list.Candidates[0].ModuleID)
}

func TestGenerate_NoEmbedding(t *testing.T) {
	g := NewGenerator(seedStore(t), 0, zap.NewNop())
	list, err := g.Generate(context.Background(), "user_2", 5, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list.Candidates)
	assert.NotNil(t, list.Candidates)
}

func TestGenerate_Stale(t *testing.T) {
	g := NewGenerator(seedStore(t), 0, zap.NewNop())
	list, err := g.Generate(context.Background(), "user_1", 5, computedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, list.Stale)
	assert.Equal(t, computedAt, list.ComputedAt.UTC())
}

func TestLookup_Unfiltered(t *testing.T) {
	g := NewGenerator(seedStore(t), 0, zap.NewNop())
	got, err := g.Lookup(context.Background(), "user_1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ModuleID)
	assert.Equal(t, "m3", got[1].ModuleID)
}

func TestIntersection(t *testing.T) {
	m := NewMerger(nil, MergeOptions{}, zap.NewNop())
	a := []Candidate{{ModuleID: "m1", Similarity: 0.9}, {ModuleID: "m2", Similarity: 0.5}, {ModuleID: "m3", Similarity: 0.4}}
	b := []Candidate{{ModuleID: "m4", Similarity: 0.99}, {ModuleID: "m2", Similarity: 0.1}}

	d := m.Intersection("user_1", a, b)
	assert.Equal(t, "m2", d.ModuleID)
	assert.Equal(t, 0.5, d.Similarity)
	assert.Equal(t, ModeIntersection, d.Mode)

	d = m.Intersection("user_1", a, []Candidate{{ModuleID: "m9"}})
	assert.False(t, d.Found())
	assert.Equal(t, ReasonNoOverlap, d.Reason)
}

func TestBinary_AllUnsuitable(t *testing.T) {
	v := &fakeValidator{verdicts: []Verdict{
		{ModuleID: "m1", Suitable: false, Reason: "too advanced"},
		{ModuleID: "m2", Suitable: false, Reason: "off topic"},
		{ModuleID: "m3", Suitable: false, Reason: "duplicate"},
	}}
	m := NewMerger(v, MergeOptions{MinDescriptionLength: 20, DescriptionMaxLength: 300}, zap.NewNop())
	cands := []Candidate{{ModuleID: "m2", Similarity: 0.7}, {ModuleID: "m1", Similarity: 0.9}, {ModuleID: "m3", Similarity: 0.1}}

	d := m.Binary(context.Background(), "user_1", cands, gatedMeta("m1", "m2", "m3"))
	assert.Equal(t, "m1", d.ModuleID)
	assert.Equal(t, ReasonSimilarityFallback, d.Reason)
	assert.Equal(t, 1, v.calls)
	assert.Equal(t, []string{"m1", "m2", "m3"}, v.last.Candidates)
}

func TestBinary_SuitableWinner(t *testing.T) {
	v := &fakeValidator{verdicts: []Verdict{
		{ModuleID: "m1", Suitable: false, Reason: "too advanced"},
		{ModuleID: "m3", Suitable: true, Reason: "fills a gap"},
	}}
	m := NewMerger(v, MergeOptions{MinDescriptionLength: 20}, zap.NewNop())
	cands := []Candidate{{ModuleID: "m1", Similarity: 0.9}, {ModuleID: "m2", Similarity: 0.7}, {ModuleID: "m3", Similarity: 0.1}}

	d := m.Binary(context.Background(), "user_1", cands, gatedMeta("m1", "m2", "m3"))
	assert.Equal(t, "m3", d.ModuleID)
	assert.Equal(t, "fills a gap", d.Reason)
}

func TestBinary_RuleBasedFallback(t *testing.T) {
	v := &fakeValidator{}
	m := NewMerger(v, MergeOptions{MinDescriptionLength: 20}, zap.NewNop())
	cands := []Candidate{{ModuleID: "m1", Similarity: 0.3}, {ModuleID: "m2", Similarity: 0.6}}
	meta := map[string]graph.ModuleMeta{
		"m1": {ModuleID: "m1", Competencies: []graph.Competency{{ID: "c", Domain: "Web", Description: "short"}}},
		"m2": {ModuleID: "m2", Competencies: []graph.Competency{{ID: "c", Description: "long enough description here"}}},
	}

	d := m.Binary(context.Background(), "user_1", cands, meta)
	assert.Equal(t, "m2", d.ModuleID)
	assert.Equal(t, ReasonRuleFallback, d.Reason)
	assert.Equal(t, 0, v.calls)
}

func TestBinary_ValidatorError(t *testing.T) {
	v := &fakeValidator{err: apperrors.NewValidationFailed("boom", nil)}
	m := NewMerger(v, MergeOptions{MinDescriptionLength: 20}, zap.NewNop())
	cands := []Candidate{{ModuleID: "m1", Similarity: 0.2}, {ModuleID: "m2", Similarity: 0.8}}

	d := m.Binary(context.Background(), "user_1", cands, gatedMeta("m1", "m2"))
	assert.Equal(t, "m2", d.ModuleID)
	assert.Equal(t, ReasonSimilarityFallback, d.Reason)
}

func TestBinary_NoCandidates(t *testing.T) {
	m := NewMerger(&fakeValidator{}, MergeOptions{}, zap.NewNop())
	d := m.Binary(context.Background(), "user_1", nil, nil)
	assert.False(t, d.Found())
	assert.Equal(t, ReasonNoCandidates, d.Reason)
}

func TestVerdicts_NotAddressed(t *testing.T) {
	pool := []Candidate{{ModuleID: "m1"}, {ModuleID: "m2"}}
	got := Verdicts(pool, []Verdict{{ModuleID: "m2", Suitable: true, Reason: "ok"}})
	assert.Equal(t, []Verdict{
		{ModuleID: "m1", Suitable: false, Reason: ReasonNotAddressed},
		{ModuleID: "m2", Suitable: true, Reason: "ok"},
	}, got)
}

func TestParseVerdicts(t *testing.T) {
	got, err := ParseVerdicts("```json\n{\"results\": [{\"module_id\": \"m1\", \"suitable\": true, \"reason\": \"ok\"}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []Verdict{{ModuleID: "m1", Suitable: true, Reason: "ok"}}, got)

	_, err = ParseVerdicts(`{"verdicts": []}`)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeExternal))

	got, err = ParseVerdicts("```\n{\"results\": []}\n```")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, raw := range []string{
		"not json",
		`Here are my verdicts: {"results": [{"module_id": "m1", "suitable": true}]}`,
		`{"results": [{"module_id": "m1", "suitable": true}]} Hope this helps.`,
		"```json\n{\"results\": [\n```",
	} {
		_, err = ParseVerdicts(raw)
		assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeExternal), raw)
	}
}

func TestLLMValidator_MalformedFallsBack(t *testing.T) {
	llm := &fakeCompleter{reply: "I think module m1 is fine"}
	v := NewLLMValidator(llm, time.Second, zap.NewNop())
	m := NewMerger(v, MergeOptions{MinDescriptionLength: 20}, zap.NewNop())

	d := m.Binary(context.Background(), "user_1", []Candidate{{ModuleID: "m1", Similarity: 0.4}}, gatedMeta("m1"))
	assert.Equal(t, "m1", d.ModuleID)
	assert.Equal(t, ReasonSimilarityFallback, d.Reason)
}

func TestLLMValidator_Timeout(t *testing.T) {
	llm := &fakeCompleter{block: true}
	v := NewLLMValidator(llm, 10*time.Millisecond, zap.NewNop())

	_, err := v.Validate(context.Background(), ValidationRequest{StudentID: "user_1", Candidates: []string{"m1"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
}

func TestLLMValidator_BreakerOpens(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("connection refused")}
	v := NewLLMValidator(llm, time.Second, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := v.Validate(context.Background(), ValidationRequest{StudentID: "user_1"})
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&llm.calls))
}

func TestNewModuleInfo_TruncatesDescriptions(t *testing.T) {
	meta := graph.ModuleMeta{ModuleID: "m1", Competencies: []graph.Competency{{ID: "c1", Description: "abcdefghij"}}}
	info := NewModuleInfo(meta, 4)
	assert.Equal(t, []string{"abcd"}, info.Descriptions)
	assert.Equal(t, []string{"c1"}, info.CompetencyIDs)
	assert.Equal(t, []string{}, info.Domains)
}

func TestEngine_RecommendAll(t *testing.T) {
	s := seedStore(t)
	v := &fakeValidator{verdicts: []Verdict{{ModuleID: "m2", Suitable: true, Reason: "next step"}}}
	e := NewEngine(s, v, Options{TopK: 5, Mode: ModeBinary, MinDescriptionLength: 20, DescriptionMaxLength: 300, Workers: 2}, zap.NewNop())

	results, err := e.RecommendAll(context.Background(), []string{"user_1", "user_2"}, time.Time{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "user_1", results[0].Decision.StudentID)
	assert.Equal(t, "m2", results[0].Decision.ModuleID)
	assert.Equal(t, "next step", results[0].Decision.Reason)
	// m4 has no domain and is gated out
	assert.Equal(t, []string{"m2"}, v.last.Candidates)

	assert.Equal(t, "user_2", results[1].Decision.StudentID)
	assert.False(t, results[1].Decision.Found())
}

func TestEngine_IntersectionMode(t *testing.T) {
	e := NewEngine(seedStore(t), nil, Options{TopK: 2, Mode: ModeIntersection}, zap.NewNop())
	res, err := e.Recommend(context.Background(), "user_1", 0, "", time.Time{})
	require.NoError(t, err)
	// source A = {m2, m4}, source B = {m1, m3}
	assert.False(t, res.Decision.Found())
	assert.Equal(t, ReasonNoOverlap, res.Decision.Reason)

	res, err = e.Recommend(context.Background(), "user_1", 4, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "m2", res.Decision.ModuleID)
}

func TestEngine_UnknownMode(t *testing.T) {
	e := NewEngine(seedStore(t), nil, Options{}, zap.NewNop())
	_, err := e.Recommend(context.Background(), "user_1", 0, "vote", time.Time{})
	require.Error(t, err)
}
