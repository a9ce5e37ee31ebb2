package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edukg/backend/internal/constants"
	"edukg/backend/internal/graph"
	"edukg/backend/internal/kgbuild"
	"edukg/backend/internal/mastery"
	"edukg/backend/internal/recommend"
	"edukg/backend/pkg/config"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// fixtureConfig lays out one course with three modules; module_3 requires
// module_2 and both students only have mastery on module_1.
func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProcessedDir = filepath.Join(root, "processed")
	cfg.TriplesDir = filepath.Join(root, "triples")
	cfg.ExportDir = filepath.Join(root, "exports")
	cfg.DataDir = filepath.Join(root, "data")
	cfg.ModuleEmbeddingsFile = filepath.Join(root, "module_embeddings.json")
	cfg.MergeMode = config.MergeIntersection
	cfg.Workers = 2

	course := filepath.Join(cfg.CoursesDir(), "course_4")
	writeFile(t, filepath.Join(course, "meta_course_4.json"), `{"course": "course_4", "modules": ["module_1", "module_2", "module_3"]}`)
	for _, m := range []string{"module_1", "module_2", "module_3"} {
		writeFile(t, filepath.Join(course, "modules", m, "lessons", "contents", "lesson_"+m+".json"), `{"title": "Lesson of `+m+`", "body": "<p>text</p>"}`)
	}
	m1 := filepath.Join(course, "modules", "module_1")
	writeFile(t, filepath.Join(m1, "quizzes", "quiz_10.json"), `[{"id": 1, "question_text": "Q1"}]`)
	writeFile(t, filepath.Join(m1, "quizzes", "submissions", "cleaned_quiz_10_submissions.json"),
		`[{"user_id": 39, "score": 8, "quiz_points_possible": 10, "workflow_state": "complete"},
		  {"user_id": 40, "score": "3", "quiz_points_possible": 10, "workflow_state": "Complete"}]`)

	writeFile(t, filepath.Join(cfg.ProcessedDir, kgbuild.PrerequisitesFile), "module,prereq\nmodule_3,module_2\n")
	writeFile(t, filepath.Join(cfg.DataDir, kgbuild.CompetenciesFile),
		"course_id,module_id,competency_id,name,description,domain\n"+
			"course_4,module_2,loops,Loops,Repeating work with for and while loops,Programming\n")
	writeFile(t, cfg.ModuleEmbeddingsFile, `{"module_1": [1, 0], "module_2": [0.8, 0.6], "module_3": [0.9, 0.1]}`)
	return cfg
}

type failingValidator struct{ calls int }

func (f *failingValidator) Validate(context.Context, recommend.ValidationRequest) ([]recommend.Verdict, error) {
	f.calls++
	return nil, errors.New("service unavailable")
}

func TestRun_FullCycle(t *testing.T) {
	cfg := fixtureConfig(t)
	store := graph.NewMemoryStore()
	p := New(cfg, store, zap.NewNop())

	var seen []string
	report, err := p.Run(context.Background(), func(stage string, _ int) { seen = append(seen, stage) })
	require.NoError(t, err)
	require.NoError(t, report.Validate())
	assert.Equal(t, append(append([]string{}, constants.PipelineStages...), constants.ProgressDone), seen)
	assert.Len(t, report.Stages, len(constants.PipelineStages))

	embed, ok := report.Stage(constants.StageEmbedModules)
	require.True(t, ok)
	assert.False(t, embed.Skipped)

	rows, _, err := mastery.LoadModuleCSV(filepath.Join(cfg.ProcessedDir, mastery.ModuleFile))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0.3, rows[1].Mastery)

	vec, err := store.StudentEmbedding(context.Background(), "user_39")
	require.NoError(t, err)
	require.NotNil(t, vec)
	assert.Equal(t, report.CycleID, vec.CycleID)

	d, err := recommend.LoadDecision(cfg.ExportDir, "user_40")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "module_2", d.ModuleID)
	assert.Equal(t, recommend.ModeIntersection, d.Mode)

	data, err := os.ReadFile(filepath.Join(cfg.ExportDir, recommend.CandidatesFile))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "module_3")

	for _, name := range []string{kgbuild.NodesFile, kgbuild.EdgesFile, kgbuild.TriplesFile} {
		_, err := os.Stat(filepath.Join(cfg.TriplesDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRecommend_BinaryFallbackOnValidatorError(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.MergeMode = config.MergeBinary
	v := &failingValidator{}
	p := New(cfg, graph.NewMemoryStore(), zap.NewNop(), WithValidator(v))

	c := p.NewCycle()
	_, err := p.Mastery(context.Background())
	require.NoError(t, err)
	_, err = p.Import(context.Background(), c)
	require.NoError(t, err)
	_, skipped, err := p.EmbedModules(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, skipped)
	_, err = p.Aggregate(context.Background(), c)
	require.NoError(t, err)

	res, err := p.Recommend(context.Background(), "user_39", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "module_2", res.Decision.ModuleID)
	assert.Equal(t, recommend.ReasonSimilarityFallback, res.Decision.Reason)
	assert.False(t, res.Decision.Stale)
	assert.Equal(t, 1, v.calls)

	data, err := os.ReadFile(filepath.Join(cfg.ExportDir, recommend.DecisionsFile))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "user_39,module_2,"))
}

func TestEmbedModules_SkippedWithoutSource(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.ModuleEmbeddingsFile = ""
	p := New(cfg, graph.NewMemoryStore(), zap.NewNop())

	n, skipped, err := p.EmbedModules(context.Background(), p.NewCycle())
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, 0, n)
}

func TestExtractCompetencies_RequiresModel(t *testing.T) {
	p := New(fixtureConfig(t), graph.NewMemoryStore(), zap.NewNop())
	_, err := p.ExtractCompetencies(context.Background())
	require.Error(t, err)
}
