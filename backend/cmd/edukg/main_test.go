package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edukg/backend/internal/mastery"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// setupTree points every data directory at a temp tree holding one course
// with a single graded quiz and returns the processed directory.
func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MERGE_MODE", "intersection")
	t.Setenv("KG_PROCESSED_DIR", processed)
	t.Setenv("KG_OUT_DIR", filepath.Join(root, "triples"))
	t.Setenv("EXPORT_DIR", filepath.Join(root, "exports"))
	t.Setenv("DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("MODULE_EMBEDDINGS_FILE", filepath.Join(root, "module_embeddings.json"))
	t.Setenv("LOG_LEVEL", "error")

	course := filepath.Join(processed, "courses", "course_4")
	writeFile(t, filepath.Join(course, "meta_course_4.json"), `{"course": "course_4", "modules": ["module_1"]}`)
	writeFile(t, filepath.Join(course, "modules", "module_1", "quizzes", "submissions", "cleaned_quiz_10_submissions.json"),
		`[{"user_id": 39, "score": 8, "quiz_points_possible": 10, "workflow_state": "complete"},
		  {"user_id": 40, "score": "NaN", "quiz_points_possible": 10, "workflow_state": "complete"}]`)
	return processed
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	return &out, cmd.Execute()
}

func TestMasteryCommand(t *testing.T) {
	processed := setupTree(t)

	out, err := execute(t, "mastery")
	require.NoError(t, err)

	var summary struct {
		Files      int    `json:"files"`
		QuizRows   int    `json:"quiz_rows"`
		ModuleRows int    `json:"module_rows"`
		Dropped    int    `json:"dropped"`
		ModulePath string `json:"module_path"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 1, summary.QuizRows)
	assert.Equal(t, 1, summary.ModuleRows)
	assert.Equal(t, 1, summary.Dropped)

	rows, _, err := mastery.LoadModuleCSV(filepath.Join(processed, mastery.ModuleFile))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.8, rows[0].Mastery)
}

func TestRootCommand_RejectsUnknownStore(t *testing.T) {
	setupTree(t)

	out, err := execute(t, "--store", "sqlite", "mastery")
	require.Error(t, err)
	assert.Empty(t, out.String())
}
