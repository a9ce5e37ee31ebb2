package competency

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/kgbuild"
)

type scriptedLLM struct {
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, _, userMsg string, _ adapter.CompleteOptions) (string, error) {
	s.prompts = append(s.prompts, userMsg)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "[]", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func writeLesson(t *testing.T, root, course, module, name, body string) {
	t.Helper()
	dir := filepath.Join(root, course, "modules", module, "lessons", "contents")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"title": "t", "body": `+body+`}`), 0o644))
}

func TestParse(t *testing.T) {
	rows, err := Parse(`Here you go:
[
  "Basic Loops",
  {"competency_id": " html_basics ", "name": "HTML", "description": "Structure", "domain": "Web_Frontend"},
  {"name": "CSS Grid-Layout"},
  {"description": "no id or name"},
  42
]
Thanks!`)
	require.NoError(t, err)
	assert.Equal(t, []kgbuild.CompetencyRow{
		{ID: "basic_loops", Name: "Basic Loops"},
		{ID: "html_basics", Name: "HTML", Description: "Structure", Domain: "Web_Frontend"},
		{ID: "css_grid_layout", Name: "CSS Grid-Layout"},
	}, rows)

	_, err = Parse("no array here")
	require.Error(t, err)
}

func TestExtractAll(t *testing.T) {
	root := t.TempDir()
	writeLesson(t, root, "course_4", "module_44", "lesson_1.json", `"<p>Loops <script>x()</script>repeat code</p>"`)
	writeLesson(t, root, "course_4", "module_44", "lesson_2.json", `"<p>More loops</p>"`)
	writeLesson(t, root, "course_4", "module_45", "lesson_3.json", `""`)
	writeLesson(t, root, "course_4", "module_45", "lesson_4.json", `"<p>Broken answer</p>"`)

	llm := &scriptedLLM{replies: []string{
		`[{"competency_id": "loops", "name": "Loops", "domain": "Programming"}]`,
		`["Loops", {"competency_id": "loops", "name": "Loops again"}]`,
		`sorry`,
	}}
	e := NewExtractor(llm, zap.NewNop())

	rows, rep, err := e.ExtractAll(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Report{Lessons: 4, Empty: 1, Failed: 1, Competencies: 1}, rep)
	require.Len(t, rows, 1)
	assert.Equal(t, kgbuild.CompetencyRow{CourseID: "course_4", ModuleID: "module_44", ID: "loops", Name: "Loops", Domain: "Programming"}, rows[0])

	require.Len(t, llm.prompts, 3)
	assert.Contains(t, llm.prompts[0], "Loops repeat code")
	assert.NotContains(t, llm.prompts[0], "x()")
}

func TestExtractAll_ServiceDown(t *testing.T) {
	root := t.TempDir()
	writeLesson(t, root, "course_4", "module_44", "lesson_1.json", `"<p>Loops</p>"`)

	e := NewExtractor(&scriptedLLM{err: errors.New("connection refused")}, zap.NewNop())
	rows, rep, err := e.ExtractAll(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 1, rep.Failed)
}

func TestFindLessons_MissingRoot(t *testing.T) {
	_, err := FindLessons(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestWriteCSV_ReadBack(t *testing.T) {
	rows := []kgbuild.CompetencyRow{{CourseID: "course_4", ModuleID: "module_44", ID: "loops", Name: "Loops, basic", Description: "Repeat", Domain: "Programming"}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "course_id,module_id,competency_id,name,description,domain\n"))

	back, err := kgbuild.ReadCompetencies(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}
