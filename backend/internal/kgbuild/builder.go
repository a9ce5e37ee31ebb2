package kgbuild

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"edukg/backend/internal/graph"
	"edukg/backend/internal/mastery"
	"edukg/backend/internal/textclean"
	apperrors "edukg/backend/pkg/errors"
)

// Builder walks the processed course tree
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a course tree builder
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

type courseMeta struct {
	Course  string   `json:"course"`
	Modules []string `json:"modules"`
}

type lessonFile struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type questionRecord struct {
	ID           mastery.ID `json:"id"`
	QuestionText string     `json:"question_text"`
	QuestionName string     `json:"question_name"`
}

// BuildCourses adds every course_* directory under coursesDir to g, in
// sorted order.
func (b *Builder) BuildCourses(g *Graph, coursesDir string) error {
	entries, err := os.ReadDir(coursesDir)
	if err != nil {
		return apperrors.NewMissingInput(coursesDir, err)
	}

	var courses []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "course_") {
			courses = append(courses, e.Name())
		}
	}
	sort.Strings(courses)
	if len(courses) == 0 {
		return apperrors.NewMissingInput(filepath.Join(coursesDir, "course_*"), nil)
	}

	for _, c := range courses {
		b.BuildCourse(g, filepath.Join(coursesDir, c))
	}
	return nil
}

// BuildCourse adds one course directory: the course, its modules, lessons,
// quizzes, questions and submissions.
func (b *Builder) BuildCourse(g *Graph, courseDir string) {
	courseID := filepath.Base(courseDir)
	var meta courseMeta
	if ok := readJSON(filepath.Join(courseDir, "meta_"+courseID+".json"), &meta); ok && meta.Course != "" {
		courseID = meta.Course
	}
	modules := meta.Modules
	if len(modules) == 0 {
		modules = listDirs(filepath.Join(courseDir, "modules"))
	}

	g.AddNode(courseID, graph.LabelCourse, courseID, nil)
	for _, mod := range modules {
		modDir := filepath.Join(courseDir, "modules", mod)
		if info, err := os.Stat(modDir); err != nil || !info.IsDir() {
			b.logger.Debug("Module listed but missing on disk", zap.String("course", courseID), zap.String("module", mod))
			continue
		}
		g.AddNode(mod, graph.LabelModule, mod, map[string]any{"course_id": courseID})
		g.Link(courseID, graph.LabelCourse, graph.RelIncludes, mod, graph.LabelModule)

		b.addLessons(g, mod, modDir)
		b.addQuizzes(g, mod, modDir)
		b.addSubmissions(g, courseID, mod, modDir)
	}

	b.logger.Info("Course built",
		zap.String("course", courseID),
		zap.Int("modules", len(modules)),
	)
}

func (b *Builder) addLessons(g *Graph, mod, modDir string) {
	paths, _ := filepath.Glob(filepath.Join(modDir, "lessons", "contents", "lesson_*.json"))
	sort.Strings(paths)
	for _, p := range paths {
		id := stem(p)
		var lf lessonFile
		readJSON(p, &lf)
		title := strings.TrimSpace(lf.Title)
		if title == "" {
			title = id
		}
		g.AddNode(id, graph.LabelLesson, title, nil)
		g.Link(mod, graph.LabelModule, graph.RelHasLesson, id, graph.LabelLesson)
	}
}

func (b *Builder) addQuizzes(g *Graph, mod, modDir string) {
	paths, _ := filepath.Glob(filepath.Join(modDir, "quizzes", "quiz_*.json"))
	sort.Strings(paths)
	for _, p := range paths {
		quizID := stem(p)
		g.AddNode(quizID, graph.LabelQuiz, quizID, nil)
		g.Link(mod, graph.LabelModule, graph.RelHasQuiz, quizID, graph.LabelQuiz)

		for _, q := range readQuestions(p) {
			if q.ID == "" {
				continue
			}
			qid := graph.QuestionNodeID(string(q.ID))
			name := textclean.Clean(q.QuestionText)
			if name == "" {
				name = qid
			}
			g.AddNode(qid, graph.LabelQuestion, name, nil)
			g.Link(quizID, graph.LabelQuiz, graph.RelHasQuestion, qid, graph.LabelQuestion)
		}
	}
}

func (b *Builder) addSubmissions(g *Graph, courseID, mod, modDir string) {
	paths, _ := filepath.Glob(filepath.Join(modDir, "quizzes", "submissions", "cleaned_quiz_*_submissions.json"))
	sort.Strings(paths)
	for _, p := range paths {
		quizNum, ok := mastery.QuizIDFromFilename(filepath.Base(p))
		if !ok {
			continue
		}
		subs, err := mastery.ReadSubmissionFile(mastery.SubmissionFile{Path: p, CourseID: courseID, ModuleID: mod, QuizID: quizNum})
		if err != nil {
			b.logger.Warn("Skipping submissions file", zap.String("path", p), zap.Error(err))
			continue
		}

		quizNode := graph.QuizNodeID(quizNum)
		for _, s := range subs {
			if s.UserID == "" {
				continue
			}
			student := graph.StudentNodeID(string(s.UserID))
			g.AddNode(student, graph.LabelStudent, student, nil)
			g.Link(student, graph.LabelStudent, graph.RelAttempted, quizNode, graph.LabelQuiz)

			edge := graph.Edge{
				Source: student, SourceLabel: graph.LabelStudent,
				Relation: graph.RelScoredOn,
				Target:   quizNode, TargetLabel: graph.LabelQuiz,
			}
			if s.Score.Valid {
				score := s.Score.Value
				edge.Score = &score
			}
			g.AddEdge(edge)
		}
	}
}

// readQuestions accepts a bare question list or an object wrapping one
func readQuestions(path string) []questionRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var list []questionRecord
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil
	}
	for _, key := range []string{"questions", "quiz_questions", "data"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
	}
	return nil
}

func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func listDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
