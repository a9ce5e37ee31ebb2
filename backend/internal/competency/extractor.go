// Package competency derives competency records for modules from lesson
// bodies with a chat model.
package competency

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/kgbuild"
	"edukg/backend/internal/textclean"
	apperrors "edukg/backend/pkg/errors"
)

// maxBody bounds the lesson text sent in one prompt
const maxBody = 6000

const systemPrompt = `You analyse the curriculum of an online course.
Read the lesson content and list the COMPETENCIES it teaches.

Return ONLY a JSON array:
[
  {
    "competency_id": "HTML_Basics",
    "name": "HTML basics",
    "description": "Understand the structure of an HTML document",
    "domain": "Web_Frontend"
  }
]`

// Lesson is one lesson body located under a module
type Lesson struct {
	CourseID string
	ModuleID string
	Path     string
	Body     string
}

// Report counts what an extraction run did
type Report struct {
	Lessons      int `json:"lessons"`
	Empty        int `json:"empty"`
	Failed       int `json:"failed"`
	Competencies int `json:"competencies"`
}

// FindLessons lists every lesson content file under coursesDir with its
// course and module ids taken from the path.
func FindLessons(coursesDir string) ([]Lesson, error) {
	if _, err := os.Stat(coursesDir); err != nil {
		return nil, apperrors.NewMissingInput(coursesDir, err)
	}
	paths, err := filepath.Glob(filepath.Join(coursesDir, "*", "modules", "*", "lessons", "contents", "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]Lesson, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(coursesDir, p)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		out = append(out, Lesson{CourseID: parts[0], ModuleID: parts[2], Path: p})
	}
	return out, nil
}

// ReadBody loads and cleans the HTML body of a lesson file
func ReadBody(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var lf struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(data, &lf); err != nil {
		return "", apperrors.NewInputDefect(path, "not a lesson object", err)
	}
	return textclean.Clean(lf.Body), nil
}

// Extractor asks a chat model for the competencies of each lesson
type Extractor struct {
	llm    adapter.Completer
	logger *zap.Logger
}

// NewExtractor creates an extractor
func NewExtractor(llm adapter.Completer, logger *zap.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// Extract returns the competencies of one lesson
func (e *Extractor) Extract(ctx context.Context, lesson Lesson) ([]kgbuild.CompetencyRow, error) {
	body := textclean.Truncate(lesson.Body, maxBody)
	prompt := fmt.Sprintf("Course: %s\nModule: %s\n\nLesson content:\n\n\"\"\"%s\"\"\"", lesson.CourseID, lesson.ModuleID, body)

	raw, err := e.llm.Complete(ctx, systemPrompt, prompt, adapter.CompleteOptions{Temperature: 0.2})
	if err != nil {
		return nil, err
	}
	items, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	rows := make([]kgbuild.CompetencyRow, 0, len(items))
	for _, it := range items {
		it.CourseID, it.ModuleID = lesson.CourseID, lesson.ModuleID
		rows = append(rows, it)
	}
	return rows, nil
}

// ExtractAll runs Extract over every lesson under coursesDir. Lessons that
// are empty or whose answer cannot be parsed are skipped and counted.
// Competencies repeated within a module are kept once.
func (e *Extractor) ExtractAll(ctx context.Context, coursesDir string) ([]kgbuild.CompetencyRow, Report, error) {
	var rep Report
	lessons, err := FindLessons(coursesDir)
	if err != nil {
		return nil, rep, err
	}

	seen := make(map[string]bool)
	var rows []kgbuild.CompetencyRow
	for i, lesson := range lessons {
		if err := ctx.Err(); err != nil {
			return nil, rep, err
		}
		rep.Lessons++
		body, err := ReadBody(lesson.Path)
		if err != nil {
			e.logger.Warn("Lesson skipped", zap.String("path", lesson.Path), zap.Error(err))
			rep.Failed++
			continue
		}
		if body == "" {
			rep.Empty++
			continue
		}
		lesson.Body = body

		e.logger.Info("Extracting competencies",
			zap.Int("lesson", i+1),
			zap.Int("total", len(lessons)),
			zap.String("course_id", lesson.CourseID),
			zap.String("module_id", lesson.ModuleID),
		)
		found, err := e.Extract(ctx, lesson)
		if err != nil {
			if apperrors.IsFatal(err) {
				return nil, rep, err
			}
			e.logger.Warn("Competency extraction failed", zap.String("path", lesson.Path), zap.Error(err))
			rep.Failed++
			continue
		}
		for _, row := range found {
			key := row.ModuleID + "\x00" + row.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, row)
		}
	}
	rep.Competencies = len(rows)
	return rows, rep, nil
}

// Parse decodes a model answer into competency rows. Surrounding text is
// tolerated; string items become a competency named by the string.
func Parse(raw string) ([]kgbuild.CompetencyRow, error) {
	body := strings.TrimSpace(raw)
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		start := strings.Index(body, "[")
		end := strings.LastIndex(body, "]")
		if start == -1 || end <= start {
			return nil, apperrors.NewInputDefect("competency answer", "no JSON array", err)
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &items); err != nil {
			return nil, apperrors.NewInputDefect("competency answer", "malformed JSON array", err)
		}
	}

	var out []kgbuild.CompetencyRow
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			name = strings.TrimSpace(name)
			if name != "" {
				out = append(out, kgbuild.CompetencyRow{ID: SnakeID(name), Name: name})
			}
			continue
		}
		var row kgbuild.CompetencyRow
		if err := json.Unmarshal(item, &row); err != nil {
			continue
		}
		row.ID = strings.TrimSpace(row.ID)
		row.Name = strings.TrimSpace(row.Name)
		row.Description = strings.TrimSpace(row.Description)
		row.Domain = strings.TrimSpace(row.Domain)
		if row.ID == "" {
			row.ID = SnakeID(row.Name)
		}
		if row.ID == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// SnakeID lowercases s and replaces spaces and dashes with underscores
func SnakeID(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
}

var header = []string{"course_id", "module_id", "competency_id", "name", "description", "domain"}

// WriteCSV writes rows in the layout read by the graph builder
func WriteCSV(w io.Writer, rows []kgbuild.CompetencyRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.CourseID, r.ModuleID, r.ID, r.Name, r.Description, r.Domain}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes rows to path
func Save(path string, rows []kgbuild.CompetencyRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
