package mastery

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "edukg/backend/pkg/errors"
)

// Output file names
const (
	QuizFile   = "student_scores_by_quiz.csv"
	ModuleFile = "student_competency_by_module.csv"
)

var (
	quizHeader   = []string{"user_id", "quiz_id", "course_id", "module_id", "score", "quiz_points_possible", "quiz_mastery", "attempt"}
	moduleHeader = []string{"user_id", "course_id", "module_id", "total_score", "total_points", "quizzes", "module_mastery"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteQuizCSV writes the quiz-level table
func WriteQuizCSV(w io.Writer, rows []QuizRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(quizHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.StudentID, r.QuizID, r.CourseID, r.ModuleID,
			formatFloat(r.Score), formatFloat(r.PointsPossible), formatFloat(r.Mastery), r.Attempt,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteModuleCSV writes the module-level table
func WriteModuleCSV(w io.Writer, rows []ModuleRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(moduleHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.StudentID, r.CourseID, r.ModuleID,
			formatFloat(r.TotalScore), formatFloat(r.TotalPoints), strconv.Itoa(r.Quizzes), formatFloat(r.Mastery),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes both tables into dir and returns their paths.
func Save(dir string, res Result) (quizPath, modulePath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	quizPath = filepath.Join(dir, QuizFile)
	modulePath = filepath.Join(dir, ModuleFile)

	if err := writeFile(quizPath, func(w io.Writer) error { return WriteQuizCSV(w, res.Quizzes) }); err != nil {
		return "", "", err
	}
	if err := writeFile(modulePath, func(w io.Writer) error { return WriteModuleCSV(w, res.Modules) }); err != nil {
		return "", "", err
	}
	return quizPath, modulePath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadModuleCSV parses a module mastery table. Rows with an unparsable
// mastery are skipped and counted.
func ReadModuleCSV(r io.Reader) ([]ModuleRow, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []ModuleRow{}, 0, nil
	}
	if err != nil {
		return nil, 0, apperrors.NewInputDefect(ModuleFile, "unreadable header", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{"user_id", "module_id", "module_mastery"} {
		if _, ok := idx[col]; !ok {
			return nil, 0, apperrors.NewInputDefect(ModuleFile, "missing column "+col, nil)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := []ModuleRow{}
	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, skipped, apperrors.NewInputDefect(ModuleFile, "malformed row", err)
		}
		mastery, err := strconv.ParseFloat(get(rec, "module_mastery"), 64)
		if err != nil || get(rec, "user_id") == "" || get(rec, "module_id") == "" {
			skipped++
			continue
		}
		row := ModuleRow{
			StudentID: get(rec, "user_id"),
			CourseID:  get(rec, "course_id"),
			ModuleID:  get(rec, "module_id"),
			Mastery:   Clamp(mastery),
		}
		row.TotalScore, _ = strconv.ParseFloat(get(rec, "total_score"), 64)
		row.TotalPoints, _ = strconv.ParseFloat(get(rec, "total_points"), 64)
		row.Quizzes, _ = strconv.Atoi(get(rec, "quizzes"))
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// LoadModuleCSV reads a module mastery table from disk
func LoadModuleCSV(path string) ([]ModuleRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, apperrors.NewMissingInput(path, err)
	}
	defer f.Close()
	return ReadModuleCSV(f)
}
