package mastery

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "edukg/backend/pkg/errors"
)

// Number is a JSON value that may arrive as a number, a numeric string, or
// null. Valid is false for null, missing, or non-numeric values.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts numbers and numeric strings; anything else decodes
// as an invalid Number rather than failing the whole record.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && finite(v) {
			*n = Number{Value: v, Valid: true}
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*n = Number{Value: v, Valid: true}
	}
	return nil
}

// finite rejects the NaN and Inf spellings ParseFloat accepts
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ID is an identifier that upstream exports write either as a number or as
// a string. Integral numbers are rendered without a fractional part.
type ID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*id = ID(strconv.FormatFloat(v, 'f', -1, 64))
	return nil
}

// Submission is one quiz-submission record. Course, module and quiz come
// from the file path; the rest from the record itself.
type Submission struct {
	UserID         ID     `json:"user_id"`
	QuizID         string `json:"-"`
	CourseID       string `json:"-"`
	ModuleID       string `json:"-"`
	Score          Number `json:"score"`
	PointsPossible Number `json:"quiz_points_possible"`
	Attempt        Number `json:"attempt"`
	WorkflowState  string `json:"workflow_state"`
}

// SubmissionFile is a submissions export located in the course tree.
type SubmissionFile struct {
	Path     string
	CourseID string
	ModuleID string
	QuizID   string
}

// LoadReport summarizes a submissions load
type LoadReport struct {
	Files        int `json:"files"`
	SkippedFiles int `json:"skipped_files"`
	Records      int `json:"records"`
}

const (
	submissionPrefix = "cleaned_quiz_"
	submissionSuffix = "_submissions"
)

// FindSubmissionFiles walks coursesDir for
// <course>/modules/<module>/quizzes/submissions/cleaned_quiz_<quiz>_submissions.json
// and returns the matches in path order.
func FindSubmissionFiles(coursesDir string) ([]SubmissionFile, error) {
	if _, err := os.Stat(coursesDir); err != nil {
		return nil, apperrors.NewMissingInput(coursesDir, err)
	}

	pattern := filepath.Join(coursesDir, "*", "modules", "*", "quizzes", "submissions", submissionPrefix+"*"+submissionSuffix+".json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	files := make([]SubmissionFile, 0, len(paths))
	for _, p := range paths {
		quizID, ok := QuizIDFromFilename(filepath.Base(p))
		if !ok {
			continue
		}
		moduleDir := filepath.Dir(filepath.Dir(filepath.Dir(p)))
		courseDir := filepath.Dir(filepath.Dir(moduleDir))
		files = append(files, SubmissionFile{
			Path:     p,
			CourseID: filepath.Base(courseDir),
			ModuleID: filepath.Base(moduleDir),
			QuizID:   quizID,
		})
	}
	return files, nil
}

// QuizIDFromFilename extracts <quiz> from cleaned_quiz_<quiz>_submissions.json
func QuizIDFromFilename(name string) (string, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(stem, submissionPrefix) || !strings.HasSuffix(stem, submissionSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(stem, submissionPrefix), submissionSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// ReadSubmissionFile decodes one submissions export. A file that is not a
// JSON array is an input defect.
func ReadSubmissionFile(f SubmissionFile) ([]Submission, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, apperrors.NewInputDefect(f.Path, "unreadable", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewInputDefect(f.Path, "not a JSON array", err)
	}

	subs := make([]Submission, 0, len(raw))
	for _, item := range raw {
		var s Submission
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		s.CourseID = f.CourseID
		s.ModuleID = f.ModuleID
		s.QuizID = f.QuizID
		subs = append(subs, s)
	}
	return subs, nil
}

// LoadSubmissions reads every submissions export under coursesDir. Unusable
// files are logged and skipped.
func LoadSubmissions(coursesDir string, log *zap.Logger) ([]Submission, LoadReport, error) {
	var report LoadReport

	files, err := FindSubmissionFiles(coursesDir)
	if err != nil {
		return nil, report, err
	}

	var all []Submission
	for _, f := range files {
		report.Files++
		subs, err := ReadSubmissionFile(f)
		if err != nil {
			report.SkippedFiles++
			log.Warn("Skipping submissions file", zap.String("path", f.Path), zap.Error(err))
			continue
		}
		report.Records += len(subs)
		all = append(all, subs...)
	}
	return all, report, nil
}
