package mastery

import (
	"sort"
	"strconv"
	"strings"
)

const completeState = "complete"

// QuizRow is one qualifying submission with its quiz-level mastery
type QuizRow struct {
	StudentID      string  `json:"user_id"`
	QuizID         string  `json:"quiz_id"`
	CourseID       string  `json:"course_id"`
	ModuleID       string  `json:"module_id"`
	Score          float64 `json:"score"`
	PointsPossible float64 `json:"quiz_points_possible"`
	Mastery        float64 `json:"quiz_mastery"`
	Attempt        string  `json:"attempt"`
}

// ModuleRow aggregates a student's qualifying submissions within a module
type ModuleRow struct {
	StudentID   string  `json:"user_id"`
	CourseID    string  `json:"course_id"`
	ModuleID    string  `json:"module_id"`
	TotalScore  float64 `json:"total_score"`
	TotalPoints float64 `json:"total_points"`
	Quizzes     int     `json:"quizzes"`
	Mastery     float64 `json:"module_mastery"`
}

// Result holds both mastery tables
type Result struct {
	Quizzes  []QuizRow
	Modules  []ModuleRow
	Dropped  int
	Examined int
}

// Qualifies reports whether a submission can produce a mastery ratio:
// a completed attempt with a finite score and positive finite points
// possible.
func Qualifies(s Submission) bool {
	if !strings.EqualFold(strings.TrimSpace(s.WorkflowState), completeState) {
		return false
	}
	if s.UserID == "" || !s.Score.Valid || !s.PointsPossible.Valid {
		return false
	}
	if !finite(s.Score.Value) || !finite(s.PointsPossible.Value) {
		return false
	}
	return s.PointsPossible.Value > 0
}

// Clamp bounds v to [0, 1]
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type moduleKey struct {
	student string
	course  string
	module  string
}

type moduleAcc struct {
	score   float64
	points  float64
	quizzes map[string]struct{}
}

// Compute derives the quiz and module mastery tables. It is a pure function
// of its input; a student without qualifying submissions yields no rows.
func Compute(subs []Submission) Result {
	res := Result{Quizzes: []QuizRow{}, Modules: []ModuleRow{}, Examined: len(subs)}
	groups := make(map[moduleKey]*moduleAcc)

	for _, s := range subs {
		if !Qualifies(s) {
			res.Dropped++
			continue
		}
		student := string(s.UserID)
		res.Quizzes = append(res.Quizzes, QuizRow{
			StudentID:      student,
			QuizID:         s.QuizID,
			CourseID:       s.CourseID,
			ModuleID:       s.ModuleID,
			Score:          s.Score.Value,
			PointsPossible: s.PointsPossible.Value,
			Mastery:        Clamp(s.Score.Value / s.PointsPossible.Value),
			Attempt:        attemptString(s.Attempt),
		})

		key := moduleKey{student: student, course: s.CourseID, module: s.ModuleID}
		acc, ok := groups[key]
		if !ok {
			acc = &moduleAcc{quizzes: make(map[string]struct{})}
			groups[key] = acc
		}
		acc.score += s.Score.Value
		acc.points += s.PointsPossible.Value
		acc.quizzes[s.QuizID] = struct{}{}
	}

	for key, acc := range groups {
		res.Modules = append(res.Modules, ModuleRow{
			StudentID:   key.student,
			CourseID:    key.course,
			ModuleID:    key.module,
			TotalScore:  acc.score,
			TotalPoints: acc.points,
			Quizzes:     len(acc.quizzes),
			Mastery:     Clamp(acc.score / acc.points),
		})
	}

	sort.SliceStable(res.Quizzes, func(i, j int) bool {
		a, b := res.Quizzes[i], res.Quizzes[j]
		if c := CompareIDs(a.StudentID, b.StudentID); c != 0 {
			return c < 0
		}
		if a.ModuleID != b.ModuleID {
			return a.ModuleID < b.ModuleID
		}
		if c := CompareIDs(a.QuizID, b.QuizID); c != 0 {
			return c < 0
		}
		return CompareIDs(a.Attempt, b.Attempt) < 0
	})
	sort.Slice(res.Modules, func(i, j int) bool {
		a, b := res.Modules[i], res.Modules[j]
		if c := CompareIDs(a.StudentID, b.StudentID); c != 0 {
			return c < 0
		}
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		return a.ModuleID < b.ModuleID
	})
	return res
}

// CompareIDs is a total order on ids. Numeric ids come first, numerically.
// The rest order by their non-numeric prefix, then by the numeric suffix
// (user_2 before user_10), then lexically; an id without a suffix sorts
// before ids that extend it with one.
func CompareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if c := compareInt(ai, bi); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}

	ap, an, aok := splitSuffix(a)
	bp, bn, bok := splitSuffix(b)
	if c := strings.Compare(ap, bp); c != 0 {
		return c
	}
	switch {
	case aok && bok:
		if c := compareInt(an, bn); c != 0 {
			return c
		}
	case aok:
		return 1
	case bok:
		return -1
	}
	return strings.Compare(a, b)
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// splitSuffix splits user_12 into ("user_", 12). An id without a usable
// numeric suffix is its own prefix.
func splitSuffix(id string) (string, int64, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) || i == 0 {
		return id, 0, false
	}
	n, err := strconv.ParseInt(id[i:], 10, 64)
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

func attemptString(n Number) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}
