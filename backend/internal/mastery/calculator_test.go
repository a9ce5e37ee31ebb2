package mastery

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sub(user, quiz, module string, score, points float64, state string) Submission {
	return Submission{
		UserID:         ID(user),
		QuizID:         quiz,
		CourseID:       "course_4",
		ModuleID:       module,
		Score:          Number{Value: score, Valid: true},
		PointsPossible: Number{Value: points, Valid: true},
		Attempt:        Number{Value: 1, Valid: true},
		WorkflowState:  state,
	}
}

func TestCompute_QuizMasteryClamped(t *testing.T) {
	res := Compute([]Submission{
		sub("1", "10", "module_1", 12, 10, "complete"),
		sub("1", "11", "module_1", -2, 10, "complete"),
		sub("1", "12", "module_1", 5, 10, "complete"),
	})

	require.Len(t, res.Quizzes, 3)
	for _, q := range res.Quizzes {
		assert.GreaterOrEqual(t, q.Mastery, 0.0)
		assert.LessOrEqual(t, q.Mastery, 1.0)
	}
	assert.Equal(t, 1.0, res.Quizzes[0].Mastery)
	assert.Equal(t, 0.0, res.Quizzes[1].Mastery)
	assert.Equal(t, 0.5, res.Quizzes[2].Mastery)
}

func TestCompute_FiltersUnusableSubmissions(t *testing.T) {
	noScore := sub("1", "10", "module_1", 0, 10, "complete")
	noScore.Score = Number{}

	res := Compute([]Submission{
		sub("1", "10", "module_1", 8, 10, "COMPLETE"),
		sub("1", "11", "module_1", 8, 10, "pending_review"),
		sub("1", "12", "module_1", 8, 0, "complete"),
		noScore,
	})

	require.Len(t, res.Quizzes, 1)
	assert.Equal(t, "10", res.Quizzes[0].QuizID)
	assert.Equal(t, 3, res.Dropped)
}

func TestCompute_ModuleMasteryIsRatioOfSums(t *testing.T) {
	res := Compute([]Submission{
		sub("1", "10", "module_1", 9, 10, "complete"),
		sub("1", "11", "module_1", 1, 30, "complete"),
		sub("1", "11", "module_1", 5, 30, "complete"),
		sub("2", "10", "module_1", 10, 10, "complete"),
	})

	require.Len(t, res.Modules, 2)
	m := res.Modules[0]
	assert.Equal(t, "1", m.StudentID)
	assert.Equal(t, 15.0, m.TotalScore)
	assert.Equal(t, 70.0, m.TotalPoints)
	assert.Equal(t, 2, m.Quizzes)
	assert.InDelta(t, 15.0/70.0, m.Mastery, 1e-12)
	assert.Equal(t, 1.0, res.Modules[1].Mastery)
}

func TestCompute_NoQualifyingSubmissionsNoRows(t *testing.T) {
	res := Compute([]Submission{sub("7", "10", "module_1", 5, 10, "untaken")})
	assert.Empty(t, res.Quizzes)
	assert.Empty(t, res.Modules)
}

func TestCompute_SortsNumericStudentIDs(t *testing.T) {
	res := Compute([]Submission{
		sub("10", "1", "module_1", 1, 1, "complete"),
		sub("9", "1", "module_1", 1, 1, "complete"),
	})
	require.Len(t, res.Modules, 2)
	assert.Equal(t, "9", res.Modules[0].StudentID)
	assert.Equal(t, "10", res.Modules[1].StudentID)
}

func TestCompute_ByteIdenticalOutput(t *testing.T) {
	input := []Submission{
		sub("2", "11", "module_2", 3, 4, "complete"),
		sub("1", "10", "module_1", 9, 10, "complete"),
		sub("1", "12", "module_2", 1, 3, "complete"),
	}

	render := func() []byte {
		res := Compute(input)
		var buf bytes.Buffer
		require.NoError(t, WriteQuizCSV(&buf, res.Quizzes))
		require.NoError(t, WriteModuleCSV(&buf, res.Modules))
		return buf.Bytes()
	}
	assert.Equal(t, render(), render())
}

func TestNumber_UnmarshalJSON(t *testing.T) {
	var rec struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
		D Number `json:"d"`
		E ID     `json:"e"`
		F ID     `json:"f"`
	}
	err := json.Unmarshal([]byte(`{"a": 7.5, "b": "3", "c": null, "d": "n/a", "e": 39, "f": "user"}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, Number{Value: 7.5, Valid: true}, rec.A)
	assert.Equal(t, Number{Value: 3, Valid: true}, rec.B)
	assert.False(t, rec.C.Valid)
	assert.False(t, rec.D.Valid)
	assert.Equal(t, ID("39"), rec.E)
	assert.Equal(t, ID("user"), rec.F)

	for _, raw := range []string{`"NaN"`, `"nan"`, `"Inf"`, `"-Infinity"`} {
		var n Number
		require.NoError(t, json.Unmarshal([]byte(raw), &n))
		assert.False(t, n.Valid, raw)
	}
}

func TestCompute_DropsNonFiniteScores(t *testing.T) {
	var subs []Submission
	require.NoError(t, json.Unmarshal([]byte(`[
		{"user_id": 1, "score": "NaN", "quiz_points_possible": 10, "workflow_state": "complete"},
		{"user_id": 1, "score": 5, "quiz_points_possible": "Infinity", "workflow_state": "complete"},
		{"user_id": 1, "score": 5, "quiz_points_possible": 10, "workflow_state": "complete"}
	]`), &subs))
	for i := range subs {
		subs[i].CourseID, subs[i].ModuleID, subs[i].QuizID = "course_4", "module_1", "10"
	}
	nan := sub("1", "11", "module_1", math.NaN(), 10, "complete")

	res := Compute(append(subs, nan))
	assert.Equal(t, 3, res.Dropped)
	require.Len(t, res.Quizzes, 1)
	require.Len(t, res.Modules, 1)
	assert.Equal(t, 0.5, res.Modules[0].Mastery)
}

func TestReadModuleCSV_RoundTripsSavedTable(t *testing.T) {
	res := Compute([]Submission{sub("1", "10", "module_1", 4, 8, "complete")})
	var buf bytes.Buffer
	require.NoError(t, WriteModuleCSV(&buf, res.Modules))

	rows, skipped, err := ReadModuleCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, res.Modules, rows)
}

func TestCompareIDs(t *testing.T) {
	assert.Equal(t, -1, CompareIDs("2", "10"))
	assert.Equal(t, -1, CompareIDs("user_2", "user_10"))
	assert.Equal(t, 1, CompareIDs("module_44", "module_5"))
	assert.Equal(t, -1, CompareIDs("7", "abc"))
	assert.Equal(t, -1, CompareIDs("lesson_1", "module_1"))
	assert.Equal(t, 0, CompareIDs("m1", "m1"))
	assert.Equal(t, 1, CompareIDs("a1x", "a2"))
	assert.Equal(t, -1, CompareIDs("a", "a5"))
}

func TestCompareIDs_TotalOrder(t *testing.T) {
	ids := []string{"a2", "a10", "a1x", "user_10", "user_2", "user", "user_x", "10", "2", "b1", "a", "a_3"}
	for _, a := range ids {
		assert.Equal(t, 0, CompareIDs(a, a), a)
		for _, b := range ids {
			assert.Equal(t, -CompareIDs(b, a), CompareIDs(a, b), a+" vs "+b)
			for _, c := range ids {
				if CompareIDs(a, b) < 0 && CompareIDs(b, c) < 0 {
					assert.Equal(t, -1, CompareIDs(a, c), a+" < "+b+" < "+c)
				}
			}
		}
	}
}
