package recommend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDecisions_UpsertByStudent(t *testing.T) {
	dir := t.TempDir()

	_, err := SaveDecisions(dir, []Decision{
		{StudentID: "user_10", ModuleID: "m1", Title: "Intro", Similarity: 0.5, Reason: "ok", Mode: ModeBinary},
		{StudentID: "user_2", Reason: ReasonNoCandidates, Mode: ModeBinary},
	})
	require.NoError(t, err)

	path, err := SaveDecisions(dir, []Decision{
		{StudentID: "user_10", ModuleID: "m2", Title: "Loops", Similarity: 0.25, Reason: ReasonSimilarityFallback, Mode: ModeBinary},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"student,module_id,module_title,similarity,reason,mode\n"+
			"user_2,,,,no candidates,binary\n"+
			"user_10,m2,Loops,0.250000,fallback: highest similarity,binary\n",
		string(data))

	d, err := LoadDecision(dir, "user_10")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)
	assert.Equal(t, 0.25, d.Similarity)

	d, err = LoadDecision(dir, "user_99")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSaveDecisions_Idempotent(t *testing.T) {
	dir := t.TempDir()
	decisions := []Decision{{StudentID: "user_1", ModuleID: "m1", Similarity: 0.9, Reason: "ok", Mode: ModeIntersection}}

	path, err := SaveDecisions(dir, decisions)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = SaveDecisions(dir, decisions)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveCandidates_ReplacesStudentRows(t *testing.T) {
	dir := t.TempDir()

	_, err := SaveCandidates(dir, []*CandidateList{
		{StudentID: "user_1", Candidates: []Candidate{{ModuleID: "m1", Title: "Intro", Similarity: 0.9}, {ModuleID: "m2", Title: "Loops", Similarity: 0.8}}},
		{StudentID: "user_3", Candidates: []Candidate{{ModuleID: "m4", Title: "Nets", Similarity: 0.1}}},
	})
	require.NoError(t, err)

	path, err := SaveCandidates(dir, []*CandidateList{
		{StudentID: "user_1", Candidates: []Candidate{{ModuleID: "m3", Title: "Recursion", Similarity: 0.7}}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, CandidatesFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"student,module_id,module_title,similarity\n"+
			"user_1,m3,Recursion,0.700000\n"+
			"user_3,m4,Nets,0.100000\n",
		string(data))
}
