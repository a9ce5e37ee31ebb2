package recommend

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"edukg/backend/internal/mastery"
	apperrors "edukg/backend/pkg/errors"
)

// Export files
const (
	CandidatesFile = "recommendations.csv"
	DecisionsFile  = "final_recommendations.csv"
)

var (
	candidateHeader = []string{"student", "module_id", "module_title", "similarity"}
	decisionHeader  = []string{"student", "module_id", "module_title", "similarity", "reason", "mode"}
)

// SaveCandidates replaces the rows of the given students in
// recommendations.csv, keeping every other student's rows.
func SaveCandidates(dir string, lists []*CandidateList) (string, error) {
	path := filepath.Join(dir, CandidatesFile)
	rows, err := readRows(path, len(candidateHeader))
	if err != nil {
		return "", err
	}

	replaced := make(map[string]bool, len(lists))
	for _, l := range lists {
		replaced[l.StudentID] = true
	}
	kept := rows[:0]
	for _, r := range rows {
		if !replaced[r[0]] {
			kept = append(kept, r)
		}
	}
	for _, l := range lists {
		for _, c := range l.Candidates {
			kept = append(kept, []string{l.StudentID, c.ModuleID, c.Title, formatSimilarity(c.Similarity)})
		}
	}
	// student order, candidate rank inside a student
	sort.SliceStable(kept, func(i, j int) bool {
		return mastery.CompareIDs(kept[i][0], kept[j][0]) < 0
	})
	return path, writeRows(path, candidateHeader, kept)
}

// SaveDecisions upserts decisions into final_recommendations.csv keyed by
// student. Students without a module keep a row with an empty module id
// and the reason.
func SaveDecisions(dir string, decisions []Decision) (string, error) {
	path := filepath.Join(dir, DecisionsFile)
	rows, err := readRows(path, len(decisionHeader))
	if err != nil {
		return "", err
	}

	byStudent := make(map[string][]string, len(rows)+len(decisions))
	for _, r := range rows {
		byStudent[r[0]] = r
	}
	for _, d := range decisions {
		sim := ""
		if d.Found() {
			sim = formatSimilarity(d.Similarity)
		}
		byStudent[d.StudentID] = []string{d.StudentID, d.ModuleID, d.Title, sim, d.Reason, d.Mode}
	}

	students := make([]string, 0, len(byStudent))
	for id := range byStudent {
		students = append(students, id)
	}
	sort.Slice(students, func(i, j int) bool { return mastery.CompareIDs(students[i], students[j]) < 0 })

	out := make([][]string, 0, len(students))
	for _, id := range students {
		out = append(out, byStudent[id])
	}
	return path, writeRows(path, decisionHeader, out)
}

// LoadDecision reads one student's row from final_recommendations.csv
func LoadDecision(dir, studentID string) (*Decision, error) {
	path := filepath.Join(dir, DecisionsFile)
	rows, err := readRows(path, len(decisionHeader))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r[0] != studentID {
			continue
		}
		d := &Decision{StudentID: r[0], ModuleID: r[1], Title: r[2], Reason: r[4], Mode: r[5]}
		if r[3] != "" {
			d.Similarity, _ = strconv.ParseFloat(r[3], 64)
		}
		return d, nil
	}
	return nil, nil
}

func formatSimilarity(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// readRows reads the data rows of a previous export; a missing file has no
// rows. Rows shorter than width are padded.
func readRows(path string, width int) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewMissingInput(path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewInputDefect(path, "unreadable export", err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) == 0 || rec[0] == "" {
			continue
		}
		for len(rec) < width {
			rec = append(rec, "")
		}
		rows = append(rows, rec[:width])
	}
	return rows, nil
}

func writeRows(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
