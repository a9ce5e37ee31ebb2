package kgbuild

import (
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"edukg/backend/internal/graph"
	"edukg/backend/internal/mastery"
	apperrors "edukg/backend/pkg/errors"
)

// Auxiliary input file names
const (
	SemanticTriplesFile = "edutriples.csv"
	PrerequisitesFile   = "course_prerequisites.csv"
	CompetenciesFile    = "course_competencies_llm.csv"
	IdentitiesFile      = "canvas_user_lti_export.csv"
)

// table is a header-indexed CSV reader
type table struct {
	name string
	cr   *csv.Reader
	idx  map[string]int
}

func openTable(name string, r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInputDefect(name, "unreadable header", err)
	}
	t := &table{name: name, cr: cr, idx: make(map[string]int, len(header))}
	for i, h := range header {
		t.idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range required {
		if _, ok := t.idx[col]; !ok {
			return nil, apperrors.NewInputDefect(name, "missing column "+col, nil)
		}
	}
	return t, nil
}

// each calls fn for every row; get returns the trimmed value of a column
func (t *table) each(fn func(get func(col string) string)) error {
	if t == nil {
		return nil
	}
	for {
		rec, err := t.cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return apperrors.NewInputDefect(t.name, "malformed row", err)
		}
		fn(func(col string) string {
			i, ok := t.idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		})
	}
}

// openOptional opens an input that may be absent; a missing file yields nil.
func openOptional(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return f, err
}

// ReadSemanticTriples keeps the (entity1, relation, entity2) triples whose
// score is at least minScore. An unparsable score counts as 0.
func ReadSemanticTriples(r io.Reader, minScore float64) ([]graph.Triple, error) {
	t, err := openTable(SemanticTriplesFile, r, "entity1", "relation", "entity2")
	if err != nil {
		return nil, err
	}
	out := []graph.Triple{}
	err = t.each(func(get func(string) string) {
		score, perr := strconv.ParseFloat(get("score"), 64)
		if perr != nil {
			score = 0
		}
		if score < minScore {
			return
		}
		out = append(out, graph.Triple{Subject: get("entity1"), Relation: get("relation"), Object: get("entity2")})
	})
	return out, err
}

// AddSemanticTriples merges the high-confidence external triples at path
// into the flat triple output. A missing file adds nothing.
func AddSemanticTriples(g *Graph, path string, minScore float64) (int, error) {
	f, err := openOptional(path)
	if err != nil || f == nil {
		return 0, err
	}
	defer f.Close()

	triples, err := ReadSemanticTriples(f, minScore)
	if err != nil {
		return 0, err
	}
	g.AddTriples(triples...)
	return len(triples), nil
}

// Prerequisite is one "module REQUIRES prereq" row
type Prerequisite struct {
	Module string
	Prereq string
}

// ReadPrerequisites parses a module,prereq table. Self references and
// incomplete rows are skipped.
func ReadPrerequisites(r io.Reader) ([]Prerequisite, error) {
	t, err := openTable(PrerequisitesFile, r, "module", "prereq")
	if err != nil {
		return nil, err
	}
	var out []Prerequisite
	err = t.each(func(get func(string) string) {
		p := Prerequisite{Module: get("module"), Prereq: get("prereq")}
		if p.Module == "" || p.Prereq == "" || p.Module == p.Prereq {
			return
		}
		out = append(out, p)
	})
	return out, err
}

// AddPrerequisites links modules with REQUIRES edges. Rows naming unknown
// modules are dropped by the working set.
func AddPrerequisites(g *Graph, path string) (int, error) {
	f, err := openOptional(path)
	if err != nil || f == nil {
		return 0, err
	}
	defer f.Close()

	rows, err := ReadPrerequisites(f)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, p := range rows {
		if g.Link(p.Module, graph.LabelModule, graph.RelRequires, p.Prereq, graph.LabelModule) {
			added++
		}
	}
	return added, nil
}

// CompetencyRow is one extracted competency of a module
type CompetencyRow struct {
	CourseID    string `json:"course_id"`
	ModuleID    string `json:"module_id"`
	ID          string `json:"competency_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

// ReadCompetencies parses a competencies table; rows without a module or
// competency id are skipped.
func ReadCompetencies(r io.Reader) ([]CompetencyRow, error) {
	t, err := openTable(CompetenciesFile, r, "module_id", "competency_id")
	if err != nil {
		return nil, err
	}
	var out []CompetencyRow
	err = t.each(func(get func(string) string) {
		row := CompetencyRow{
			CourseID:    get("course_id"),
			ModuleID:    get("module_id"),
			ID:          get("competency_id"),
			Name:        get("name"),
			Description: get("description"),
			Domain:      get("domain"),
		}
		if row.ModuleID == "" || row.ID == "" {
			return
		}
		out = append(out, row)
	})
	return out, err
}

// AddCompetencies adds Competency nodes and HAS_COMPETENCY edges
func AddCompetencies(g *Graph, rows []CompetencyRow) int {
	added := 0
	for _, c := range rows {
		attrs := map[string]any{}
		if c.Description != "" {
			attrs["description"] = c.Description
		}
		if c.Domain != "" {
			attrs["domain"] = c.Domain
		}
		if c.CourseID != "" {
			attrs["course_id"] = c.CourseID
		}
		g.AddNode(c.ID, graph.LabelCompetency, c.Name, attrs)
		if g.Link(c.ModuleID, graph.LabelModule, graph.RelHasCompetency, c.ID, graph.LabelCompetency) {
			added++
		}
	}
	return added
}

// AddCompetencyFile reads and adds an optional competencies table
func AddCompetencyFile(g *Graph, path string) (int, error) {
	f, err := openOptional(path)
	if err != nil || f == nil {
		return 0, err
	}
	defer f.Close()

	rows, err := ReadCompetencies(f)
	if err != nil {
		return 0, err
	}
	return AddCompetencies(g, rows), nil
}

// AddMastery adds a mastery_on edge per module row. A student seen only in
// the mastery table is created; unknown modules drop the edge.
func AddMastery(g *Graph, rows []mastery.ModuleRow) int {
	added := 0
	for _, r := range rows {
		student := graph.StudentNodeID(r.StudentID)
		g.AddNode(student, graph.LabelStudent, student, nil)
		if g.AddEdge(graph.Edge{
			Source: student, SourceLabel: graph.LabelStudent,
			Relation: graph.RelMasteryOn,
			Target:   r.ModuleID, TargetLabel: graph.LabelModule,
			Props: graph.MasteryProps(r.Mastery, r.Quizzes, r.TotalPoints),
		}) {
			added++
		}
	}
	return added
}

// ReadIdentities parses an LTI user export (user_id, name, lti_id)
func ReadIdentities(r io.Reader) ([]graph.StudentIdentity, error) {
	t, err := openTable(IdentitiesFile, r, "user_id")
	if err != nil {
		return nil, err
	}
	var out []graph.StudentIdentity
	err = t.each(func(get func(string) string) {
		uid := get("user_id")
		if uid == "" {
			return
		}
		out = append(out, graph.StudentIdentity{
			ID:    graph.StudentNodeID(uid),
			Name:  get("name"),
			LTIID: get("lti_id"),
		})
	})
	return out, err
}
