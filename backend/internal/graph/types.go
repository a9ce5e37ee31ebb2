package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Graph Vocabulary
// ============================================================================

// Label is a node type
type Label string

const (
	LabelCourse     Label = "Course"
	LabelModule     Label = "Module"
	LabelLesson     Label = "Lesson"
	LabelQuiz       Label = "Quiz"
	LabelQuestion   Label = "Question"
	LabelStudent    Label = "Student"
	LabelCompetency Label = "Competency"
)

// Labels lists every node label in schema order.
var Labels = []Label{LabelCourse, LabelModule, LabelLesson, LabelQuiz, LabelQuestion, LabelStudent, LabelCompetency}

// Valid reports whether l is one of the known labels. Only valid labels are
// ever interpolated into Cypher.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// ParseLabel maps a label string (case-insensitive) onto the closed enum.
func ParseLabel(s string) (Label, bool) {
	s = strings.TrimSpace(s)
	for _, known := range Labels {
		if strings.EqualFold(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// Relation is an edge type
type Relation string

const (
	RelIncludes      Relation = "includes"
	RelHasLesson     Relation = "has_lesson"
	RelHasQuiz       Relation = "has_quiz"
	RelHasQuestion   Relation = "has_question"
	RelAttempted     Relation = "attempted"
	RelScoredOn      Relation = "scored_on"
	RelMasteryOn     Relation = "mastery_on"
	RelRequires      Relation = "REQUIRES"
	RelHasCompetency Relation = "HAS_COMPETENCY"
)

// Relations lists every relation type.
var Relations = []Relation{
	RelIncludes, RelHasLesson, RelHasQuiz, RelHasQuestion,
	RelAttempted, RelScoredOn, RelMasteryOn, RelRequires, RelHasCompetency,
}

// Valid reports whether r is one of the known relation types.
func (r Relation) Valid() bool {
	for _, known := range Relations {
		if r == known {
			return true
		}
	}
	return false
}

// ============================================================================
// Node, Edge, Triple
// ============================================================================

// Node is a typed graph node
type Node struct {
	ID    string         `json:"id"`
	Label Label          `json:"label"`
	Name  string         `json:"name"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// NodeKey identifies a node; ids are unique within a label.
type NodeKey struct {
	Label Label
	ID    string
}

// Key returns the node identity
func (n Node) Key() NodeKey {
	return NodeKey{Label: n.Label, ID: n.ID}
}

// Edge is a directed, typed relationship. Score is only meaningful for
// scored_on; Props carries the remaining properties (mastery_on fields).
type Edge struct {
	Source      string         `json:"source"`
	SourceLabel Label          `json:"source_label"`
	Relation    Relation       `json:"relation"`
	Target      string         `json:"target"`
	TargetLabel Label          `json:"target_label"`
	Score       *float64       `json:"score,omitempty"`
	Props       map[string]any `json:"props,omitempty"`
}

// EdgeKey identifies an edge by its natural identity.
type EdgeKey struct {
	SourceLabel Label
	Source      string
	Relation    Relation
	TargetLabel Label
	Target      string
}

// Key returns the edge identity
func (e Edge) Key() EdgeKey {
	return EdgeKey{
		SourceLabel: e.SourceLabel,
		Source:      e.Source,
		Relation:    e.Relation,
		TargetLabel: e.TargetLabel,
		Target:      e.Target,
	}
}

// SourceKey returns the key of the source node
func (e Edge) SourceKey() NodeKey { return NodeKey{Label: e.SourceLabel, ID: e.Source} }

// TargetKey returns the key of the target node
func (e Edge) TargetKey() NodeKey { return NodeKey{Label: e.TargetLabel, ID: e.Target} }

// Properties returns the property map written to the store. A nil score on
// scored_on is written as null so that the store drops the property.
func (e Edge) Properties() map[string]any {
	props := make(map[string]any, len(e.Props)+1)
	for k, v := range e.Props {
		props[k] = v
	}
	if e.Relation == RelScoredOn {
		if e.Score != nil {
			props["score"] = *e.Score
		} else {
			props["score"] = nil
		}
	}
	return props
}

// Triple returns the flat subject-relation-object rendering of the edge.
func (e Edge) Triple() Triple {
	if e.Relation == RelScoredOn {
		if e.Score == nil {
			return Triple{Subject: e.Source, Relation: "has_score", Object: e.Target}
		}
		return Triple{Subject: e.Source, Relation: "has_score", Object: e.Target + ":" + FormatScore(*e.Score)}
	}
	return Triple{Subject: e.Source, Relation: string(e.Relation), Object: e.Target}
}

// Triple is a strictly textual fact used for export and audit
type Triple struct {
	Subject  string `json:"entity1"`
	Relation string `json:"relation"`
	Object   string `json:"entity2"`
}

// FormatScore renders a score the way it is written to CSV exports.
func FormatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// ============================================================================
// Read Models
// ============================================================================

// MasteryEdge is a student's mastery_on edge to a module
type MasteryEdge struct {
	StudentID   string  `json:"student_id"`
	ModuleID    string  `json:"module_id"`
	Mastery     float64 `json:"mastery"`
	Quizzes     int     `json:"quizzes"`
	TotalPoints float64 `json:"total_points"`
}

// MasteryProps returns the edge properties persisted on mastery_on.
func MasteryProps(mastery float64, quizzes int, totalPoints float64) map[string]any {
	return map[string]any{
		"mastery":      mastery,
		"quizzes":      int64(quizzes),
		"total_points": totalPoints,
	}
}

// StudentVector is a student's competency embedding plus its freshness marker
type StudentVector struct {
	StudentID  string    `json:"student_id"`
	Embedding  []float64 `json:"embedding"`
	ComputedAt time.Time `json:"computed_at"`
	CycleID    string    `json:"cycle_id,omitempty"`
}

// Competency is a skill tag attached to a module
type Competency struct {
	ID          string `json:"competency_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

// ModuleMeta is the metadata of a module used for validation and skills
type ModuleMeta struct {
	ModuleID     string       `json:"module_id"`
	Name         string       `json:"name"`
	Competencies []Competency `json:"competencies"`
}

// CompetencyIDs returns the ids of the linked competencies
func (m ModuleMeta) CompetencyIDs() []string {
	ids := make([]string, 0, len(m.Competencies))
	for _, c := range m.Competencies {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Domains returns the distinct non-empty competency domains in order of appearance
func (m ModuleMeta) Domains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range m.Competencies {
		d := strings.TrimSpace(c.Domain)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// Descriptions returns the non-empty competency descriptions
func (m ModuleMeta) Descriptions() []string {
	var out []string
	for _, c := range m.Competencies {
		if d := strings.TrimSpace(c.Description); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ModuleRef is a module reference in a student profile
type ModuleRef struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Mastery float64 `json:"mastery,omitempty"`
}

// StudentModules splits the modules of the graph by a student's progress
type StudentModules struct {
	Completed  []ModuleRef `json:"completed"`
	InProgress []ModuleRef `json:"in_progress"`
	NotStarted []ModuleRef `json:"not_started"`
}

// StudentIdentity links a Student node to the platform's identity records
type StudentIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	LTIID string `json:"lti_id"`
}

// Stats are node and relationship counts of the store
type Stats struct {
	Nodes         int64 `json:"nodes"`
	Relationships int64 `json:"relationships"`
}

// StudentNodeID maps a platform user id onto the graph's student id.
func StudentNodeID(userID string) string {
	userID = strings.TrimSpace(userID)
	if strings.HasPrefix(userID, "user_") {
		return userID
	}
	return "user_" + userID
}

// QuizNodeID maps a numeric quiz id onto the graph's quiz id.
func QuizNodeID(quizID string) string {
	quizID = strings.TrimSpace(quizID)
	if strings.HasPrefix(quizID, "quiz_") {
		return quizID
	}
	return "quiz_" + quizID
}

// QuestionNodeID maps a question id onto the graph's question id.
func QuestionNodeID(questionID string) string {
	return fmt.Sprintf("question_%s", strings.TrimSpace(questionID))
}
