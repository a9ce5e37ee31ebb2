package recommend

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"edukg/backend/internal/graph"
)

// Reasons attached to a Decision
const (
	ReasonRuleFallback       = "rule-based fallback"
	ReasonSimilarityFallback = "fallback: highest similarity"
	ReasonNotAddressed       = "not addressed by validator"
	ReasonNoOverlap          = "no overlap between sources"
	ReasonNoCandidates       = "no candidates"
	ReasonIntersection       = "in both sources"
)

// Merge modes
const (
	ModeBinary       = "binary"
	ModeIntersection = "intersection"
)

// Decision is the final recommendation for a student. ModuleID is empty
// when no recommendation is available.
type Decision struct {
	StudentID  string  `json:"student_id"`
	ModuleID   string  `json:"module_id,omitempty"`
	Title      string  `json:"module_title,omitempty"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
	Mode       string  `json:"mode"`
	Stale      bool    `json:"stale,omitempty"`
}

// Found reports whether the decision names a module
func (d Decision) Found() bool { return d.ModuleID != "" }

// MergeOptions tune the binary merge
type MergeOptions struct {
	MinDescriptionLength int
	DescriptionMaxLength int
}

// Merger resolves two candidate signals into one Decision
type Merger struct {
	validator Validator
	opts      MergeOptions
	logger    *zap.Logger
}

// NewMerger creates a merger. validator may be nil; binary merges then
// take the similarity fallback.
func NewMerger(validator Validator, opts MergeOptions, logger *zap.Logger) *Merger {
	return &Merger{validator: validator, opts: opts, logger: logger}
}

// Intersection picks the module present in both sources with the highest
// source A similarity.
func (m *Merger) Intersection(studentID string, a, b []Candidate) Decision {
	d := Decision{StudentID: studentID, Mode: ModeIntersection}
	inB := make(map[string]bool, len(b))
	for _, c := range b {
		inB[c.ModuleID] = true
	}

	var both []Candidate
	for _, c := range a {
		if inB[c.ModuleID] {
			both = append(both, c)
		}
	}
	if len(both) == 0 {
		d.Reason = ReasonNoOverlap
		return d
	}
	best := rank(both, 1)[0]
	d.ModuleID, d.Title, d.Similarity = best.ModuleID, best.Title, best.Similarity
	d.Reason = ReasonIntersection
	return d
}

// Binary filters the candidates through the quality gate, asks the
// validator about the rest and falls back on similarity whenever the
// validator gives no usable suitable verdict.
func (m *Merger) Binary(ctx context.Context, studentID string, cands []Candidate, meta map[string]graph.ModuleMeta) Decision {
	d := Decision{StudentID: studentID, Mode: ModeBinary}
	if len(cands) == 0 {
		d.Reason = ReasonNoCandidates
		return d
	}
	cands = rank(append([]Candidate(nil), cands...), 0)

	var pool []Candidate
	for _, c := range cands {
		if m.passesGate(meta[c.ModuleID]) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return d.with(cands[0], ReasonRuleFallback)
	}

	if m.validator == nil {
		return d.with(pool[0], ReasonSimilarityFallback)
	}

	req := ValidationRequest{StudentID: studentID}
	for _, c := range pool {
		req.Candidates = append(req.Candidates, c.ModuleID)
		info := NewModuleInfo(meta[c.ModuleID], m.opts.DescriptionMaxLength)
		info.Title = c.Title
		req.Modules = append(req.Modules, info)
	}

	verdicts, err := m.validator.Validate(ctx, req)
	if err != nil {
		m.logger.Warn("Validation failed, using similarity fallback",
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		return d.with(pool[0], ReasonSimilarityFallback)
	}

	for i, v := range Verdicts(pool, verdicts) {
		if !v.Suitable {
			m.logger.Debug("Candidate rejected",
				zap.String("student_id", studentID),
				zap.String("module_id", v.ModuleID),
				zap.String("reason", v.Reason),
			)
			continue
		}
		reason := strings.TrimSpace(v.Reason)
		if reason == "" {
			reason = "suitable"
		}
		return d.with(pool[i], reason)
	}
	return d.with(pool[0], ReasonSimilarityFallback)
}

// Verdicts resolves the validator's answer for every pool member; missing
// entries are unsuitable with ReasonNotAddressed.
func Verdicts(pool []Candidate, verdicts []Verdict) []Verdict {
	byModule := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		if _, dup := byModule[v.ModuleID]; !dup {
			byModule[v.ModuleID] = v
		}
	}
	out := make([]Verdict, 0, len(pool))
	for _, c := range pool {
		v, ok := byModule[c.ModuleID]
		if !ok {
			v = Verdict{ModuleID: c.ModuleID, Suitable: false, Reason: ReasonNotAddressed}
		}
		out = append(out, v)
	}
	return out
}

func (m *Merger) passesGate(meta graph.ModuleMeta) bool {
	if len(meta.CompetencyIDs()) == 0 || len(meta.Domains()) == 0 {
		return false
	}
	for _, desc := range meta.Descriptions() {
		if utf8.RuneCountInString(desc) >= m.opts.MinDescriptionLength {
			return true
		}
	}
	return false
}

func (d Decision) with(c Candidate, reason string) Decision {
	d.ModuleID, d.Title, d.Similarity, d.Reason = c.ModuleID, c.Title, c.Similarity, reason
	return d
}
