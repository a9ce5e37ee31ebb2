// Package skills groups modules into skill areas and scores students per
// area.
package skills

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
	apperrors "edukg/backend/pkg/errors"
)

// Skill groups
const (
	GroupFE     = "FE"
	GroupBE     = "BE"
	GroupNET    = "NET"
	GroupMobile = "MOBILE"
	GroupData   = "DATA"
	GroupAI     = "AI"
	GroupQLDA   = "QLDA"
	GroupNone   = "None"
)

// Groups lists every skill group in report order
var Groups = []string{GroupFE, GroupBE, GroupNET, GroupMobile, GroupData, GroupAI, GroupQLDA, GroupNone}

// Mapping files under the data directory
const (
	DomainMappingFile = "domain_skill_mapping.json"
	ModuleMappingFile = "computed_skill_mapping.json"
)

const classifierPrompt = `You are an expert skill classifier.
You receive a JSON object with a list of competency domains. Classify each domain into exactly one
of the skill groups FE, BE, NET, MOBILE, DATA, AI, QLDA.
If a domain belongs to general, basic or foundational courses (math, physics, algorithms,
introduction to IT, soft skills and similar), return the value "None" for it.
Output a pure JSON object of the form {"<domain>": "<group>"}. Do not add explanations.`

// NormalizeGroup maps a model answer onto a known group; unknown answers
// are GroupNone.
func NormalizeGroup(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "NETWORK", "NETWORKING":
		return GroupNET
	case "FRONTEND":
		return GroupFE
	case "BACKEND":
		return GroupBE
	}
	for _, g := range Groups {
		if strings.ToUpper(g) == s {
			return g
		}
	}
	return GroupNone
}

// Classifier assigns competency domains to skill groups with a chat model
type Classifier struct {
	llm    adapter.Completer
	logger *zap.Logger
}

// NewClassifier creates a classifier
func NewClassifier(llm adapter.Completer, logger *zap.Logger) *Classifier {
	return &Classifier{llm: llm, logger: logger}
}

// Classify returns a group for every domain. Domains missing from the
// answer map to GroupNone; keys the model invented are dropped.
func (c *Classifier) Classify(ctx context.Context, domains []string) (map[string]string, error) {
	out := make(map[string]string, len(domains))
	if len(domains) == 0 {
		return out, nil
	}
	payload, err := json.Marshal(map[string][]string{"domains": domains})
	if err != nil {
		return nil, err
	}
	raw, err := c.llm.Complete(ctx, classifierPrompt, string(payload), adapter.CompleteOptions{JSON: true})
	if err != nil {
		return nil, err
	}

	var answer map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &answer); err != nil {
		return nil, apperrors.NewValidationFailed("domain classification is not a JSON object", err)
	}
	for _, d := range domains {
		g, ok := answer[d]
		if !ok {
			c.logger.Debug("Domain not classified", zap.String("domain", d))
		}
		out[d] = NormalizeGroup(g)
	}
	return out, nil
}

// ModuleSkills assigns each module the most frequent group of its
// competencies' domains; ties go to the alphabetically first group.
// Modules without classified competencies are left out.
func ModuleSkills(meta map[string]graph.ModuleMeta, domains map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for id, m := range meta {
		counts := make(map[string]int)
		for _, comp := range m.Competencies {
			g, ok := domains[strings.TrimSpace(comp.Domain)]
			if !ok {
				continue
			}
			counts[g]++
		}
		if len(counts) == 0 {
			continue
		}
		best, bestN := "", 0
		for g, n := range counts {
			if n > bestN || (n == bestN && g < best) {
				best, bestN = g, n
			}
		}
		out[id] = best
	}
	return out
}

// LoadMapping reads a {key: group} JSON file; a missing file is an empty
// mapping.
func LoadMapping(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.NewInputDefect(path, "not a skill mapping", err)
	}
	return out, nil
}

// SaveMapping writes m as indented JSON
func SaveMapping(path string, m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Mapper keeps the domain and module mappings of a data directory current
type Mapper struct {
	store      graph.Store
	classifier *Classifier
	dataDir    string
	logger     *zap.Logger
}

// NewMapper creates a mapper. classifier may be nil when only cached
// domains are used.
func NewMapper(store graph.Store, classifier *Classifier, dataDir string, logger *zap.Logger) *Mapper {
	return &Mapper{store: store, classifier: classifier, dataDir: dataDir, logger: logger}
}

// Run classifies domains not yet in the cache, then rebuilds the module
// mapping from the store. It returns the module mapping.
func (m *Mapper) Run(ctx context.Context) (map[string]string, error) {
	domainPath := filepath.Join(m.dataDir, DomainMappingFile)
	cached, err := LoadMapping(domainPath)
	if err != nil {
		return nil, err
	}

	domains, err := m.store.CompetencyDomains(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, d := range domains {
		if _, ok := cached[d]; !ok {
			missing = append(missing, d)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		if m.classifier == nil {
			return nil, apperrors.NewConfigMissingRequired("MODEL_ID")
		}
		classified, err := m.classifier.Classify(ctx, missing)
		if err != nil {
			return nil, err
		}
		for d, g := range classified {
			cached[d] = g
		}
		if err := SaveMapping(domainPath, cached); err != nil {
			return nil, err
		}
	}

	meta, err := m.store.ModuleMeta(ctx, nil)
	if err != nil {
		return nil, err
	}
	modules := ModuleSkills(meta, cached)
	if err := SaveMapping(filepath.Join(m.dataDir, ModuleMappingFile), modules); err != nil {
		return nil, err
	}

	m.logger.Info("Skill mapping updated",
		zap.Int("domains", len(cached)),
		zap.Int("classified", len(missing)),
		zap.Int("modules", len(modules)),
	)
	return modules, nil
}
