package recommend

import (
	"context"
	"encoding/json"
	"strings"

	"edukg/backend/internal/graph"
	"edukg/backend/internal/textclean"
	apperrors "edukg/backend/pkg/errors"
)

// ModuleInfo is the metadata of one candidate sent for validation
type ModuleInfo struct {
	ModuleID      string   `json:"module_id"`
	Title         string   `json:"title,omitempty"`
	CompetencyIDs []string `json:"competency_ids"`
	Domains       []string `json:"domains"`
	Descriptions  []string `json:"descriptions"`
}

// ValidationRequest is the payload judged by a Validator
type ValidationRequest struct {
	StudentID  string       `json:"student_id"`
	Candidates []string     `json:"candidates"`
	Modules    []ModuleInfo `json:"modules"`
}

// Verdict is the judgment for one module
type Verdict struct {
	ModuleID string `json:"module_id"`
	Suitable bool   `json:"suitable"`
	Reason   string `json:"reason"`
}

// Validator judges whether candidate modules suit a student
type Validator interface {
	Validate(ctx context.Context, req ValidationRequest) ([]Verdict, error)
}

// NewModuleInfo renders module metadata with every description cut to
// maxDescription runes.
func NewModuleInfo(meta graph.ModuleMeta, maxDescription int) ModuleInfo {
	info := ModuleInfo{
		ModuleID:      meta.ModuleID,
		Title:         meta.Name,
		CompetencyIDs: meta.CompetencyIDs(),
		Domains:       meta.Domains(),
		Descriptions:  []string{},
	}
	if info.Domains == nil {
		info.Domains = []string{}
	}
	for _, d := range meta.Descriptions() {
		info.Descriptions = append(info.Descriptions, textclean.Truncate(d, maxDescription))
	}
	return info
}

// ParseVerdicts decodes a validator response. The body must be a JSON
// object with a top-level "results" list, optionally inside a Markdown code
// fence; anything else, including prose around the object, is a validation
// failure.
func ParseVerdicts(raw string) ([]Verdict, error) {
	body := stripFence(strings.TrimSpace(raw))

	var resp struct {
		Results *[]Verdict `json:"results"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, apperrors.NewValidationFailed("malformed response", err)
	}
	if resp.Results == nil {
		return nil, apperrors.NewValidationFailed("response has no results", nil)
	}
	return *resp.Results, nil
}

// stripFence removes one surrounding ```json ... ``` fence
func stripFence(body string) string {
	if !strings.HasPrefix(body, "```") || !strings.HasSuffix(body, "```") || len(body) < 6 {
		return body
	}
	body = strings.TrimSuffix(strings.TrimPrefix(body, "```"), "```")
	if nl := strings.IndexByte(body, '\n'); nl != -1 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body)
}
