package graph

import (
	"context"
	"sort"
)

// ============================================================================
// Student, Mastery and Module Queries
// ============================================================================

const masteryReturn = `
	RETURN s.id AS student_id, m.id AS module_id,
	       coalesce(toFloat(r.mastery), 0.0) AS mastery,
	       coalesce(r.quizzes, 0) AS quizzes,
	       coalesce(toFloat(r.total_points), 0.0) AS total_points
	ORDER BY student_id, module_id
`

// MasteryEdges returns every mastery_on edge
func (r *Repository) MasteryEdges(ctx context.Context) ([]MasteryEdge, error) {
	records, err := r.collect(ctx, "fetch mastery edges",
		`MATCH (s:Student)-[r:mastery_on]->(m:Module)`+masteryReturn, nil)
	if err != nil {
		return nil, err
	}
	return masteryFromRecords(records), nil
}

// StudentMastery returns the mastery_on edges of one student
func (r *Repository) StudentMastery(ctx context.Context, studentID string) ([]MasteryEdge, error) {
	records, err := r.collect(ctx, "fetch student mastery",
		`MATCH (s:Student {id: $id})-[r:mastery_on]->(m:Module)`+masteryReturn,
		map[string]any{"id": studentID})
	if err != nil {
		return nil, err
	}
	return masteryFromRecords(records), nil
}

// PrerequisitesOf returns the transitive REQUIRES closure of a module.
// Variable-length matching never reuses a relationship, so cycles terminate.
func (r *Repository) PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error) {
	records, err := r.collect(ctx, "fetch prerequisite closure", `
		MATCH (m:Module {id: $id})-[:REQUIRES*1..]->(p:Module)
		WHERE p.id <> $id
		RETURN collect(DISTINCT p.id) AS ids
	`, map[string]any{"id": moduleID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []string{}, nil
	}
	ids := getStringSliceFromRecord(records[0], "ids")
	sort.Strings(ids)
	return ids, nil
}

// Students returns every student id in the graph
func (r *Repository) Students(ctx context.Context) ([]string, error) {
	records, err := r.collect(ctx, "list students", `
		MATCH (s:Student)
		RETURN s.id AS id
		ORDER BY id
	`, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, getStringFromRecord(rec, "id"))
	}
	return ids, nil
}

// ModuleMeta returns module names and their linked competencies
func (r *Repository) ModuleMeta(ctx context.Context, ids []string) (map[string]ModuleMeta, error) {
	params := map[string]any{"ids": nil}
	if len(ids) > 0 {
		params["ids"] = ids
	}

	records, err := r.collect(ctx, "fetch module metadata", `
		MATCH (m:Module)
		WHERE $ids IS NULL OR m.id IN $ids
		OPTIONAL MATCH (m)-[:HAS_COMPETENCY]->(c:Competency)
		WITH m, c ORDER BY c.id
		RETURN m.id AS id, m.name AS name,
		       collect(CASE WHEN c IS NULL THEN NULL ELSE {
		           id: c.id, name: c.name, description: c.description, domain: c.domain
		       } END) AS competencies
	`, params)
	if err != nil {
		return nil, err
	}

	out := make(map[string]ModuleMeta, len(records))
	for _, rec := range records {
		meta := ModuleMeta{
			ModuleID: getStringFromRecord(rec, "id"),
			Name:     getStringFromRecord(rec, "name"),
		}
		if raw, ok := rec.Get("competencies"); ok {
			if list, ok := raw.([]interface{}); ok {
				for _, item := range list {
					cm, ok := item.(map[string]interface{})
					if !ok {
						continue
					}
					meta.Competencies = append(meta.Competencies, Competency{
						ID:          getStringFromMap(cm, "id", ""),
						Name:        getStringFromMap(cm, "name", ""),
						Description: getStringFromMap(cm, "description", ""),
						Domain:      getStringFromMap(cm, "domain", ""),
					})
				}
			}
		}
		out[meta.ModuleID] = meta
	}
	return out, nil
}

// StudentModules splits modules into completed, in progress and not started
func (r *Repository) StudentModules(ctx context.Context, studentID string) (*StudentModules, error) {
	params := map[string]any{"id": studentID}

	completed, err := r.collect(ctx, "fetch completed modules", `
		MATCH (:Student {id: $id})-[r:mastery_on]->(m:Module)
		RETURN m.id AS id, m.name AS name, coalesce(toFloat(r.mastery), 0.0) AS mastery
		ORDER BY id
	`, params)
	if err != nil {
		return nil, err
	}

	inProgress, err := r.collect(ctx, "fetch in-progress modules", `
		MATCH (s:Student {id: $id})-[:attempted]->(:Quiz)<-[:has_quiz]-(m:Module)
		WHERE NOT (s)-[:mastery_on]->(m)
		RETURN DISTINCT m.id AS id, m.name AS name
		ORDER BY id
	`, params)
	if err != nil {
		return nil, err
	}

	all, err := r.collect(ctx, "list modules", `
		MATCH (m:Module)
		RETURN m.id AS id, m.name AS name
		ORDER BY id
	`, nil)
	if err != nil {
		return nil, err
	}

	out := &StudentModules{
		Completed:  refsFromRecords(completed, true),
		InProgress: refsFromRecords(inProgress, false),
		NotStarted: []ModuleRef{},
	}
	seen := make(map[string]bool)
	for _, m := range out.Completed {
		seen[m.ID] = true
	}
	for _, m := range out.InProgress {
		seen[m.ID] = true
	}
	for _, m := range refsFromRecords(all, false) {
		if !seen[m.ID] {
			out.NotStarted = append(out.NotStarted, m)
		}
	}
	return out, nil
}

// CompetencyDomains returns the distinct, trimmed competency domains
func (r *Repository) CompetencyDomains(ctx context.Context) ([]string, error) {
	records, err := r.collect(ctx, "list competency domains", `
		MATCH (c:Competency)
		WHERE c.domain IS NOT NULL AND trim(c.domain) <> ''
		RETURN DISTINCT trim(c.domain) AS domain
		ORDER BY domain
	`, nil)
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(records))
	for _, rec := range records {
		domains = append(domains, getStringFromRecord(rec, "domain"))
	}
	return domains, nil
}
