package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "edukg/backend/pkg/errors"
)

// ============================================================================
// Node and Edge Upserts
// ============================================================================

// UpsertNodes merges nodes by label and id, one UNWIND batch per label
func (r *Repository) UpsertNodes(ctx context.Context, nodes []Node) error {
	byLabel := make(map[Label][]map[string]any)
	for _, n := range nodes {
		if !n.Label.Valid() {
			return fmt.Errorf("upsert node %s: unknown label %q", n.ID, n.Label)
		}
		attrs := n.Attrs
		if attrs == nil {
			attrs = map[string]any{}
		}
		byLabel[n.Label] = append(byLabel[n.Label], map[string]any{
			"id":    n.ID,
			"name":  n.Name,
			"attrs": attrs,
		})
	}

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	for _, label := range sortedLabels(byLabel) {
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MERGE (n:%s {id: row.id})
			ON CREATE SET n.name = row.id
			SET n.name = CASE WHEN row.name <> '' AND row.name <> row.id THEN row.name ELSE n.name END
			SET n += row.attrs
		`, "`"+string(label)+"`")

		for _, batch := range chunks(byLabel[label], batchSize) {
			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				res, err := tx.Run(ctx, query, map[string]any{"rows": batch})
				if err != nil {
					return nil, err
				}
				return res.Consume(ctx)
			})
			if err != nil {
				return apperrors.NewGraphQueryFailed("upsert "+string(label)+" nodes", err)
			}
		}
	}

	r.logger.Debug("Nodes upserted", zap.Int("count", len(nodes)))
	return nil
}

type edgeShape struct {
	source   Label
	relation Relation
	target   Label
}

// UpsertEdges merges edges grouped by (source label, relation, target label).
// MATCH on both endpoints means an edge to a missing node merges nothing.
func (r *Repository) UpsertEdges(ctx context.Context, edges []Edge) (int, error) {
	groups := make(map[edgeShape][]map[string]any)
	var order []edgeShape
	for _, e := range edges {
		if !e.SourceLabel.Valid() || !e.TargetLabel.Valid() || !e.Relation.Valid() {
			return 0, fmt.Errorf("upsert edge %s-[%s]->%s: unknown label or relation", e.Source, e.Relation, e.Target)
		}
		shape := edgeShape{source: e.SourceLabel, relation: e.Relation, target: e.TargetLabel}
		if _, ok := groups[shape]; !ok {
			order = append(order, shape)
		}
		groups[shape] = append(groups[shape], map[string]any{
			"source": e.Source,
			"target": e.Target,
			"props":  e.Properties(),
		})
	}

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	merged := 0
	for _, shape := range order {
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MATCH (a:%s {id: row.source})
			MATCH (b:%s {id: row.target})
			MERGE (a)-[r:%s]->(b)
			SET r += row.props
			RETURN count(r) AS merged
		`, "`"+string(shape.source)+"`", "`"+string(shape.target)+"`", "`"+string(shape.relation)+"`")

		for _, batch := range chunks(groups[shape], batchSize) {
			count, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				res, err := tx.Run(ctx, query, map[string]any{"rows": batch})
				if err != nil {
					return nil, err
				}
				rec, err := res.Single(ctx)
				if err != nil {
					return nil, err
				}
				return getIntFromRecord(rec, "merged"), nil
			})
			if err != nil {
				return merged, apperrors.NewGraphQueryFailed("upsert "+string(shape.relation)+" edges", err)
			}
			merged += count.(int)
		}
	}

	if skipped := len(edges) - merged; skipped > 0 {
		r.logger.Warn("Edges skipped (endpoint not found)",
			zap.Int("skipped", skipped),
			zap.Int("merged", merged),
		)
	}
	return merged, nil
}

// LinkStudentIdentity creates or updates a student with its LTI identity
func (r *Repository) LinkStudentIdentity(ctx context.Context, identity StudentIdentity) error {
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	query := `
		MERGE (s:Student {id: $id})
		ON CREATE SET s.name = $id
		SET s.name = CASE WHEN $name <> '' THEN $name ELSE s.name END,
		    s.lti_id = $ltiID
	`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"id":    identity.ID,
			"name":  identity.Name,
			"ltiID": identity.LTIID,
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("link student identity", err)
	}
	return nil
}

// Stats counts nodes and relationships
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	records, err := r.collect(ctx, "stats", `
		CALL { MATCH (n) RETURN count(n) AS nodes }
		CALL { MATCH ()-[rel]->() RETURN count(rel) AS rels }
		RETURN nodes, rels
	`, nil)
	if err != nil {
		return Stats{}, err
	}
	if len(records) == 0 {
		return Stats{}, nil
	}
	return Stats{
		Nodes:         getInt64FromRecord(records[0], "nodes"),
		Relationships: getInt64FromRecord(records[0], "rels"),
	}, nil
}

func sortedLabels(m map[Label][]map[string]any) []Label {
	labels := make([]Label, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
