package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "edukg/backend/pkg/errors"
)

// ============================================================================
// Embedding Operations
// ============================================================================

// StudentEmbedding fetches a student's embedding and freshness marker
func (r *Repository) StudentEmbedding(ctx context.Context, studentID string) (*StudentVector, error) {
	records, err := r.collect(ctx, "fetch student embedding", `
		MATCH (s:Student {id: $id})
		RETURN s.embedding AS embedding,
		       s.embedding_computed_at AS computed_at,
		       s.embedding_cycle AS cycle
	`, map[string]any{"id": studentID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	vec := getVectorFromRecord(records[0], "embedding")
	if len(vec) == 0 {
		return nil, nil
	}
	return &StudentVector{
		StudentID:  studentID,
		Embedding:  vec,
		ComputedAt: getTimeFromRecord(records[0], "computed_at"),
		CycleID:    getStringFromRecord(records[0], "cycle"),
	}, nil
}

// ModuleEmbeddings fetches every module that carries an embedding
func (r *Repository) ModuleEmbeddings(ctx context.Context) (map[string][]float64, error) {
	records, err := r.collect(ctx, "fetch module embeddings", `
		MATCH (m:Module)
		WHERE m.embedding IS NOT NULL
		RETURN m.id AS id, m.embedding AS embedding
	`, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]float64, len(records))
	for _, rec := range records {
		if vec := getVectorFromRecord(rec, "embedding"); len(vec) > 0 {
			out[getStringFromRecord(rec, "id")] = vec
		}
	}
	return out, nil
}

// SetModuleEmbeddings writes embeddings onto existing modules
func (r *Repository) SetModuleEmbeddings(ctx context.Context, vectors map[string][]float64, model string) (int, error) {
	rows := make([]map[string]any, 0, len(vectors))
	for _, id := range sortedKeys(vectors) {
		rows = append(rows, map[string]any{"id": id, "embedding": vectors[id]})
	}

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	updated := 0
	for _, batch := range chunks(rows, batchSize) {
		count, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, `
				UNWIND $rows AS row
				MATCH (m:Module {id: row.id})
				SET m.embedding = row.embedding, m.embedding_model = $model
				RETURN count(m) AS updated
			`, map[string]any{"rows": batch, "model": model})
			if err != nil {
				return nil, err
			}
			rec, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			return getIntFromRecord(rec, "updated"), nil
		})
		if err != nil {
			return updated, apperrors.NewGraphQueryFailed("set module embeddings", err)
		}
		updated += count.(int)
	}
	return updated, nil
}

// ReplaceStudentEmbeddings performs the write-all embedding refresh in one transaction
func (r *Repository) ReplaceStudentEmbeddings(ctx context.Context, vectors map[string][]float64, computedAt time.Time, cycleID string) error {
	ids := sortedKeys(vectors)
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{"id": id, "embedding": vectors[id]})
	}
	stamp := computedAt.UTC().Format(time.RFC3339Nano)

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (s:Student)
			WHERE NOT s.id IN $ids
			REMOVE s.embedding
			SET s.embedding_computed_at = $computedAt, s.embedding_cycle = $cycle
		`, map[string]any{"ids": ids, "computedAt": stamp, "cycle": cycleID})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
			UNWIND $rows AS row
			MATCH (s:Student {id: row.id})
			SET s.embedding = row.embedding,
			    s.embedding_computed_at = $computedAt,
			    s.embedding_cycle = $cycle
		`, map[string]any{"rows": rows, "computedAt": stamp, "cycle": cycleID})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("replace student embeddings", err)
	}

	r.logger.Info("Student embeddings replaced",
		zap.Int("updated", len(rows)),
		zap.String("cycle", cycleID),
	)
	return nil
}
