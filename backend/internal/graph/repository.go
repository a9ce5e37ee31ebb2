package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"edukg/backend/pkg/config"
	apperrors "edukg/backend/pkg/errors"
	"edukg/backend/pkg/logger"
)

// batchSize bounds the rows sent in one UNWIND statement
const batchSize = 500

// Repository is the Neo4j implementation of Store
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph"),
	}
}

// Connect opens a driver from configuration and verifies connectivity.
func Connect(ctx context.Context, cfg *config.Config) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		func(c *neo4j.Config) {
			c.SocketConnectTimeout = 10 * time.Second
		},
	)
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)
	}

	return NewRepository(driver, cfg.Neo4jDatabase), nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema creates the per-label id uniqueness constraints. Failures are
// logged and skipped; the constraints only speed up MERGE.
func (r *Repository) EnsureSchema(ctx context.Context) {
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	for _, label := range Labels {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:`%s`) REQUIRE n.id IS UNIQUE",
			lowerLabel(label), label,
		)
		res, err := session.Run(ctx, query, nil)
		if err != nil {
			r.logger.Warn("Schema constraint failed (continuing)",
				zap.String("label", string(label)),
				zap.Error(err),
			)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func (r *Repository) readSession(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.database,
	})
}

func (r *Repository) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: r.database,
	})
}

// collect runs a read query and returns every record
func (r *Repository) collect(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.readSession(ctx)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed(operation, err)
	}
	return records.([]*neo4j.Record), nil
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
