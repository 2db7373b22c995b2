package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// Repository handles all Neo4j database operations for session knowledge
// graphs: entity nodes, similarity edges, and the three metric tiers.
type Repository struct {
	driver    neo4j.DriverWithContext
	dimension int
	logger    *zap.Logger
}

// NewRepository creates a new graph repository. dimension is the embedding
// vector length enforced on every entity write.
func NewRepository(driver neo4j.DriverWithContext, dimension int) *Repository {
	return &Repository{
		driver:    driver,
		dimension: dimension,
		logger:    logger.Get(),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// executeRead runs a read query and collects all records
func (r *Repository) executeRead(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// executeWrite runs a write query inside a managed transaction and collects
// all records
func (r *Repository) executeWrite(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}
