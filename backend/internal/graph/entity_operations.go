package graph

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

// CreateOrUpdateEntity creates an entity node or increments its mention count
// if it already exists. MERGE keyed on (session_id, node_id) makes the upsert
// idempotent under concurrent pipeline invocations: a second create never
// overwrites embedding, label, or timestamps.
func (r *Repository) CreateOrUpdateEntity(ctx context.Context, sessionID, nodeID string, nodeType NodeType, label string, embedding []float64, entityContext string) (*Entity, error) {
	if len(embedding) != r.dimension {
		return nil, apperrors.NewEmbeddingDimension(nodeID, len(embedding), r.dimension)
	}

	query := `
		MERGE (e:Entity {session_id: $session_id, node_id: $node_id})
		ON CREATE SET
			e.node_type = $node_type,
			e.label = $label,
			e.embedding = $embedding,
			e.mention_count = 1,
			e.first_mentioned_at = datetime(),
			e.created_at = datetime(),
			e.context = $context,
			e.weighted_degree = 0.0,
			e.pagerank = $pagerank_seed,
			e.betweenness = 0.0,
			e.metrics_updated_at = datetime()
		ON MATCH SET
			e.mention_count = e.mention_count + 1,
			e.context = coalesce($context, e.context)
		RETURN e.session_id AS session_id,
		       e.node_id AS node_id,
		       e.node_type AS node_type,
		       e.label AS label,
		       e.mention_count AS mention_count,
		       e.context AS context,
		       e.weighted_degree AS weighted_degree,
		       e.pagerank AS pagerank,
		       e.betweenness AS betweenness,
		       e.first_mentioned_at AS first_mentioned_at,
		       e.created_at AS created_at,
		       e.metrics_updated_at AS metrics_updated_at
	`

	var contextParam interface{}
	if entityContext != "" {
		contextParam = entityContext
	}

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"session_id":    sessionID,
		"node_id":       nodeID,
		"node_type":     string(nodeType),
		"label":         label,
		"embedding":     embedding,
		"context":       contextParam,
		"pagerank_seed": PageRankSeed,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("create_or_update_entity", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewGraphQueryFailed("create_or_update_entity", nil)
	}

	entity := entityFromRecord(records[0])
	entity.Embedding = embedding

	r.logger.Debug("Entity upserted",
		zap.String("session_id", sessionID),
		zap.String("node_id", nodeID),
		zap.Int64("mention_count", entity.MentionCount),
	)
	return entity, nil
}

// GetSessionEntities returns all entities for a session with their metrics,
// sorted by pagerank descending (most important first).
func (r *Repository) GetSessionEntities(ctx context.Context, sessionID string) ([]*Entity, error) {
	query := `
		MATCH (e:Entity {session_id: $session_id})
		RETURN e.session_id AS session_id,
		       e.node_id AS node_id,
		       e.node_type AS node_type,
		       e.label AS label,
		       e.embedding AS embedding,
		       e.mention_count AS mention_count,
		       e.context AS context,
		       e.weighted_degree AS weighted_degree,
		       e.pagerank AS pagerank,
		       e.betweenness AS betweenness,
		       e.first_mentioned_at AS first_mentioned_at,
		       e.created_at AS created_at,
		       e.metrics_updated_at AS metrics_updated_at
		ORDER BY e.pagerank DESC
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get_session_entities", err)
	}

	entities := make([]*Entity, 0, len(records))
	for _, record := range records {
		entities = append(entities, entityFromRecord(record))
	}
	return entities, nil
}

// GetEntityByID returns a specific entity, or ErrEntityNotFound
func (r *Repository) GetEntityByID(ctx context.Context, sessionID, nodeID string) (*Entity, error) {
	query := `
		MATCH (e:Entity {session_id: $session_id, node_id: $node_id})
		RETURN e.session_id AS session_id,
		       e.node_id AS node_id,
		       e.node_type AS node_type,
		       e.label AS label,
		       e.embedding AS embedding,
		       e.mention_count AS mention_count,
		       e.context AS context,
		       e.weighted_degree AS weighted_degree,
		       e.pagerank AS pagerank,
		       e.betweenness AS betweenness,
		       e.first_mentioned_at AS first_mentioned_at,
		       e.created_at AS created_at,
		       e.metrics_updated_at AS metrics_updated_at
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{
		"session_id": sessionID,
		"node_id":    nodeID,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get_entity_by_id", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewEntityNotFound(sessionID, nodeID)
	}
	return entityFromRecord(records[0]), nil
}

// MetricsUpdatedAt returns the freshest metrics timestamp across a session's
// entities. Downstream consumers use it to label metric staleness per tier.
func (r *Repository) MetricsUpdatedAt(ctx context.Context, sessionID string) (time.Time, error) {
	query := `
		MATCH (e:Entity {session_id: $session_id})
		RETURN max(e.metrics_updated_at) AS metrics_updated_at
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return time.Time{}, apperrors.NewGraphQueryFailed("metrics_updated_at", err)
	}
	if len(records) == 0 {
		return time.Time{}, nil
	}
	return getTimeFromRecord(records[0], "metrics_updated_at"), nil
}
