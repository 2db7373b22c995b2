package graph

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

// Tier 1: weighted degree. Recomputed synchronously after edge creation.

// UpdateWeightedDegree recomputes a node's weighted degree as the sum of
// similarity scores over all currently incident edges. It is a full
// recompute, never an increment, which makes it safe to call redundantly or
// from concurrent pipeline invocations without coordination.
func (r *Repository) UpdateWeightedDegree(ctx context.Context, sessionID, nodeID string) (float64, error) {
	query := `
		MATCH (e:Entity {session_id: $session_id, node_id: $node_id})
		OPTIONAL MATCH (e)-[rel:SIMILAR_TO]-()
		WITH e, sum(rel.similarity_score) AS weighted_degree
		SET e.weighted_degree = coalesce(weighted_degree, 0.0),
			e.metrics_updated_at = datetime()
		RETURN e.weighted_degree AS weighted_degree
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"session_id": sessionID,
		"node_id":    nodeID,
	})
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("update_weighted_degree", err)
	}
	if len(records) == 0 {
		return 0, apperrors.NewEntityNotFound(sessionID, nodeID)
	}
	return getFloat64FromRecord(records[0], "weighted_degree"), nil
}

// BatchUpdateWeightedDegree recomputes weighted degree for every node in a
// session. Repair/backfill path, not the hot path.
func (r *Repository) BatchUpdateWeightedDegree(ctx context.Context, sessionID string) (int64, error) {
	query := `
		MATCH (e:Entity {session_id: $session_id})
		OPTIONAL MATCH (e)-[rel:SIMILAR_TO]-()
		WITH e, sum(rel.similarity_score) AS weighted_degree
		SET e.weighted_degree = coalesce(weighted_degree, 0.0),
			e.metrics_updated_at = datetime()
		RETURN count(e) AS updated_count
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("batch_update_weighted_degree", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return getInt64FromRecord(records[0], "updated_count"), nil
}

// Tier 2: PageRank via GDS streaming mode. Streaming avoids projection
// create/drop overhead and always reads the current graph state, so
// concurrent ingestion never races a stale projection.

// UpdatePageRank recomputes pagerank for a session's entities and writes the
// scores back. A cold run (no seed, more iterations) pays full convergence
// cost once; warm runs seed from the stored pagerank property and need only a
// few iterations to absorb incremental graph changes.
func (r *Repository) UpdatePageRank(ctx context.Context, sessionID string, opts PageRankOptions) (int64, error) {
	query := `
		CALL gds.pageRank.stream({
			nodeQuery: "MATCH (n:Entity {session_id: $session_id}) RETURN id(n) AS id",
			relationshipQuery: "
				MATCH (source:Entity {session_id: $session_id})-[r:SIMILAR_TO]-(target:Entity)
				RETURN id(source) AS source, id(target) AS target, r.similarity_score AS weight
			",
			seedProperty: $seed_property,
			relationshipWeightProperty: 'weight',
			dampingFactor: 0.85,
			maxIterations: $max_iterations,
			tolerance: 0.0001
		})
		YIELD nodeId, score

		MATCH (e:Entity) WHERE id(e) = nodeId
		SET e.pagerank = score,
			e.metrics_updated_at = datetime()

		RETURN count(*) AS updated_count
	`

	var seedProperty interface{}
	if opts.Seeded {
		seedProperty = "pagerank"
	}

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"session_id":     sessionID,
		"seed_property":  seedProperty,
		"max_iterations": opts.MaxIterations,
	})
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("update_pagerank", err)
	}

	var updated int64
	if len(records) > 0 {
		updated = getInt64FromRecord(records[0], "updated_count")
	}
	r.logger.Info("PageRank updated",
		zap.String("session_id", sessionID),
		zap.Int("iterations", opts.MaxIterations),
		zap.Bool("seeded", opts.Seeded),
		zap.Int64("nodes", updated),
	)
	return updated, nil
}

// Tier 3: betweenness centrality via GDS streaming mode. Identifies bridge
// entities connecting otherwise separate topic/emotion clusters. No warm
// start; the underlying algorithm does not support seeding.

// UpdateBetweenness recomputes betweenness centrality on the full current
// session graph and writes the scores back.
func (r *Repository) UpdateBetweenness(ctx context.Context, sessionID string) (int64, error) {
	query := `
		CALL gds.betweenness.stream({
			nodeQuery: "MATCH (n:Entity {session_id: $session_id}) RETURN id(n) AS id",
			relationshipQuery: "
				MATCH (source:Entity {session_id: $session_id})-[r:SIMILAR_TO]-(target:Entity)
				RETURN id(source) AS source, id(target) AS target
			"
		})
		YIELD nodeId, score

		MATCH (e:Entity) WHERE id(e) = nodeId
		SET e.betweenness = score,
			e.metrics_updated_at = datetime()

		RETURN count(*) AS updated_count
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("update_betweenness", err)
	}

	var updated int64
	if len(records) > 0 {
		updated = getInt64FromRecord(records[0], "updated_count")
	}
	r.logger.Info("Betweenness updated",
		zap.String("session_id", sessionID),
		zap.Int64("nodes", updated),
	)
	return updated, nil
}
