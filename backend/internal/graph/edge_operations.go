package graph

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

// CreateSimilarityEdge creates an undirected SIMILAR_TO relationship between
// two entities in the same session. The MERGE is direction-agnostic, so a
// second creation attempt in either orientation is a no-op and the original
// score is kept. The boolean result reports whether this call created the
// relationship. Both endpoints must already exist; self-loops are rejected.
func (r *Repository) CreateSimilarityEdge(ctx context.Context, sessionID, sourceID, targetID string, score float64) (*SimilarityEdge, bool, error) {
	if sourceID == targetID {
		return nil, false, apperrors.NewBaseError(apperrors.ErrorTypeValidation, "self-loop edges are not allowed", nil)
	}

	query := `
		MATCH (source:Entity {session_id: $session_id, node_id: $source_id})
		MATCH (target:Entity {session_id: $session_id, node_id: $target_id})
		MERGE (source)-[rel:SIMILAR_TO]-(target)
		ON CREATE SET
			rel.similarity_score = $similarity_score,
			rel.created_at = datetime(),
			rel.was_created = true
		ON MATCH SET
			rel.was_created = false
		RETURN source.node_id AS source_node_id,
		       target.node_id AS target_node_id,
		       rel.similarity_score AS similarity_score,
		       rel.created_at AS created_at,
		       rel.was_created AS was_created
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"session_id":       sessionID,
		"source_id":        sourceID,
		"target_id":        targetID,
		"similarity_score": score,
	})
	if err != nil {
		return nil, false, apperrors.NewGraphQueryFailed("create_similarity_edge", err)
	}
	if len(records) == 0 {
		// One or both endpoints missing
		return nil, false, apperrors.NewEntityNotFound(sessionID, sourceID+"|"+targetID)
	}

	record := records[0]
	edge := &SimilarityEdge{
		SessionID:       sessionID,
		SourceNodeID:    getStringFromRecord(record, "source_node_id"),
		TargetNodeID:    getStringFromRecord(record, "target_node_id"),
		SimilarityScore: getFloat64FromRecord(record, "similarity_score"),
		CreatedAt:       getTimeFromRecord(record, "created_at"),
	}
	created := getBoolFromRecord(record, "was_created")

	r.logger.Debug("Similarity edge merged",
		zap.String("session_id", sessionID),
		zap.String("source", sourceID),
		zap.String("target", targetID),
		zap.Float64("score", edge.SimilarityScore),
		zap.Bool("created", created),
	)
	return edge, created, nil
}

// GetSessionEdges returns all similarity edges for a session, strongest first
func (r *Repository) GetSessionEdges(ctx context.Context, sessionID string) ([]*SimilarityEdge, error) {
	query := `
		MATCH (source:Entity {session_id: $session_id})-[rel:SIMILAR_TO]->(target:Entity)
		RETURN source.node_id AS source_node_id,
		       target.node_id AS target_node_id,
		       rel.similarity_score AS similarity_score,
		       rel.created_at AS created_at
		ORDER BY rel.similarity_score DESC
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{"session_id": sessionID})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get_session_edges", err)
	}

	edges := make([]*SimilarityEdge, 0, len(records))
	for _, record := range records {
		edges = append(edges, &SimilarityEdge{
			SessionID:       sessionID,
			SourceNodeID:    getStringFromRecord(record, "source_node_id"),
			TargetNodeID:    getStringFromRecord(record, "target_node_id"),
			SimilarityScore: getFloat64FromRecord(record, "similarity_score"),
			CreatedAt:       getTimeFromRecord(record, "created_at"),
		})
	}
	return edges, nil
}
