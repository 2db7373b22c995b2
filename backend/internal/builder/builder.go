package builder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TonyStef/Dimini/backend/internal/adapter"
	"github.com/TonyStef/Dimini/backend/internal/graph"
	"github.com/TonyStef/Dimini/backend/internal/linker"
	"github.com/TonyStef/Dimini/backend/internal/realtime"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// Processing result statuses
const (
	StatusSuccess    = "success"
	StatusNoEntities = "no_entities_found"
	StatusError      = "error"
)

// Processing phase statuses broadcast while a fragment is in flight
const (
	PhaseExtracting = "extracting"
	PhaseEmbedding  = "embedding"
	PhaseLinking    = "linking"
	PhaseCompleted  = "completed"
)

// Extractor extracts candidate entities from a transcript fragment
type Extractor interface {
	Extract(ctx context.Context, fragment string) (*adapter.EntityExtractionResult, error)
}

// Embedder generates embedding vectors for entity labels
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) (map[string][]float64, error)
}

// Store is the graph persistence surface the pipeline writes through
type Store interface {
	GetSessionEntities(ctx context.Context, sessionID string) ([]*graph.Entity, error)
	CreateOrUpdateEntity(ctx context.Context, sessionID, nodeID string, nodeType graph.NodeType, label string, embedding []float64, entityContext string) (*graph.Entity, error)
	CreateSimilarityEdge(ctx context.Context, sessionID, sourceID, targetID string, score float64) (*graph.SimilarityEdge, bool, error)
	UpdateWeightedDegree(ctx context.Context, sessionID, nodeID string) (float64, error)
}

// ProcessingResult summarizes one pipeline invocation. Failures are encoded
// in Status/Error rather than raised, so a caller always gets the partial
// results accumulated before the failure.
type ProcessingResult struct {
	NodesAdded []realtime.NodePayload `json:"nodes_added"`
	EdgesAdded []realtime.EdgePayload `json:"edges_added"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
}

// Builder runs the extraction -> embedding -> linking pipeline that turns a
// transcript fragment into idempotent graph mutations. One invocation emits
// at most one batched graph update, regardless of how many nodes and edges
// it touches.
type Builder struct {
	extractor   Extractor
	embedder    Embedder
	store       Store
	linker      *linker.Linker
	broadcaster realtime.Broadcaster
	logger      *zap.Logger
}

// New creates a graph builder
func New(extractor Extractor, embedder Embedder, store Store, lnk *linker.Linker, broadcaster realtime.Broadcaster) *Builder {
	return &Builder{
		extractor:   extractor,
		embedder:    embedder,
		store:       store,
		linker:      lnk,
		broadcaster: broadcaster,
		logger:      logger.Get(),
	}
}

// Process ingests one transcript fragment into the session graph. It never
// returns an error: pipeline failures degrade to Status=error with whatever
// partial results were accumulated, plus an error broadcast to subscribers.
func (b *Builder) Process(ctx context.Context, sessionID, fragment string) (res *ProcessingResult) {
	res = &ProcessingResult{
		NodesAdded: []realtime.NodePayload{},
		EdgesAdded: []realtime.EdgePayload{},
		Status:     StatusSuccess,
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Pipeline panic",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
			)
			res.Status = StatusError
			res.Error = fmt.Sprintf("unexpected pipeline failure: %v", r)
			b.broadcastStatus(ctx, sessionID, StatusError, res.Error)
		}
	}()

	if err := b.run(ctx, sessionID, fragment, res); err != nil {
		b.logger.Error("Pipeline failed",
			zap.String("session_id", sessionID),
			zap.Int("nodes_added", len(res.NodesAdded)),
			zap.Int("edges_added", len(res.EdgesAdded)),
			zap.Error(err),
		)
		res.Status = StatusError
		res.Error = err.Error()
		b.broadcastStatus(ctx, sessionID, StatusError, err.Error())
	}
	return res
}

func (b *Builder) run(ctx context.Context, sessionID, fragment string, res *ProcessingResult) error {
	b.broadcastStatus(ctx, sessionID, PhaseExtracting, "")
	extraction, err := b.extractor.Extract(ctx, fragment)
	if err != nil {
		return err
	}
	if extraction == nil || len(extraction.Entities) == 0 {
		res.Status = StatusNoEntities
		b.logger.Info("No entities found in fragment",
			zap.String("session_id", sessionID),
		)
		return nil
	}

	// Snapshot the session once; the linker compares new entities against
	// this plus each other, not against re-reads.
	existing, err := b.store.GetSessionEntities(ctx, sessionID)
	if err != nil {
		return err
	}

	b.broadcastStatus(ctx, sessionID, PhaseEmbedding, "")
	labels := make([]string, 0, len(extraction.Entities))
	for _, ent := range extraction.Entities {
		labels = append(labels, ent.Label)
	}
	vectors, err := b.embedder.EmbedBatch(ctx, labels)
	if err != nil {
		return err
	}

	// Upsert every extracted entity. Entities the provider returned no
	// vector for are skipped with a warning; a dimension mismatch aborts
	// the whole invocation.
	upserted := make([]*graph.Entity, len(extraction.Entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ent := range extraction.Entities {
		i, ent := i, ent
		g.Go(func() error {
			embedding, ok := vectors[ent.Label]
			if !ok {
				b.logger.Warn("Skipping entity without embedding",
					zap.String("session_id", sessionID),
					zap.String("node_id", ent.NodeID),
				)
				return nil
			}
			entity, upsertErr := b.store.CreateOrUpdateEntity(gctx, sessionID,
				ent.NodeID, graph.ParseNodeType(ent.NodeType), ent.Label, embedding, ent.Context)
			if upsertErr != nil {
				return upsertErr
			}
			upserted[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.broadcastStatus(ctx, sessionID, PhaseLinking, "")
	nodes := make([]linker.Node, 0, len(existing)+len(upserted))
	seen := make(map[string]bool, len(existing))
	for _, entity := range existing {
		nodes = append(nodes, linker.Node{NodeID: entity.NodeID, Embedding: entity.Embedding})
		seen[entity.NodeID] = true
	}
	for _, entity := range upserted {
		if entity == nil || seen[entity.NodeID] {
			continue
		}
		nodes = append(nodes, linker.Node{NodeID: entity.NodeID, Embedding: entity.Embedding})
		seen[entity.NodeID] = true
	}

	// Merge every qualifying pair; the store dedups, so only relationships
	// created by this call count as added. A single failed edge is logged
	// and skipped rather than failing the invocation.
	endpoints := make(map[string]bool)
	for _, pair := range b.linker.CalculateAllSimilarities(nodes) {
		edge, created, edgeErr := b.store.CreateSimilarityEdge(ctx, sessionID, pair.SourceID, pair.TargetID, pair.Score)
		if edgeErr != nil {
			b.logger.Warn("Edge merge failed",
				zap.String("session_id", sessionID),
				zap.String("source", pair.SourceID),
				zap.String("target", pair.TargetID),
				zap.Error(edgeErr),
			)
			continue
		}
		if !created {
			continue
		}
		res.EdgesAdded = append(res.EdgesAdded, realtime.EdgePayload{
			Source:     edge.SourceNodeID,
			Target:     edge.TargetNodeID,
			Similarity: edge.SimilarityScore,
		})
		endpoints[pair.SourceID] = true
		endpoints[pair.TargetID] = true
	}

	// Tier-1 refresh: recompute weighted degree once per touched endpoint
	degrees := make(map[string]float64, len(endpoints))
	for nodeID := range endpoints {
		degree, degErr := b.store.UpdateWeightedDegree(ctx, sessionID, nodeID)
		if degErr != nil {
			b.logger.Warn("Weighted degree refresh failed",
				zap.String("session_id", sessionID),
				zap.String("node_id", nodeID),
				zap.Error(degErr),
			)
			continue
		}
		degrees[nodeID] = degree
	}

	for _, entity := range upserted {
		if entity == nil {
			continue
		}
		payload := nodePayload(entity)
		if degree, ok := degrees[entity.NodeID]; ok {
			payload.WeightedDegree = degree
		}
		res.NodesAdded = append(res.NodesAdded, payload)
	}

	// One batched update per invocation, no matter how much changed
	update := realtime.GraphBatchUpdate{
		Nodes:   res.NodesAdded,
		Edges:   res.EdgesAdded,
		Status:  PhaseCompleted,
		Message: fmt.Sprintf("%d nodes, %d edges added", len(res.NodesAdded), len(res.EdgesAdded)),
	}
	if err := b.broadcaster.BroadcastGraphBatchUpdate(ctx, sessionID, update); err != nil {
		b.logger.Warn("Batch update broadcast failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	b.logger.Info("Fragment processed",
		zap.String("session_id", sessionID),
		zap.Int("nodes_added", len(res.NodesAdded)),
		zap.Int("edges_added", len(res.EdgesAdded)),
	)
	return nil
}

func (b *Builder) broadcastStatus(ctx context.Context, sessionID, status, message string) {
	if err := b.broadcaster.BroadcastProcessingStatus(ctx, sessionID, status, message); err != nil {
		b.logger.Warn("Processing status broadcast failed",
			zap.String("session_id", sessionID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

func nodePayload(entity *graph.Entity) realtime.NodePayload {
	return realtime.NodePayload{
		NodeID:         entity.NodeID,
		Label:          entity.Label,
		Type:           strings.ToLower(string(entity.NodeType)),
		MentionCount:   entity.MentionCount,
		WeightedDegree: entity.WeightedDegree,
		PageRank:       entity.PageRank,
		Betweenness:    entity.Betweenness,
	}
}
