package builder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/internal/graph"
	"github.com/TonyStef/Dimini/backend/internal/linker"
	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

// Tool-call ingestion: clinical notes, flagged concerns, and progress
// milestones feed the same merge path as transcript fragments, so a
// re-flagged concern increments mention_count instead of duplicating the
// node. These run in the background after the tool handler responds and do
// not broadcast.

// concernEmotions maps a concern type to the emotion it typically signals
var concernEmotions = map[string]string{
	"emotional_distress": "Distress",
	"risk_behavior":      "Fear",
	"deterioration":      "Sadness",
	"crisis_indicator":   "Panic",
}

// progressTopics maps a progress milestone type to its topic label
var progressTopics = map[string]string{
	"emotional_regulation": "Emotional Control",
	"insight_gained":       "Self-Awareness",
	"behavioral_change":    "Behavior Change",
	"coping_skill":         "Coping Strategies",
}

// ProcessNote extracts entities from a session note and merges them into the
// graph. Category is "insight", "observation", "concern", or "progress" and
// only flavors the stored context.
func (b *Builder) ProcessNote(ctx context.Context, sessionID, category, content string) error {
	extraction, err := b.extractor.Extract(ctx, content)
	if err != nil {
		return err
	}
	if extraction == nil || len(extraction.Entities) == 0 {
		b.logger.Info("No entities extracted from note",
			zap.String("session_id", sessionID),
			zap.String("category", category),
		)
		return nil
	}

	labels := make([]string, 0, len(extraction.Entities))
	for _, ent := range extraction.Entities {
		labels = append(labels, ent.Label)
	}
	vectors, err := b.embedder.EmbedBatch(ctx, labels)
	if err != nil {
		return err
	}

	existing, err := b.existingNodes(ctx, sessionID)
	if err != nil {
		return err
	}

	entityContext := fmt.Sprintf("From %s note: %s", category, truncate(content, 100))
	for _, ent := range extraction.Entities {
		embedding, ok := vectors[ent.Label]
		if !ok {
			b.logger.Warn("Skipping note entity without embedding",
				zap.String("session_id", sessionID),
				zap.String("node_id", ent.NodeID),
			)
			continue
		}
		if err := b.ingestEntity(ctx, sessionID, ent.NodeID,
			graph.ParseNodeType(ent.NodeType), ent.Label, embedding, entityContext, &existing); err != nil {
			return err
		}
	}

	b.logger.Info("Note ingested into graph",
		zap.String("session_id", sessionID),
		zap.String("category", category),
		zap.Int("entities", len(extraction.Entities)),
	)
	return nil
}

// ProcessConcern records a flagged clinical concern as an EMOTION node, with
// the severity kept in the node context
func (b *Builder) ProcessConcern(ctx context.Context, sessionID, concernType, severity, description string) error {
	label, ok := concernEmotions[concernType]
	if !ok {
		label = titleize(concernType)
	}
	nodeID := "concern_" + concernType
	entityContext := fmt.Sprintf("Flagged concern: %s severity - %s", severity, truncate(description, 100))
	return b.ingestSingle(ctx, sessionID, nodeID, graph.NodeTypeEmotion, label, entityContext)
}

// ProcessProgress records a progress milestone as a TOPIC node
func (b *Builder) ProcessProgress(ctx context.Context, sessionID, progressType, description string) error {
	label, ok := progressTopics[progressType]
	if !ok {
		label = titleize(progressType)
	}
	nodeID := "progress_" + progressType
	entityContext := "Progress milestone: " + truncate(description, 100)
	return b.ingestSingle(ctx, sessionID, nodeID, graph.NodeTypeTopic, label, entityContext)
}

func (b *Builder) ingestSingle(ctx context.Context, sessionID, nodeID string, nodeType graph.NodeType, label, entityContext string) error {
	embedding, err := b.embedder.Embed(ctx, label)
	if err != nil {
		return err
	}

	existing, err := b.existingNodes(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := b.ingestEntity(ctx, sessionID, nodeID, nodeType, label, embedding, entityContext, &existing); err != nil {
		return err
	}

	b.logger.Info("Tagged entity ingested into graph",
		zap.String("session_id", sessionID),
		zap.String("node_id", nodeID),
		zap.String("label", label),
	)
	return nil
}

// ingestEntity upserts one entity, links it against the running snapshot,
// refreshes weighted degrees for new edges, and appends it to the snapshot so
// later entities in the same call can link to it. Non-retryable failures
// (validation) propagate; transient store failures are logged and skipped,
// since the next mention merges into the same node anyway.
func (b *Builder) ingestEntity(ctx context.Context, sessionID, nodeID string, nodeType graph.NodeType, label string, embedding []float64, entityContext string, existing *[]linker.Node) error {
	entity, err := b.store.CreateOrUpdateEntity(ctx, sessionID, nodeID, nodeType, label, embedding, entityContext)
	if err != nil {
		if !apperrors.IsRetryable(err) {
			return err
		}
		b.logger.Warn("Entity upsert failed",
			zap.String("session_id", sessionID),
			zap.String("node_id", nodeID),
			zap.Error(err),
		)
		return nil
	}

	node := linker.Node{NodeID: entity.NodeID, Embedding: embedding}
	for _, match := range b.linker.FindRelatedNodes(node, *existing) {
		_, created, edgeErr := b.store.CreateSimilarityEdge(ctx, sessionID, entity.NodeID, match.NodeID, match.Score)
		if edgeErr != nil {
			b.logger.Warn("Edge merge failed",
				zap.String("session_id", sessionID),
				zap.String("source", entity.NodeID),
				zap.String("target", match.NodeID),
				zap.Error(edgeErr),
			)
			continue
		}
		if !created {
			continue
		}
		for _, endpoint := range []string{entity.NodeID, match.NodeID} {
			if _, degErr := b.store.UpdateWeightedDegree(ctx, sessionID, endpoint); degErr != nil {
				b.logger.Warn("Weighted degree refresh failed",
					zap.String("session_id", sessionID),
					zap.String("node_id", endpoint),
					zap.Error(degErr),
				)
			}
		}
	}

	*existing = append(*existing, node)
	return nil
}

func (b *Builder) existingNodes(ctx context.Context, sessionID string) ([]linker.Node, error) {
	entities, err := b.store.GetSessionEntities(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	nodes := make([]linker.Node, 0, len(entities))
	for _, entity := range entities {
		nodes = append(nodes, linker.Node{NodeID: entity.NodeID, Embedding: entity.Embedding})
	}
	return nodes, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func titleize(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
