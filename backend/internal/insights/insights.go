package insights

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/internal/graph"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// topN caps the entity and connection lists in quick insights
const topN = 5

// Store is the graph read surface insights are derived from
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*graph.Session, error)
	GetSessionEntities(ctx context.Context, sessionID string) ([]*graph.Entity, error)
	GetSessionEdges(ctx context.Context, sessionID string) ([]*graph.SimilarityEdge, error)
	MetricsUpdatedAt(ctx context.Context, sessionID string) (time.Time, error)
}

// Summarizer generates a clinical summary from a transcript plus the graph's
// dominant topics and emotions
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, topics, emotions []string) (string, error)
}

// TopEntity is one ranked entity in the quick insights view
type TopEntity struct {
	NodeID       string  `json:"node_id"`
	Label        string  `json:"label"`
	MentionCount int64   `json:"mention_count"`
	PageRank     float64 `json:"pagerank"`
}

// Connection is one similarity edge with resolved labels
type Connection struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	SourceLabel string  `json:"source_label"`
	TargetLabel string  `json:"target_label"`
	Similarity  float64 `json:"similarity"`
}

// QuickInsights is the derived at-a-glance view of a session graph
type QuickInsights struct {
	SessionID            string       `json:"session_id"`
	NodeCount            int          `json:"node_count"`
	EdgeCount            int          `json:"edge_count"`
	TopTopics            []TopEntity  `json:"top_topics"`
	TopEmotions          []TopEntity  `json:"top_emotions"`
	StrongestConnections []Connection `json:"strongest_connections"`
	MetricsUpdatedAt     time.Time    `json:"metrics_updated_at"`
}

// Freshness reports how stale each background metric tier is. A tier is
// stale when its last update is older than two tick intervals, which allows
// one missed tick before flagging.
type Freshness struct {
	SessionID        string    `json:"session_id"`
	MetricsUpdatedAt time.Time `json:"metrics_updated_at"`
	PageRankStale    bool      `json:"pagerank_stale"`
	BetweennessStale bool      `json:"betweenness_stale"`
}

// Service derives insight views from the session graph. All reads; the graph
// itself is never mutated here.
type Service struct {
	store               Store
	summarizer          Summarizer
	pagerankInterval    time.Duration
	betweennessInterval time.Duration
	logger              *zap.Logger

	// injectable for freshness tests
	now func() time.Time
}

// NewService creates an insights service. The tick intervals are the ones
// the metrics scheduler runs with; freshness is judged against them.
func NewService(store Store, summarizer Summarizer, pagerankInterval, betweennessInterval time.Duration) *Service {
	return &Service{
		store:               store,
		summarizer:          summarizer,
		pagerankInterval:    pagerankInterval,
		betweennessInterval: betweennessInterval,
		logger:              logger.Get(),
		now:                 time.Now,
	}
}

// QuickInsights returns the at-a-glance view: counts, top topics and
// emotions by mention count, and the strongest connections with labels
func (s *Service) QuickInsights(ctx context.Context, sessionID string) (*QuickInsights, error) {
	entities, err := s.store.GetSessionEntities(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.GetSessionEdges(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	updatedAt, err := s.store.MetricsUpdatedAt(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(entities))
	var topics, emotions []*graph.Entity
	for _, entity := range entities {
		labels[entity.NodeID] = entity.Label
		switch entity.NodeType {
		case graph.NodeTypeEmotion:
			emotions = append(emotions, entity)
		default:
			topics = append(topics, entity)
		}
	}

	connections := make([]Connection, 0, min(topN, len(edges)))
	// GetSessionEdges returns strongest first
	for _, edge := range edges {
		if len(connections) == topN {
			break
		}
		connections = append(connections, Connection{
			Source:      edge.SourceNodeID,
			Target:      edge.TargetNodeID,
			SourceLabel: labels[edge.SourceNodeID],
			TargetLabel: labels[edge.TargetNodeID],
			Similarity:  edge.SimilarityScore,
		})
	}

	return &QuickInsights{
		SessionID:            sessionID,
		NodeCount:            len(entities),
		EdgeCount:            len(edges),
		TopTopics:            topEntities(topics),
		TopEmotions:          topEntities(emotions),
		StrongestConnections: connections,
		MetricsUpdatedAt:     updatedAt,
	}, nil
}

// Summary generates a clinical summary of the session, guided by the graph's
// dominant topics and emotions
func (s *Service) Summary(ctx context.Context, sessionID string) (string, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	quick, err := s.QuickInsights(ctx, sessionID)
	if err != nil {
		return "", err
	}

	topics := make([]string, 0, len(quick.TopTopics))
	for _, topic := range quick.TopTopics {
		topics = append(topics, topic.Label)
	}
	emotions := make([]string, 0, len(quick.TopEmotions))
	for _, emotion := range quick.TopEmotions {
		emotions = append(emotions, emotion.Label)
	}

	summary, err := s.summarizer.Summarize(ctx, current.Transcript, topics, emotions)
	if err != nil {
		return "", err
	}

	s.logger.Info("Session summary built",
		zap.String("session_id", sessionID),
		zap.Int("topics", len(topics)),
		zap.Int("emotions", len(emotions)),
	)
	return summary, nil
}

// Freshness reports metric staleness per background tier
func (s *Service) Freshness(ctx context.Context, sessionID string) (*Freshness, error) {
	updatedAt, err := s.store.MetricsUpdatedAt(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	age := s.now().Sub(updatedAt)
	return &Freshness{
		SessionID:        sessionID,
		MetricsUpdatedAt: updatedAt,
		PageRankStale:    updatedAt.IsZero() || age > 2*s.pagerankInterval,
		BetweennessStale: updatedAt.IsZero() || age > 2*s.betweennessInterval,
	}, nil
}

// topEntities ranks by mention count, breaking ties by pagerank, and caps at
// topN
func topEntities(entities []*graph.Entity) []TopEntity {
	sorted := make([]*graph.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MentionCount != sorted[j].MentionCount {
			return sorted[i].MentionCount > sorted[j].MentionCount
		}
		return sorted[i].PageRank > sorted[j].PageRank
	})

	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	out := make([]TopEntity, 0, len(sorted))
	for _, entity := range sorted {
		out = append(out, TopEntity{
			NodeID:       entity.NodeID,
			Label:        entity.Label,
			MentionCount: entity.MentionCount,
			PageRank:     entity.PageRank,
		})
	}
	return out
}
