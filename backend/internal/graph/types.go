package graph

import (
	"strings"
	"time"
)

// NodeType classifies an extracted entity
type NodeType string

const (
	NodeTypeTopic   NodeType = "TOPIC"
	NodeTypeEmotion NodeType = "EMOTION"
)

// ParseNodeType normalizes an extraction node type ("topic", "emotion",
// any case) to the stored enum. Unknown values fall back to TOPIC.
func ParseNodeType(s string) NodeType {
	if strings.EqualFold(s, string(NodeTypeEmotion)) {
		return NodeTypeEmotion
	}
	return NodeTypeTopic
}

// PageRankSeed is the initial pagerank value for a new entity, matching the
// damping-factor baseline so warm recomputes can seed from stored scores.
const PageRankSeed = 0.15

// Entity is one knowledge-graph node, scoped to a session.
// Identity is (SessionID, NodeID); NodeID is normalized lowercase with
// underscores ("work_stress", "anxiety").
type Entity struct {
	SessionID        string    `json:"session_id"`
	NodeID           string    `json:"node_id"`
	NodeType         NodeType  `json:"node_type"`
	Label            string    `json:"label"`
	Embedding        []float64 `json:"embedding,omitempty"`
	MentionCount     int64     `json:"mention_count"`
	Context          string    `json:"context,omitempty"`
	WeightedDegree   float64   `json:"weighted_degree"`
	PageRank         float64   `json:"pagerank"`
	Betweenness      float64   `json:"betweenness"`
	FirstMentionedAt time.Time `json:"first_mentioned_at"`
	CreatedAt        time.Time `json:"created_at"`
	MetricsUpdatedAt time.Time `json:"metrics_updated_at"`
}

// SimilarityEdge is an undirected SIMILAR_TO relationship between two
// entities in the same session. The unordered endpoint pair is the identity;
// the score is set at creation and never mutated.
type SimilarityEdge struct {
	SessionID       string    `json:"session_id"`
	SourceNodeID    string    `json:"source_node_id"`
	TargetNodeID    string    `json:"target_node_id"`
	SimilarityScore float64   `json:"similarity_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a therapy session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Session is the metadata record for one conversation. All graph state is
// scoped by its ID.
type Session struct {
	ID          string        `json:"id"`
	PatientID   string        `json:"patient_id"`
	TherapistID string        `json:"therapist_id"`
	Status      SessionStatus `json:"status"`
	Transcript  string        `json:"transcript,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

// PageRankOptions control a Tier-2 streaming recompute. A cold run uses more
// iterations and no seed; a warm run seeds from the stored pagerank property.
type PageRankOptions struct {
	MaxIterations int
	Seeded        bool
}
