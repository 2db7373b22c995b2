package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record parsing helpers. Neo4j returns interface{} values; these coerce with
// sane defaults so a missing or null property never panics.

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok {
		return time.Time{}
	}
	if t, ok := val.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func getFloatSliceFromRecord(record *neo4j.Record, key string) []float64 {
	val, ok := record.Get(key)
	if !ok {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(slice))
	for _, v := range slice {
		if f, ok := v.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

func sessionFromRecord(record *neo4j.Record) *Session {
	s := &Session{
		ID:          getStringFromRecord(record, "id"),
		PatientID:   getStringFromRecord(record, "patient_id"),
		TherapistID: getStringFromRecord(record, "therapist_id"),
		Status:      SessionStatus(getStringFromRecord(record, "status")),
		Transcript:  getStringFromRecord(record, "transcript"),
		StartedAt:   getTimeFromRecord(record, "started_at"),
	}
	if endedAt := getTimeFromRecord(record, "ended_at"); !endedAt.IsZero() {
		s.EndedAt = &endedAt
	}
	return s
}

func entityFromRecord(record *neo4j.Record) *Entity {
	return &Entity{
		SessionID:        getStringFromRecord(record, "session_id"),
		NodeID:           getStringFromRecord(record, "node_id"),
		NodeType:         NodeType(getStringFromRecord(record, "node_type")),
		Label:            getStringFromRecord(record, "label"),
		Embedding:        getFloatSliceFromRecord(record, "embedding"),
		MentionCount:     getInt64FromRecord(record, "mention_count"),
		Context:          getStringFromRecord(record, "context"),
		WeightedDegree:   getFloat64FromRecord(record, "weighted_degree"),
		PageRank:         getFloat64FromRecord(record, "pagerank"),
		Betweenness:      getFloat64FromRecord(record, "betweenness"),
		FirstMentionedAt: getTimeFromRecord(record, "first_mentioned_at"),
		CreatedAt:        getTimeFromRecord(record, "created_at"),
		MetricsUpdatedAt: getTimeFromRecord(record, "metrics_updated_at"),
	}
}
