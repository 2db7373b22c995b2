package realtime

// Event payloads published to the session-scoped pub/sub channel. The
// frontend renders these directly, so field names are part of the contract.

// NodePayload is the broadcast shape of a graph node
type NodePayload struct {
	NodeID         string  `json:"node_id"`
	Label          string  `json:"label"`
	Type           string  `json:"type"`
	MentionCount   int64   `json:"mention_count"`
	WeightedDegree float64 `json:"weighted_degree"`
	PageRank       float64 `json:"pagerank"`
	Betweenness    float64 `json:"betweenness"`
}

// EdgePayload is the broadcast shape of a similarity edge
type EdgePayload struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Similarity float64 `json:"similarity"`
}

// GraphBatchUpdate carries every node and edge added by one pipeline
// invocation in a single event, so the renderer redraws once instead of once
// per element.
type GraphBatchUpdate struct {
	Nodes   []NodePayload `json:"nodes"`
	Edges   []EdgePayload `json:"edges"`
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
}

// StatusUpdate reports a session lifecycle or processing phase change
type StatusUpdate struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Event is the envelope published on the wire
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types
const (
	EventGraphBatchUpdate = "graph_batch_update"
	EventSessionStatus    = "session_status"
	EventProcessingStatus = "processing_status"
)
