package builder

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TonyStef/Dimini/backend/internal/adapter"
	"github.com/TonyStef/Dimini/backend/internal/graph"
	"github.com/TonyStef/Dimini/backend/internal/linker"
	"github.com/TonyStef/Dimini/backend/internal/realtime"
	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

const testDimension = 3

// Fakes

type fakeExtractor struct {
	result *adapter.EntityExtractionResult
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, fragment string) (*adapter.EntityExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &adapter.EntityExtractionResult{}, nil
	}
	return f.result, nil
}

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) (map[string][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]float64)
	for _, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[text] = vec
		}
	}
	return out, nil
}

type fakeStore struct {
	mu       sync.Mutex
	entities map[string]*graph.Entity
	edges    map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[string]*graph.Entity),
		edges:    make(map[string]float64),
	}
}

func edgeKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (f *fakeStore) GetSessionEntities(ctx context.Context, sessionID string) ([]*graph.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*graph.Entity, 0, len(f.entities))
	for _, entity := range f.entities {
		copied := *entity
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (f *fakeStore) CreateOrUpdateEntity(ctx context.Context, sessionID, nodeID string, nodeType graph.NodeType, label string, embedding []float64, entityContext string) (*graph.Entity, error) {
	if len(embedding) != testDimension {
		return nil, apperrors.NewEmbeddingDimension(nodeID, len(embedding), testDimension)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.entities[nodeID]; ok {
		existing.MentionCount++
		if entityContext != "" {
			existing.Context = entityContext
		}
		copied := *existing
		return &copied, nil
	}
	entity := &graph.Entity{
		SessionID:    sessionID,
		NodeID:       nodeID,
		NodeType:     nodeType,
		Label:        label,
		Embedding:    embedding,
		MentionCount: 1,
		Context:      entityContext,
		PageRank:     graph.PageRankSeed,
	}
	f.entities[nodeID] = entity
	copied := *entity
	return &copied, nil
}

func (f *fakeStore) CreateSimilarityEdge(ctx context.Context, sessionID, sourceID, targetID string, score float64) (*graph.SimilarityEdge, bool, error) {
	if sourceID == targetID {
		return nil, false, apperrors.NewBaseError(apperrors.ErrorTypeValidation, "self-loop edges are not allowed", nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := edgeKey(sourceID, targetID)
	if existing, ok := f.edges[key]; ok {
		return &graph.SimilarityEdge{
			SessionID: sessionID, SourceNodeID: sourceID, TargetNodeID: targetID, SimilarityScore: existing,
		}, false, nil
	}
	f.edges[key] = score
	return &graph.SimilarityEdge{
		SessionID: sessionID, SourceNodeID: sourceID, TargetNodeID: targetID, SimilarityScore: score,
	}, true, nil
}

func (f *fakeStore) UpdateWeightedDegree(ctx context.Context, sessionID, nodeID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum float64
	for key, score := range f.edges {
		parts := strings.SplitN(key, "|", 2)
		if parts[0] == nodeID || parts[1] == nodeID {
			sum += score
		}
	}
	if entity, ok := f.entities[nodeID]; ok {
		entity.WeightedDegree = sum
	}
	return sum, nil
}

type fakeBroadcaster struct {
	mu           sync.Mutex
	batchUpdates []realtime.GraphBatchUpdate
	statuses     []string
}

func (f *fakeBroadcaster) BroadcastGraphBatchUpdate(ctx context.Context, sessionID string, update realtime.GraphBatchUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchUpdates = append(f.batchUpdates, update)
	return nil
}

func (f *fakeBroadcaster) BroadcastSessionStatus(ctx context.Context, sessionID, status string) error {
	return nil
}

func (f *fakeBroadcaster) BroadcastProcessingStatus(ctx context.Context, sessionID, status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func newTestBuilder(extractor Extractor, embedder Embedder, store Store, threshold float64) (*Builder, *fakeBroadcaster) {
	broadcaster := &fakeBroadcaster{}
	return New(extractor, embedder, store, linker.New(threshold), broadcaster), broadcaster
}

func workAnxietyExtraction() *adapter.EntityExtractionResult {
	return &adapter.EntityExtractionResult{
		Entities: []adapter.ExtractedEntity{
			{NodeID: "work", NodeType: "topic", Label: "Work", Context: "stressful deadlines"},
			{NodeID: "anxiety", NodeType: "emotion", Label: "Anxiety", Context: "mentioned in relation to work"},
		},
	}
}

// [1,0,0] vs [0.8,0.6,0]: cosine 0.8, remapped to 0.9
func workAnxietyVectors() map[string][]float64 {
	return map[string][]float64{
		"Work":    {1, 0, 0},
		"Anxiety": {0.8, 0.6, 0},
	}
}

// Tests

func TestProcess_WorkAnxietyFragment(t *testing.T) {
	store := newFakeStore()
	b, broadcaster := newTestBuilder(
		&fakeExtractor{result: workAnxietyExtraction()},
		&fakeEmbedder{vectors: workAnxietyVectors()},
		store, 0.5,
	)

	res := b.Process(context.Background(), "s1", "Work has been making me anxious")

	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.NodesAdded, 2)
	require.Len(t, res.EdgesAdded, 1)
	assert.InDelta(t, 0.9, res.EdgesAdded[0].Similarity, 1e-9)

	// Tier-1 weighted degree refreshed for both endpoints
	for _, node := range res.NodesAdded {
		assert.InDelta(t, 0.9, node.WeightedDegree, 1e-9, "node %s", node.NodeID)
	}

	// Exactly one batched broadcast per invocation
	require.Len(t, broadcaster.batchUpdates, 1)
	assert.Len(t, broadcaster.batchUpdates[0].Nodes, 2)
	assert.Len(t, broadcaster.batchUpdates[0].Edges, 1)
}

func TestProcess_ReMentionIncrementsNotDuplicates(t *testing.T) {
	store := newFakeStore()
	b, _ := newTestBuilder(
		&fakeExtractor{result: workAnxietyExtraction()},
		&fakeEmbedder{vectors: workAnxietyVectors()},
		store, 0.5,
	)

	first := b.Process(context.Background(), "s1", "fragment one")
	second := b.Process(context.Background(), "s1", "fragment two")

	require.Equal(t, StatusSuccess, first.Status)
	require.Equal(t, StatusSuccess, second.Status)

	// Same entities: mention counts increment, no duplicate nodes or edges
	assert.Len(t, store.entities, 2)
	assert.Len(t, store.edges, 1)
	assert.Equal(t, int64(2), store.entities["work"].MentionCount)
	assert.Equal(t, int64(2), store.entities["anxiety"].MentionCount)

	// Second invocation created nothing new edge-wise
	assert.Len(t, first.EdgesAdded, 1)
	assert.Empty(t, second.EdgesAdded)
	for _, node := range second.NodesAdded {
		assert.Equal(t, int64(2), node.MentionCount)
	}
}

func TestProcess_NoEntitiesShortCircuits(t *testing.T) {
	store := newFakeStore()
	b, broadcaster := newTestBuilder(
		&fakeExtractor{result: &adapter.EntityExtractionResult{}},
		&fakeEmbedder{vectors: map[string][]float64{}},
		store, 0.5,
	)

	res := b.Process(context.Background(), "s1", "mmm hmm")

	assert.Equal(t, StatusNoEntities, res.Status)
	assert.Empty(t, res.Error)
	assert.Empty(t, store.entities)
	assert.Empty(t, broadcaster.batchUpdates)
}

func TestProcess_ThresholdFiltersWeakPairs(t *testing.T) {
	store := newFakeStore()
	// Orthogonal vectors score exactly 0.5 after remapping
	b, _ := newTestBuilder(
		&fakeExtractor{result: workAnxietyExtraction()},
		&fakeEmbedder{vectors: map[string][]float64{
			"Work":    {1, 0, 0},
			"Anxiety": {0, 1, 0},
		}},
		store, 0.75,
	)

	res := b.Process(context.Background(), "s1", "fragment")

	require.Equal(t, StatusSuccess, res.Status)
	assert.Len(t, res.NodesAdded, 2)
	assert.Empty(t, res.EdgesAdded)
	assert.Empty(t, store.edges)
}

func TestProcess_SkipsEntityWithoutEmbedding(t *testing.T) {
	store := newFakeStore()
	b, _ := newTestBuilder(
		&fakeExtractor{result: workAnxietyExtraction()},
		&fakeEmbedder{vectors: map[string][]float64{"Work": {1, 0, 0}}},
		store, 0.5,
	)

	res := b.Process(context.Background(), "s1", "fragment")

	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.NodesAdded, 1)
	assert.Equal(t, "work", res.NodesAdded[0].NodeID)
	_, ok := store.entities["anxiety"]
	assert.False(t, ok)
}

func TestProcess_DimensionMismatchFailsInvocation(t *testing.T) {
	store := newFakeStore()
	b, broadcaster := newTestBuilder(
		&fakeExtractor{result: workAnxietyExtraction()},
		&fakeEmbedder{vectors: map[string][]float64{
			"Work":    {1, 0, 0, 0, 0}, // wrong dimension
			"Anxiety": {0.8, 0.6, 0, 0, 0},
		}},
		store, 0.5,
	)

	res := b.Process(context.Background(), "s1", "fragment")

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "dimension")
	assert.Contains(t, broadcaster.statuses, StatusError)
}

func TestProcess_ExtractionFailureIsContained(t *testing.T) {
	store := newFakeStore()
	b, broadcaster := newTestBuilder(
		&fakeExtractor{err: apperrors.NewExtractionFailed("test-model", assert.AnError)},
		&fakeEmbedder{vectors: map[string][]float64{}},
		store, 0.5,
	)

	res := b.Process(context.Background(), "s1", "fragment")

	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, store.entities)
	assert.Contains(t, broadcaster.statuses, StatusError)
	assert.Empty(t, broadcaster.batchUpdates)
}

func TestProcess_LinksNewEntityToExistingGraph(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	// Pre-existing entity from an earlier fragment
	_, err := store.CreateOrUpdateEntity(ctx, "s1", "work", graph.NodeTypeTopic, "Work", []float64{1, 0, 0}, "")
	require.NoError(t, err)

	b, _ := newTestBuilder(
		&fakeExtractor{result: &adapter.EntityExtractionResult{
			Entities: []adapter.ExtractedEntity{
				{NodeID: "anxiety", NodeType: "emotion", Label: "Anxiety"},
			},
		}},
		&fakeEmbedder{vectors: map[string][]float64{"Anxiety": {0.8, 0.6, 0}}},
		store, 0.5,
	)

	res := b.Process(ctx, "s1", "fragment")

	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.EdgesAdded, 1)
	assert.Equal(t, 1, len(store.edges))
	_, ok := store.edges[edgeKey("work", "anxiety")]
	assert.True(t, ok)
}

func TestProcessConcern_MapsTypeToEmotionNode(t *testing.T) {
	store := newFakeStore()
	b, _ := newTestBuilder(
		&fakeExtractor{},
		&fakeEmbedder{vectors: map[string][]float64{"Distress": {0.5, 0.5, 0}}},
		store, 0.5,
	)

	ctx := context.Background()
	require.NoError(t, b.ProcessConcern(ctx, "s1", "emotional_distress", "high", "patient expressed hopelessness"))

	entity, ok := store.entities["concern_emotional_distress"]
	require.True(t, ok)
	assert.Equal(t, graph.NodeTypeEmotion, entity.NodeType)
	assert.Equal(t, "Distress", entity.Label)
	assert.Contains(t, entity.Context, "high severity")

	// Re-flagging the same concern increments, never duplicates
	require.NoError(t, b.ProcessConcern(ctx, "s1", "emotional_distress", "high", "again"))
	assert.Equal(t, int64(2), store.entities["concern_emotional_distress"].MentionCount)
	assert.Len(t, store.entities, 1)
}

func TestProcessConcern_DimensionMismatchPropagates(t *testing.T) {
	store := newFakeStore()
	b, _ := newTestBuilder(
		&fakeExtractor{},
		&fakeEmbedder{vectors: map[string][]float64{"Distress": {0.5, 0.5, 0, 0}}},
		store, 0.5,
	)

	err := b.ProcessConcern(context.Background(), "s1", "emotional_distress", "high", "desc")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
	assert.Empty(t, store.entities)
}

func TestProcessProgress_UnknownTypeGetsTitleizedLabel(t *testing.T) {
	store := newFakeStore()
	b, _ := newTestBuilder(
		&fakeExtractor{},
		&fakeEmbedder{vectors: map[string][]float64{"Sleep Hygiene": {0, 0, 1}}},
		store, 0.5,
	)

	require.NoError(t, b.ProcessProgress(context.Background(), "s1", "sleep_hygiene", "sleeping 7 hours"))

	entity, ok := store.entities["progress_sleep_hygiene"]
	require.True(t, ok)
	assert.Equal(t, graph.NodeTypeTopic, entity.NodeType)
	assert.Equal(t, "Sleep Hygiene", entity.Label)
}

func TestProcessNote_LinksExtractedEntities(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_, err := store.CreateOrUpdateEntity(ctx, "s1", "work", graph.NodeTypeTopic, "Work", []float64{1, 0, 0}, "")
	require.NoError(t, err)

	b, broadcaster := newTestBuilder(
		&fakeExtractor{result: &adapter.EntityExtractionResult{
			Entities: []adapter.ExtractedEntity{
				{NodeID: "anxiety", NodeType: "emotion", Label: "Anxiety"},
			},
		}},
		&fakeEmbedder{vectors: map[string][]float64{"Anxiety": {0.8, 0.6, 0}}},
		store, 0.5,
	)

	require.NoError(t, b.ProcessNote(ctx, "s1", "observation", "patient seems anxious about work"))

	entity, ok := store.entities["anxiety"]
	require.True(t, ok)
	assert.Contains(t, entity.Context, "From observation note:")
	_, ok = store.edges[edgeKey("work", "anxiety")]
	assert.True(t, ok)

	// Background ingestion does not broadcast
	assert.Empty(t, broadcaster.batchUpdates)
}
