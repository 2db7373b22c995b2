package graph

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const testDimension = 8

// Integration tests require a running Neo4j instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables.

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "bolt://localhost:7687"
	}
	user := os.Getenv("NEO4J_USER")
	if user == "" {
		user = "neo4j"
	}
	password := os.Getenv("NEO4J_PASSWORD")
	if password == "" {
		password = "password"
	}
	return neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
}

func cleanupSession(ctx context.Context, driver neo4j.DriverWithContext, sessionID string) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, _ = session.Run(ctx, "MATCH (e:Entity {session_id: $id}) DETACH DELETE e", map[string]interface{}{"id": sessionID})
	_, _ = session.Run(ctx, "MATCH (s:Session {id: $id}) DETACH DELETE s", map[string]interface{}{"id": sessionID})
}

func testEmbedding(fill float64) []float64 {
	embedding := make([]float64, testDimension)
	for i := range embedding {
		embedding[i] = fill
	}
	return embedding
}

func TestRepository_CreateOrUpdateEntity_MergeSemantics(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	sessionID := "test-session-" + time.Now().Format("20060102150405")
	defer cleanupSession(ctx, driver, sessionID)

	first, err := repo.CreateOrUpdateEntity(ctx, sessionID, "anxiety", NodeTypeEmotion, "Anxiety", testEmbedding(0.5), "")
	if err != nil {
		t.Fatalf("CreateOrUpdateEntity failed: %v", err)
	}
	if first.MentionCount != 1 {
		t.Errorf("Expected mention_count 1, got %d", first.MentionCount)
	}
	if first.PageRank != PageRankSeed {
		t.Errorf("Expected pagerank seed %v, got %v", PageRankSeed, first.PageRank)
	}

	// Second upsert with a different embedding must not replace the stored
	// one, only bump the mention count
	second, err := repo.CreateOrUpdateEntity(ctx, sessionID, "anxiety", NodeTypeEmotion, "Anxiety", testEmbedding(0.9), "")
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if second.MentionCount != 2 {
		t.Errorf("Expected mention_count 2, got %d", second.MentionCount)
	}

	stored, err := repo.GetEntityByID(ctx, sessionID, "anxiety")
	if err != nil {
		t.Fatalf("GetEntityByID failed: %v", err)
	}
	if len(stored.Embedding) != testDimension || stored.Embedding[0] != 0.5 {
		t.Errorf("Embedding was overwritten on merge: %v", stored.Embedding[:1])
	}
	if stored.Label != "Anxiety" {
		t.Errorf("Label changed on merge: %s", stored.Label)
	}
}

func TestRepository_CreateOrUpdateEntity_DimensionMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	_, err = repo.CreateOrUpdateEntity(ctx, "any-session", "work", NodeTypeTopic, "Work", []float64{0.1, 0.2}, "")
	if err == nil {
		t.Fatal("Expected dimension mismatch error, got nil")
	}
}

func TestRepository_CreateSimilarityEdge_UndirectedDedup(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	sessionID := "test-session-" + time.Now().Format("20060102150405")
	defer cleanupSession(ctx, driver, sessionID)

	if _, err := repo.CreateOrUpdateEntity(ctx, sessionID, "work", NodeTypeTopic, "Work", testEmbedding(0.3), ""); err != nil {
		t.Fatalf("CreateOrUpdateEntity failed: %v", err)
	}
	if _, err := repo.CreateOrUpdateEntity(ctx, sessionID, "anxiety", NodeTypeEmotion, "Anxiety", testEmbedding(0.4), ""); err != nil {
		t.Fatalf("CreateOrUpdateEntity failed: %v", err)
	}

	_, created, err := repo.CreateSimilarityEdge(ctx, sessionID, "work", "anxiety", 0.8)
	if err != nil {
		t.Fatalf("CreateSimilarityEdge failed: %v", err)
	}
	if !created {
		t.Error("Expected first merge to report created=true")
	}
	// Reverse orientation must be a no-op, not a second edge
	_, created, err = repo.CreateSimilarityEdge(ctx, sessionID, "anxiety", "work", 0.8)
	if err != nil {
		t.Fatalf("Reverse CreateSimilarityEdge failed: %v", err)
	}
	if created {
		t.Error("Expected reverse merge to report created=false")
	}

	edges, err := repo.GetSessionEdges(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSessionEdges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("Expected exactly 1 edge, got %d", len(edges))
	}
}

func TestRepository_CreateSimilarityEdge_RejectsSelfLoop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	if _, _, err := repo.CreateSimilarityEdge(ctx, "any-session", "work", "work", 1.0); err == nil {
		t.Fatal("Expected self-loop rejection, got nil")
	}
}

func TestRepository_UpdateWeightedDegree_Recompute(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	sessionID := "test-session-" + time.Now().Format("20060102150405")
	defer cleanupSession(ctx, driver, sessionID)

	for _, node := range []string{"work", "anxiety", "family"} {
		if _, err := repo.CreateOrUpdateEntity(ctx, sessionID, node, NodeTypeTopic, node, testEmbedding(0.2), ""); err != nil {
			t.Fatalf("CreateOrUpdateEntity failed: %v", err)
		}
	}
	if _, _, err := repo.CreateSimilarityEdge(ctx, sessionID, "work", "anxiety", 0.8); err != nil {
		t.Fatalf("CreateSimilarityEdge failed: %v", err)
	}
	if _, _, err := repo.CreateSimilarityEdge(ctx, sessionID, "work", "family", 0.6); err != nil {
		t.Fatalf("CreateSimilarityEdge failed: %v", err)
	}

	degree, err := repo.UpdateWeightedDegree(ctx, sessionID, "work")
	if err != nil {
		t.Fatalf("UpdateWeightedDegree failed: %v", err)
	}
	if math.Abs(degree-1.4) > 1e-9 {
		t.Errorf("Expected weighted degree 1.4, got %v", degree)
	}

	// Repeated calls with no edge changes must be stable
	again, err := repo.UpdateWeightedDegree(ctx, sessionID, "work")
	if err != nil {
		t.Fatalf("Second UpdateWeightedDegree failed: %v", err)
	}
	if again != degree {
		t.Errorf("Recompute unstable: %v then %v", degree, again)
	}
}

func TestRepository_BatchUpdateWeightedDegree(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	sessionID := "test-session-" + time.Now().Format("20060102150405")
	defer cleanupSession(ctx, driver, sessionID)

	for _, node := range []string{"work", "anxiety", "family"} {
		if _, err := repo.CreateOrUpdateEntity(ctx, sessionID, node, NodeTypeTopic, node, testEmbedding(0.2), ""); err != nil {
			t.Fatalf("CreateOrUpdateEntity failed: %v", err)
		}
	}
	if _, _, err := repo.CreateSimilarityEdge(ctx, sessionID, "work", "anxiety", 0.8); err != nil {
		t.Fatalf("CreateSimilarityEdge failed: %v", err)
	}

	updated, err := repo.BatchUpdateWeightedDegree(ctx, sessionID)
	if err != nil {
		t.Fatalf("BatchUpdateWeightedDegree failed: %v", err)
	}
	if updated != 3 {
		t.Errorf("Expected 3 nodes updated, got %d", updated)
	}

	work, err := repo.GetEntityByID(ctx, sessionID, "work")
	if err != nil {
		t.Fatalf("GetEntityByID failed: %v", err)
	}
	if math.Abs(work.WeightedDegree-0.8) > 1e-9 {
		t.Errorf("Expected weighted degree 0.8, got %v", work.WeightedDegree)
	}
	// Isolated nodes get an explicit zero, not a null
	family, err := repo.GetEntityByID(ctx, sessionID, "family")
	if err != nil {
		t.Fatalf("GetEntityByID failed: %v", err)
	}
	if family.WeightedDegree != 0 {
		t.Errorf("Expected weighted degree 0 for isolated node, got %v", family.WeightedDegree)
	}
}

func TestRepository_SessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, testDimension)
	sessionID := "test-session-" + time.Now().Format("20060102150405")
	defer cleanupSession(ctx, driver, sessionID)

	created, err := repo.CreateSession(ctx, sessionID, "patient-1", "therapist-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if created.Status != SessionStatusActive {
		t.Errorf("Expected ACTIVE, got %s", created.Status)
	}

	if err := repo.AppendTranscript(ctx, sessionID, "I feel anxious about work."); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}

	ended, err := repo.UpdateSessionStatus(ctx, sessionID, SessionStatusCompleted)
	if err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if ended.Status != SessionStatusCompleted || ended.EndedAt == nil {
		t.Errorf("Expected COMPLETED with ended_at, got %s %v", ended.Status, ended.EndedAt)
	}
}
