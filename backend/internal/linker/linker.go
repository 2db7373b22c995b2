package linker

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// Node is the minimal view the linker needs of a graph entity
type Node struct {
	NodeID    string
	Embedding []float64
}

// Match pairs an existing node with its similarity to a new node
type Match struct {
	NodeID string
	Score  float64
}

// Pair is an unordered node pair whose similarity cleared the threshold
type Pair struct {
	SourceID string
	TargetID string
	Score    float64
}

// Linker computes semantic similarity between entity embeddings. Scores and
// the threshold live in [0, 1]: raw cosine is remapped via (cos+1)/2 before
// any comparison, so stored edge scores and the configured threshold share
// one scale.
type Linker struct {
	threshold float64
	logger    *zap.Logger
}

// New creates a linker with the given similarity threshold. The threshold
// controls graph density; 0.5-0.75 works well in practice.
func New(threshold float64) *Linker {
	return &Linker{
		threshold: threshold,
		logger:    logger.Get(),
	}
}

// Threshold returns the configured similarity threshold
func (l *Linker) Threshold() float64 {
	return l.threshold
}

// CosineSimilarity computes cosine similarity between two embeddings,
// remapped from [-1, 1] to [0, 1]. A zero-norm vector yields 0, not an error.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

// FindRelatedNodes compares newNode against every existing node with an
// embedding, skipping self-comparison, and returns matches at or above the
// threshold sorted by score descending. Ties keep the original candidate
// order, which makes the result deterministic.
func (l *Linker) FindRelatedNodes(newNode Node, existing []Node) []Match {
	if len(newNode.Embedding) == 0 || len(existing) == 0 {
		return nil
	}

	var matches []Match
	for _, candidate := range existing {
		if candidate.NodeID == newNode.NodeID {
			continue
		}
		if len(candidate.Embedding) == 0 {
			continue
		}

		score := CosineSimilarity(newNode.Embedding, candidate.Embedding)
		if score >= l.threshold {
			matches = append(matches, Match{NodeID: candidate.NodeID, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	l.logger.Debug("Related nodes found",
		zap.String("node_id", newNode.NodeID),
		zap.Int("matches", len(matches)),
		zap.Float64("threshold", l.threshold),
	)
	return matches
}

// CalculateAllSimilarities computes similarity for every unordered node pair
// and returns the pairs at or above the threshold. Full O(n^2) comparison:
// session graphs stay in the tens-to-low-hundreds of entities. If node counts
// grow past that, this should be replaced with an approximate
// nearest-neighbor index.
func (l *Linker) CalculateAllSimilarities(nodes []Node) []Pair {
	if len(nodes) < 2 {
		return nil
	}

	var pairs []Pair
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if len(nodes[i].Embedding) == 0 || len(nodes[j].Embedding) == 0 {
				continue
			}

			score := CosineSimilarity(nodes[i].Embedding, nodes[j].Embedding)
			if score >= l.threshold {
				pairs = append(pairs, Pair{
					SourceID: nodes[i].NodeID,
					TargetID: nodes[j].NodeID,
					Score:    score,
				})
			}
		}
	}

	l.logger.Debug("Pairwise similarities calculated",
		zap.Int("nodes", len(nodes)),
		zap.Int("pairs_above_threshold", len(pairs)),
	)
	return pairs
}
