package adapter

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
	"github.com/TonyStef/Dimini/backend/pkg/retry"
)

// Embedder generates embedding vectors via an OpenAI-compatible endpoint.
// Batched calls are strongly preferred on the ingestion path: one request per
// transcript fragment, not one per entity.
type Embedder struct {
	client      *openai.Client
	model       string
	retryDelays []time.Duration
	logger      *zap.Logger
}

// NewEmbedder creates an embedding adapter
func NewEmbedder(baseURL, apiKey, model string) *Embedder {
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &Embedder{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		retryDelays: retry.Exponential(time.Second, 2), // 1s, 2s on overload
		logger:      logger.Get(),
	}
}

// Embed generates an embedding for a single text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[text], nil
}

// EmbedBatch generates embeddings for multiple texts in one request and
// returns them keyed by input text. Transient provider overload is retried
// with backoff before giving up.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (map[string][]float64, error) {
	if len(texts) == 0 {
		return map[string][]float64{}, nil
	}

	var resp openai.EmbeddingResponse
	attempts := 0
	err := retry.Do(ctx, e.retryDelays, func(ctx context.Context) error {
		attempts++
		var reqErr error
		resp, reqErr = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts,
		})
		if reqErr != nil {
			e.logger.Warn("Embedding request failed",
				zap.Int("attempt", attempts),
				zap.Error(reqErr),
			)
		}
		return reqErr
	})
	if err != nil {
		return nil, apperrors.NewEmbeddingFailed(e.model, attempts, err)
	}

	vectors := make(map[string][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			continue
		}
		embedding := make([]float64, len(item.Embedding))
		for i, v := range item.Embedding {
			embedding[i] = float64(v)
		}
		vectors[texts[item.Index]] = embedding
	}

	e.logger.Debug("Batch embeddings generated",
		zap.Int("requested", len(texts)),
		zap.Int("returned", len(vectors)),
	)
	return vectors, nil
}
