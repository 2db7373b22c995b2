package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

const extractionSystemPrompt = `You are a therapy session analyzer. Extract psychological entities from therapy conversations.

Focus on:
- TOPICS: Concrete subjects discussed (work, girlfriend, family, therapy, childhood, career, health, etc.)
- EMOTIONS: Emotional states expressed (anxiety, joy, anger, sadness, hope, frustration, fear, relief, etc.)

Rules:
- Use simple, normalized IDs (lowercase, underscores): "work_stress", "anxiety", "girlfriend"
- Use clear, title-case labels for display: "Work Stress", "Anxiety", "Girlfriend"
- Only extract entities EXPLICITLY mentioned in the text
- Avoid inferring entities not clearly discussed
- Each entity should be distinct and meaningful in the therapy context

IMPORTANT: Respond ONLY with a valid JSON object in this exact format:
{
  "entities": [
    {
      "node_id": "anxiety",
      "node_type": "emotion",
      "label": "Anxiety",
      "context": "mentioned in relation to work"
    }
  ]
}

Do not include any other text, explanations, or markdown formatting. Just the raw JSON.`

// ExtractedEntity is one candidate entity returned by the extraction model
type ExtractedEntity struct {
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Label    string `json:"label"`
	Context  string `json:"context,omitempty"`
}

// EntityExtractionResult is the full extraction response for one fragment
type EntityExtractionResult struct {
	Entities []ExtractedEntity `json:"entities"`
}

// Extractor extracts topics and emotions from transcript fragments via an
// OpenAI-compatible chat endpoint (LiteLLM in front of the actual provider)
type Extractor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewExtractor creates an extraction adapter
func NewExtractor(baseURL, apiKey, model string) *Extractor {
	// LiteLLM accepts a dummy key when auth is disabled
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &Extractor{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.Get(),
	}
}

// Extract returns the candidate entities for one transcript fragment. Empty
// or whitespace input yields an empty result, not an error.
func (e *Extractor) Extract(ctx context.Context, fragment string) (*EntityExtractionResult, error) {
	if strings.TrimSpace(fragment) == "" {
		return &EntityExtractionResult{}, nil
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Extract entities from this therapy conversation:\n\n" + fragment},
		},
		// Low temperature for consistent extraction
		Temperature: 0.3,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, apperrors.NewExtractionFailed(e.model, err)
	}
	if len(resp.Choices) == 0 {
		return &EntityExtractionResult{}, nil
	}

	content := stripMarkdownFences(resp.Choices[0].Message.Content)
	if content == "" {
		e.logger.Warn("Extraction model returned no content")
		return &EntityExtractionResult{}, nil
	}

	var result EntityExtractionResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		snippet := content
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return nil, apperrors.NewExtractionUnparseable(snippet, err)
	}

	e.logger.Info("Entities extracted",
		zap.Int("count", len(result.Entities)),
	)
	return &result, nil
}

// stripMarkdownFences removes ```json fences models sometimes wrap JSON in
func stripMarkdownFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
