package adapter

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

const summarySystemPrompt = `You are a clinical session summarizer. Given a therapy session transcript and the key topics and emotions that emerged, write a concise professional summary for the therapist's records.

Rules:
- 3-5 sentences, neutral clinical tone
- Mention the dominant topics and emotional themes
- Note any shifts in emotional state across the session
- Never invent content not supported by the transcript`

// Summarizer produces a session summary via an OpenAI-compatible chat
// endpoint
type Summarizer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewSummarizer creates a summarization adapter
func NewSummarizer(baseURL, apiKey, model string) *Summarizer {
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &Summarizer{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.Get(),
	}
}

// Summarize generates a clinical summary of a session transcript, guided by
// the dominant topics and emotions from the knowledge graph
func (s *Summarizer) Summarize(ctx context.Context, transcript string, topics, emotions []string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	var prompt strings.Builder
	prompt.WriteString("Key topics: ")
	prompt.WriteString(strings.Join(topics, ", "))
	prompt.WriteString("\nKey emotions: ")
	prompt.WriteString(strings.Join(emotions, ", "))
	prompt.WriteString("\n\nTranscript:\n")
	prompt.WriteString(transcript)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		Temperature: 0.4,
		MaxTokens:   500,
	})
	if err != nil {
		return "", apperrors.NewExtractionFailed(s.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Info("Session summary generated",
		zap.Int("length", len(summary)),
	)
	return summary, nil
}
