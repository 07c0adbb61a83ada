package labeling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type GPTResponse struct {
	Status string `json:"status"`
}

type GPTConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// GPTLabeler asks a chat model for the status and falls back to keyword
// matching when the call or its reply is unusable.
type GPTLabeler struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    Labeler
	logger      *zap.Logger
}

func NewGPTLabeler(cfg GPTConfig, logger *zap.Logger) *GPTLabeler {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &GPTLabeler{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		fallback:    KeywordLabeler{},
		logger:      logger,
	}
}

func (l *GPTLabeler) Label(ctx context.Context, text string, statuses []string) (string, error) {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}

	prompt := fmt.Sprintf(`Determine the completion status of the following task.
Choose exactly one status from this list: %s

Return the response as a JSON object with this structure:
{
    "status": "one_of_the_statuses"
}

Task: %s`, strings.Join(statuses, ", "), text)

	resp, err := l.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: l.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   l.maxTokens,
			Temperature: float32(l.temperature),
		},
	)
	if err != nil {
		l.logger.Error("Failed to get GPT response", zap.Error(err))
		return l.fallback.Label(ctx, text, statuses)
	}
	if len(resp.Choices) == 0 {
		l.logger.Error("GPT response has no choices")
		return l.fallback.Label(ctx, text, statuses)
	}

	var gptResponse GPTResponse
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(response), &gptResponse); err != nil {
		l.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return l.fallback.Label(ctx, text, statuses)
	}

	status := strings.TrimSpace(gptResponse.Status)
	if !contains(statuses, status) {
		l.logger.Warn("GPT returned a status outside the allowed set",
			zap.String("status", status))
		return l.fallback.Label(ctx, text, statuses)
	}
	return status, nil
}
