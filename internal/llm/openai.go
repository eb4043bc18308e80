package llm

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator 使用OpenAI Chat Completions API
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator 创建OpenAI生成器
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &OpenAIGenerator{}
	}
	if model == "" {
		model = "gpt-4-turbo-preview"
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt PromptRequest, maxTokens int, temperature float64) (string, error) {
	if g.client == nil {
		return "", apperrors.New(apperrors.ErrCodeGenerationUnavailable, "openai client not initialized")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Segments))
	for _, segment := range prompt.Segments {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    segment.Role,
			Content: segment.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrap(apperrors.ErrCodeGenerationTimeout, "openai request timed out", err)
		}
		return "", apperrors.Wrap(apperrors.ErrCodeGenerationUnavailable, "openai request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrCodeGenerationUnavailable, "openai response empty")
	}

	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) Ready() bool {
	return g.client != nil
}
