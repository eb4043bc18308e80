package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicGenerator 使用Anthropic Messages API。
// Claude的系统指令走独立的system字段，不作为消息发送。
type AnthropicGenerator struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// anthropicRequest Messages API请求体
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse Messages API响应体
type anthropicResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicGenerator 创建Anthropic生成器
func NewAnthropicGenerator(apiKey, model string) *AnthropicGenerator {
	apiKey = strings.TrimSpace(apiKey)
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	return &AnthropicGenerator{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com",
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second, // LLM可能需要更长时间
		},
	}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt PromptRequest, maxTokens int, temperature float64) (string, error) {
	if !g.Ready() {
		return "", apperrors.New(apperrors.ErrCodeGenerationUnavailable, "anthropic client not initialized")
	}

	// 系统片段合并进system字段，其余按原顺序作为消息
	var systemParts []string
	messages := make([]anthropicMessage, 0, len(prompt.Segments))
	for _, segment := range prompt.Segments {
		if segment.Role == RoleSystem {
			systemParts = append(systemParts, segment.Content)
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    segment.Role,
			Content: segment.Content,
		})
	}

	reqBody := anthropicRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      strings.Join(systemParts, "\n\n"),
		Messages:    messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", g.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrap(apperrors.ErrCodeGenerationTimeout, "anthropic request timed out", err)
		}
		return "", apperrors.Wrap(apperrors.ErrCodeGenerationUnavailable, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeGenerationUnavailable, "读取响应失败", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", apperrors.Newf(apperrors.ErrCodeGenerationUnavailable,
				"anthropic API错误: %s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return "", apperrors.Newf(apperrors.ErrCodeGenerationUnavailable,
			"anthropic API错误: HTTP %d - %s", resp.StatusCode, string(body))
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeGenerationUnavailable, "解析响应失败", err)
	}
	if len(msgResp.Content) == 0 {
		return "", apperrors.New(apperrors.ErrCodeGenerationUnavailable, "anthropic response empty")
	}

	return msgResp.Content[0].Text, nil
}

func (g *AnthropicGenerator) Ready() bool {
	return g.apiKey != "" && g.client != nil
}
