package llm

import (
	"context"
)

// 提示词片段角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Segment 带角色标签的提示词片段
type Segment struct {
	Role    string
	Content string
}

// PromptRequest 一次完整的模型请求，按顺序由系统指令、检索上下文、
// 历史消息和当前用户消息组成。每次交换重新构造，不做持久化。
type PromptRequest struct {
	Segments []Segment
}

// Generator 文本生成统一接口，OpenAI和Anthropic实现可互换，
// 由配置决定使用哪个，核心逻辑不区分提供商
type Generator interface {
	Generate(ctx context.Context, prompt PromptRequest, maxTokens int, temperature float64) (string, error)
	Ready() bool
}
