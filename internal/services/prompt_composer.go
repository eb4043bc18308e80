package services

import (
	"fmt"
	"strings"

	"github.com/aihub/whatsbot-go/internal/conversation"
	"github.com/aihub/whatsbot-go/internal/knowledge"
	"github.com/aihub/whatsbot-go/internal/llm"
)

const contextBlockHeader = "Knowledge Base Context:"

// PromptComposer 把系统指令、检索上下文、会话历史和当前消息
// 组装成一次模型请求
type PromptComposer struct {
	tokenBudget int
}

// NewPromptComposer 创建组装器，tokenBudget为整个请求的估算token预算
func NewPromptComposer(tokenBudget int) *PromptComposer {
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	return &PromptComposer{tokenBudget: tokenBudget}
}

// Compose 组装模型请求。检索结果按相关度降序渲染为带标签的上下文块，
// 没有检索结果时完全省略上下文块。超出预算时先从最旧的历史开始裁剪，
// 再从排名最低的上下文chunk开始裁剪，系统指令永不裁剪。
func (c *PromptComposer) Compose(systemInstructions string, matches []knowledge.SearchMatch, history []conversation.Turn, userMessage string) llm.PromptRequest {
	// 固定部分：系统指令和当前用户消息
	fixed := estimateTokens(systemInstructions) + estimateTokens(userMessage)

	keptHistory := history
	keptMatches := matches

	// 先裁剪历史（最旧的先丢）
	for len(keptHistory) > 0 && fixed+historyTokens(keptHistory)+contextTokens(keptMatches) > c.tokenBudget {
		keptHistory = keptHistory[1:]
	}
	// 仍超预算时裁剪上下文（排名最低的先丢）
	for len(keptMatches) > 0 && fixed+contextTokens(keptMatches) > c.tokenBudget {
		keptMatches = keptMatches[:len(keptMatches)-1]
	}

	segments := make([]llm.Segment, 0, len(keptHistory)+3)
	if systemInstructions != "" {
		segments = append(segments, llm.Segment{Role: llm.RoleSystem, Content: systemInstructions})
	}
	if block := renderContextBlock(keptMatches); block != "" {
		segments = append(segments, llm.Segment{Role: llm.RoleSystem, Content: block})
	}
	for _, turn := range keptHistory {
		segments = append(segments, llm.Segment{Role: turn.Role, Content: turn.Content})
	}
	segments = append(segments, llm.Segment{Role: llm.RoleUser, Content: userMessage})

	return llm.PromptRequest{Segments: segments}
}

// renderContextBlock 按检索排名渲染上下文块，空结果返回空串
func renderContextBlock(matches []knowledge.SearchMatch) string {
	if len(matches) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(contextBlockHeader)
	for i, match := range matches {
		builder.WriteString(fmt.Sprintf("\n\n[%d] %s", i+1, match.Chunk.Text))
	}
	return builder.String()
}

func historyTokens(history []conversation.Turn) int {
	total := 0
	for _, turn := range history {
		total += estimateTokens(turn.Content)
	}
	return total
}

func contextTokens(matches []knowledge.SearchMatch) int {
	if len(matches) == 0 {
		return 0
	}
	total := estimateTokens(contextBlockHeader)
	for _, match := range matches {
		total += estimateTokens(match.Chunk.Text)
	}
	return total
}

// estimateTokens 估算token数量（简化版）：每4个字符算一个token
func estimateTokens(content string) int {
	return len([]rune(content)) / 4
}
