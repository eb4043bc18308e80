package conversation

import (
	"context"
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 会话中的一条消息
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store 按会话方管理有界的消息历史。
// 历史长度不超过配置的上限，超出时先淘汰最旧的消息。
// 不存在的会话方视为空会话，首次Append时隐式创建。
type Store interface {
	// Append 追加一条或多条消息，多条作为一次逻辑更新写入
	Append(ctx context.Context, conversantID string, turns ...Turn) error
	History(ctx context.Context, conversantID string) ([]Turn, error)
	Clear(ctx context.Context, conversantID string) error
}
