package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于Redis的会话存储，可跨进程共享，按TTL过期
type RedisStore struct {
	client     *redis.Client
	maxHistory int
	ttl        time.Duration
}

// NewRedisStore 创建Redis会话存储
func NewRedisStore(client *redis.Client, maxHistory int, ttl time.Duration) *RedisStore {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client:     client,
		maxHistory: maxHistory,
		ttl:        ttl,
	}
}

func (s *RedisStore) key(conversantID string) string {
	return fmt.Sprintf("conversation:%s", conversantID)
}

// Append 在一个pipeline中追加消息、裁剪到上限并刷新过期时间
func (s *RedisStore) Append(ctx context.Context, conversantID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("序列化消息失败: %w", err)
		}
		values = append(values, data)
	}

	key := s.key(conversantID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.maxHistory), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话历史失败: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, conversantID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(conversantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) Clear(ctx context.Context, conversantID string) error {
	if err := s.client.Del(ctx, s.key(conversantID)).Err(); err != nil {
		return fmt.Errorf("清除会话历史失败: %w", err)
	}
	return nil
}
