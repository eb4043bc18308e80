package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, 10, time.Hour), mr
}

func TestRedisStore_AppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	require.NoError(t, store.Append(ctx, "whatsapp:+10000000001",
		Turn{Role: RoleUser, Content: "你好", Timestamp: time.Now()},
		Turn{Role: RoleAssistant, Content: "你好，有什么可以帮你？", Timestamp: time.Now()},
	))

	history, err := store.History(ctx, "whatsapp:+10000000001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "你好", history[0].Content)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestRedisStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	// LTRIM(-10, -1)：12条消息只保留最新10条（第3到第12条）且顺序不变
	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Append(ctx, "user",
			Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i), Timestamp: time.Now()}))
	}

	history, err := store.History(ctx, "user")
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i, turn := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+3), turn.Content)
	}
}

func TestRedisStore_SetsTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Append(ctx, "user", Turn{Role: RoleUser, Content: "hello"}))
	assert.Equal(t, time.Hour, mr.TTL("conversation:user"))
}

func TestRedisStore_UnknownConversant(t *testing.T) {
	store, _ := newTestRedisStore(t)

	history, err := store.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRedisStore_Clear(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Append(ctx, "user", Turn{Role: RoleUser, Content: "hello"}))
	require.NoError(t, store.Clear(ctx, "user"))

	assert.False(t, mr.Exists("conversation:user"))
	history, err := store.History(ctx, "user")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRedisStore_SkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Append(ctx, "user", Turn{Role: RoleUser, Content: "valid"}))
	_, err := mr.RPush("conversation:user", "not json")
	require.NoError(t, err)

	history, err := store.History(ctx, "user")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "valid", history[0].Content)
}
