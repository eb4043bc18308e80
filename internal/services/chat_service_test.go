package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aihub/whatsbot-go/internal/conversation"
	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/aihub/whatsbot-go/internal/knowledge"
	"github.com/aihub/whatsbot-go/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEmbedder 返回固定向量
type testEmbedder struct{}

func (testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (testEmbedder) Dimensions() int { return 2 }
func (testEmbedder) Ready() bool     { return true }

// brokenVectorStore 所有操作返回索引不可用
type brokenVectorStore struct{}

func (brokenVectorStore) Upsert(ctx context.Context, chunks []knowledge.Chunk) error {
	return apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) ReplaceSource(ctx context.Context, sourceRef string, chunks []knowledge.Chunk) error {
	return apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) Search(ctx context.Context, req knowledge.SearchRequest) ([]knowledge.SearchMatch, error) {
	return nil, apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) DeleteSource(ctx context.Context, sourceRef string) error {
	return apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) Clear(ctx context.Context) error {
	return apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) Count(ctx context.Context) (int, error) {
	return 0, apperrors.New(apperrors.ErrCodeIndexUnavailable, "index down")
}
func (brokenVectorStore) Ready() bool { return false }

// fakeGenerator 前failures次调用失败，之后返回固定回复
type fakeGenerator struct {
	failures   int
	calls      int
	reply      string
	lastPrompt llm.PromptRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt llm.PromptRequest, maxTokens int, temperature float64) (string, error) {
	g.calls++
	g.lastPrompt = prompt
	if g.calls <= g.failures {
		return "", apperrors.New(apperrors.ErrCodeGenerationUnavailable, "provider down")
	}
	return g.reply, nil
}

func (g *fakeGenerator) Ready() bool { return true }

// slowEchoGenerator 延迟后回显最后一个用户片段，用于并发测试
type slowEchoGenerator struct {
	delay time.Duration
}

func (g *slowEchoGenerator) Generate(ctx context.Context, prompt llm.PromptRequest, maxTokens int, temperature float64) (string, error) {
	time.Sleep(g.delay)
	last := prompt.Segments[len(prompt.Segments)-1]
	return "re:" + last.Content, nil
}

func (g *slowEchoGenerator) Ready() bool { return true }

func newTestChatService(t *testing.T, store knowledge.VectorStore, generator llm.Generator) (*ChatService, *conversation.MemoryStore) {
	t.Helper()
	retriever := knowledge.NewRetriever(testEmbedder{}, store, 3, 0)
	composer := NewPromptComposer(3000)
	convStore := conversation.NewMemoryStore(10)
	service := NewChatService(retriever, composer, convStore, generator, ChatServiceOptions{
		SystemPrompt: "You are a helpful assistant.",
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	return service, convStore
}

func seedKnowledge(t *testing.T, store knowledge.VectorStore) {
	t.Helper()
	err := store.Upsert(context.Background(), []knowledge.Chunk{
		{ID: "c1", Text: "营业时间为每天9点到18点。", SourceRef: "faq.txt", SequenceIndex: 0, Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)
}

func TestChatService_EmptyMessage(t *testing.T) {
	service, convStore := newTestChatService(t, knowledge.NewMemoryVectorStore(), &fakeGenerator{reply: "hi"})

	_, err := service.ProcessMessage(context.Background(), "user", "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmptyMessage, apperrors.CodeOf(err))

	// 被拒绝的消息不写入历史
	history, err := convStore.History(context.Background(), "user")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatService_HappyPath(t *testing.T) {
	ctx := context.Background()
	vectorStore := knowledge.NewMemoryVectorStore()
	seedKnowledge(t, vectorStore)
	generator := &fakeGenerator{reply: "每天9点到18点营业。"}
	service, convStore := newTestChatService(t, vectorStore, generator)

	reply, err := service.ProcessMessage(ctx, "whatsapp:+10000000001", "你们几点营业？")
	require.NoError(t, err)
	assert.Equal(t, "每天9点到18点营业。", reply)
	assert.Equal(t, 1, generator.calls)

	// 检索结果进入了提示词
	var promptText []string
	for _, segment := range generator.lastPrompt.Segments {
		promptText = append(promptText, segment.Content)
	}
	assert.Contains(t, strings.Join(promptText, "\n"), "营业时间为每天9点到18点。")

	// 用户消息在前，回复在后，作为一次更新写入
	history, err := convStore.History(ctx, "whatsapp:+10000000001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "你们几点营业？", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "每天9点到18点营业。", history[1].Content)
}

func TestChatService_DegradesWhenIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	generator := &fakeGenerator{reply: "reply without context"}
	service, convStore := newTestChatService(t, brokenVectorStore{}, generator)

	// 索引不可用时降级为无上下文，交换照常完成
	reply, err := service.ProcessMessage(ctx, "user", "question")
	require.NoError(t, err)
	assert.Equal(t, "reply without context", reply)

	for _, segment := range generator.lastPrompt.Segments {
		assert.NotContains(t, segment.Content, "Knowledge Base Context:")
	}

	history, err := convStore.History(ctx, "user")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatService_FallbackAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	generator := &fakeGenerator{failures: 100}
	service, convStore := newTestChatService(t, knowledge.NewMemoryVectorStore(), generator)

	reply, err := service.ProcessMessage(ctx, "user", "question")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply)
	assert.Equal(t, 3, generator.calls)

	// 固定回复同样写入历史
	history, err := convStore.History(ctx, "user")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, FallbackReply, history[1].Content)
}

func TestChatService_RetryRecovers(t *testing.T) {
	ctx := context.Background()
	generator := &fakeGenerator{failures: 2, reply: "recovered"}
	service, _ := newTestChatService(t, knowledge.NewMemoryVectorStore(), generator)

	reply, err := service.ProcessMessage(ctx, "user", "question")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, 3, generator.calls)
}

func TestChatService_CancelledContextAbandonsExchange(t *testing.T) {
	generator := &fakeGenerator{failures: 100}
	service, convStore := newTestChatService(t, knowledge.NewMemoryVectorStore(), generator)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.ProcessMessage(ctx, "user", "question")
	require.Error(t, err)

	// 被取消的交换不写入历史
	history, err := convStore.History(context.Background(), "user")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatService_SerializesExchangesPerConversant(t *testing.T) {
	ctx := context.Background()
	service, convStore := newTestChatService(t, knowledge.NewMemoryVectorStore(),
		&slowEchoGenerator{delay: 20 * time.Millisecond})

	// 同一会话方并发发两条消息：交换串行执行，历史不交错
	messages := []string{"first message", "second message"}
	errs := make(chan error, len(messages))
	var wg sync.WaitGroup
	for _, msg := range messages {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			_, err := service.ProcessMessage(ctx, "whatsapp:+10000000001", m)
			errs <- err
		}(msg)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := convStore.History(ctx, "whatsapp:+10000000001")
	require.NoError(t, err)
	require.Len(t, history, 4)

	// 历史为两个完整的 用户→助手 对，回复紧跟其对应的用户消息
	var userContents []string
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, conversation.RoleUser, history[i].Role)
		assert.Equal(t, conversation.RoleAssistant, history[i+1].Role)
		assert.Equal(t, "re:"+history[i].Content, history[i+1].Content)
		userContents = append(userContents, history[i].Content)
	}
	assert.ElementsMatch(t, messages, userContents)
}

func TestChatService_ConversantsAreIndependent(t *testing.T) {
	ctx := context.Background()
	service, convStore := newTestChatService(t, knowledge.NewMemoryVectorStore(),
		&slowEchoGenerator{delay: 5 * time.Millisecond})

	conversants := []string{"whatsapp:+10000000001", "whatsapp:+10000000002"}
	var wg sync.WaitGroup
	for _, id := range conversants {
		wg.Add(1)
		go func(conversantID string) {
			defer wg.Done()
			_, err := service.ProcessMessage(ctx, conversantID, "hello from "+conversantID)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// 各会话方只看到自己的交换
	for _, id := range conversants {
		history, err := convStore.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "hello from "+id, history[0].Content)
	}
}

func TestChatService_HistoryCarriesAcrossExchanges(t *testing.T) {
	ctx := context.Background()
	generator := &fakeGenerator{reply: "ok"}
	service, _ := newTestChatService(t, knowledge.NewMemoryVectorStore(), generator)

	_, err := service.ProcessMessage(ctx, "user", "first message")
	require.NoError(t, err)

	_, err = service.ProcessMessage(ctx, "user", "second message")
	require.NoError(t, err)

	// 第二次交换的提示词包含第一次的历史
	var promptText []string
	for _, segment := range generator.lastPrompt.Segments {
		promptText = append(promptText, segment.Content)
	}
	joined := strings.Join(promptText, "\n")
	assert.Contains(t, joined, "first message")
	assert.Contains(t, joined, "second message")
}
