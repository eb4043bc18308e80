package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aihub/whatsbot-go/internal/conversation"
	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/aihub/whatsbot-go/internal/kafka"
	"github.com/aihub/whatsbot-go/internal/knowledge"
	"github.com/aihub/whatsbot-go/internal/llm"
	"github.com/aihub/whatsbot-go/internal/logger"
	"go.uber.org/zap"
)

// ExchangeState 单次交换的状态机状态
type ExchangeState string

const (
	StateReceived   ExchangeState = "received"
	StateRetrieving ExchangeState = "retrieving"
	StateComposing  ExchangeState = "composing"
	StateGenerating ExchangeState = "generating"
	StatePersisting ExchangeState = "persisting"
	StateCompleted  ExchangeState = "completed"
	StateFailed     ExchangeState = "failed"
)

// FallbackReply 生成彻底失败时的固定回复，用户永远能收到回复
const FallbackReply = "I apologize, but I'm having trouble processing your message right now. Please try again later."

// ChatServiceOptions 聊天服务配置
type ChatServiceOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	MaxRetries   int
	RetryBackoff time.Duration
}

// ChatService 响应编排器。驱动 接收→检索→组装→生成→持久化 的完整交换，
// 同一会话方的交换串行执行，不同会话方并发。
type ChatService struct {
	retriever *knowledge.Retriever
	composer  *PromptComposer
	store     conversation.Store
	generator llm.Generator
	opts      ChatServiceOptions

	// 按会话方加锁，保证历史追加顺序
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChatService 创建聊天服务
func NewChatService(retriever *knowledge.Retriever, composer *PromptComposer, store conversation.Store, generator llm.Generator, opts ChatServiceOptions) *ChatService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	return &ChatService{
		retriever: retriever,
		composer:  composer,
		store:     store,
		generator: generator,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *ChatService) conversantLock(conversantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversantID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversantID] = lock
	}
	return lock
}

// ProcessMessage 处理一条入站消息并返回回复。
// 检索失败降级为无上下文继续；生成失败按退避重试，
// 耗尽后返回固定回复；历史只在回复确定之后写入。
func (s *ChatService) ProcessMessage(ctx context.Context, conversantID, message string) (string, error) {
	state := StateReceived
	if strings.TrimSpace(message) == "" {
		return "", apperrors.New(apperrors.ErrCodeEmptyMessage, "message is empty")
	}

	// Retrieving：检索失败不终止交换，降级为空上下文
	state = StateRetrieving
	degraded := false
	matches, err := s.retriever.Retrieve(ctx, message)
	if err != nil {
		degraded = true
		matches = nil
		retrievalDegradedTotal.Inc()
		logger.Warn("检索失败，本次交换不带知识库上下文",
			zap.String("conversant_id", conversantID),
			zap.Error(err))
	}

	// 从组装到持久化持有该会话方的锁，避免历史交错
	lock := s.conversantLock(conversantID)
	lock.Lock()
	defer lock.Unlock()

	// Composing
	state = StateComposing
	history, err := s.store.History(ctx, conversantID)
	if err != nil {
		logger.Warn("读取会话历史失败，按空历史处理",
			zap.String("conversant_id", conversantID),
			zap.Error(err))
		history = nil
	}
	prompt := s.composer.Compose(s.opts.SystemPrompt, matches, history, message)

	// Generating
	state = StateGenerating
	reply, attempts, genErr := s.generateWithRetry(ctx, prompt)
	fallback := false
	if genErr != nil {
		if ctx.Err() != nil {
			// 请求已被取消，放弃本次交换，不写入历史
			exchangesTotal.WithLabelValues(string(StateFailed)).Inc()
			return "", genErr
		}
		state = StateFailed
		fallback = true
		reply = FallbackReply
		fallbackRepliesTotal.Inc()
		logger.Error("生成重试耗尽，返回固定回复",
			zap.String("conversant_id", conversantID),
			zap.Int("attempts", attempts),
			zap.Error(genErr))
	}

	// Persisting：用户消息和回复作为一次逻辑更新写入，顺序固定
	if state != StateFailed {
		state = StatePersisting
	}
	now := time.Now()
	persistErr := s.store.Append(ctx, conversantID,
		conversation.Turn{Role: conversation.RoleUser, Content: message, Timestamp: now},
		conversation.Turn{Role: conversation.RoleAssistant, Content: reply, Timestamp: now},
	)
	if persistErr != nil {
		logger.Error("写入会话历史失败",
			zap.String("conversant_id", conversantID),
			zap.Error(persistErr))
	}

	if state != StateFailed {
		state = StateCompleted
	}
	exchangesTotal.WithLabelValues(string(state)).Inc()

	// 交换事件异步上报，不阻塞回复
	s.publishExchangeEvent(conversantID, message, reply, len(matches), degraded, fallback, attempts)

	logger.Info("交换完成",
		zap.String("conversant_id", conversantID),
		zap.String("state", string(state)),
		zap.Int("context_chunks", len(matches)),
		zap.Bool("degraded", degraded),
		zap.Bool("fallback", fallback))
	return reply, nil
}

// generateWithRetry 有界指数退避重试
func (s *ChatService) generateWithRetry(ctx context.Context, prompt llm.PromptRequest) (string, int, error) {
	backoff := s.opts.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		reply, err := s.generator.Generate(ctx, prompt, s.opts.MaxTokens, s.opts.Temperature)
		if err == nil {
			return reply, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", attempt, lastErr
		}
		if attempt == s.opts.MaxRetries {
			break
		}

		generationRetriesTotal.Inc()
		logger.Warn("生成失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", attempt, lastErr
		}
		backoff *= 2
	}

	return "", s.opts.MaxRetries, lastErr
}

func (s *ChatService) publishExchangeEvent(conversantID, message, reply string, contextChunks int, degraded, fallback bool, attempts int) {
	producer := kafka.GetProducer()
	if producer == nil {
		return
	}

	event := &kafka.ExchangeEvent{
		ConversantID:  conversantID,
		UserMessage:   message,
		Reply:         reply,
		ContextChunks: contextChunks,
		Degraded:      degraded,
		Fallback:      fallback,
		Attempts:      attempts,
		Timestamp:     time.Now(),
	}
	go func() {
		if err := producer.SendExchangeEvent(event); err != nil {
			logger.Error("发送交换事件失败",
				zap.String("conversant_id", conversantID),
				zap.Error(err))
		}
	}()
}
