package bootstrap

import (
	"log"
	"time"

	"github.com/aihub/whatsbot-go/internal/config"
	"github.com/aihub/whatsbot-go/internal/conversation"
	"github.com/aihub/whatsbot-go/internal/database"
	"github.com/aihub/whatsbot-go/internal/kafka"
	"github.com/aihub/whatsbot-go/internal/knowledge"
	"github.com/aihub/whatsbot-go/internal/llm"
	"github.com/aihub/whatsbot-go/internal/logger"
	"github.com/aihub/whatsbot-go/internal/services"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	ChatService       *services.ChatService
	Ingestor          *knowledge.Ingestor
	ConversationStore conversation.Store

	embedder     knowledge.Embedder
	vectorStore  knowledge.VectorStore
	cleanupTasks []func() error
}

// Global app instance for controllers to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// Init bootstraps configuration, logger, storage backends and the chat
// pipeline required by the Beego application.
func Init() (*App, error) {
	app, err := InitKnowledge()
	if err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	// Conversation store backend is a configuration concern; the chat
	// pipeline only sees the Store interface.
	var store conversation.Store
	switch cfg.Conversation.Backend {
	case "redis":
		client, err := database.InitRedis()
		if err != nil {
			return nil, err
		}
		app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
		store = conversation.NewRedisStore(client, cfg.Conversation.MaxHistory,
			time.Duration(cfg.Redis.TTL)*time.Second)
	default:
		store = conversation.NewMemoryStore(cfg.Conversation.MaxHistory)
	}
	app.ConversationStore = store

	// Optional Kafka exchange telemetry.
	if cfg.Kafka.Enabled {
		if err := kafka.InitProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			logger.Warn("Kafka初始化失败，交换事件不上报", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				return kafka.GetProducer().Close()
			})
		}
	}

	// LLM provider is selected once here; the orchestrator never
	// branches on provider identity.
	var generator llm.Generator
	switch cfg.AI.Provider {
	case "anthropic":
		generator = llm.NewAnthropicGenerator(cfg.AI.ClaudeAPIKey, cfg.AI.ClaudeModel)
	default:
		generator = llm.NewOpenAIGenerator(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIModel)
	}
	if !generator.Ready() {
		logger.Warn("LLM提供商未配置API key", zap.String("provider", cfg.AI.Provider))
	}

	retriever := knowledge.NewRetriever(app.embedder, app.vectorStore,
		cfg.Knowledge.TopK, cfg.Knowledge.MinScore)
	composer := services.NewPromptComposer(cfg.Knowledge.PromptBudget)

	app.ChatService = services.NewChatService(retriever, composer, store, generator,
		services.ChatServiceOptions{
			SystemPrompt: cfg.AI.SystemPrompt,
			MaxTokens:    cfg.AI.MaxTokens,
			Temperature:  cfg.AI.Temperature,
			MaxRetries:   cfg.AI.MaxRetries,
		})

	globalApp = app
	logger.Info("应用初始化完成",
		zap.String("llm_provider", cfg.AI.Provider),
		zap.String("vector_store", cfg.Knowledge.VectorStore.Provider),
		zap.String("conversation_backend", cfg.Conversation.Backend))
	return app, nil
}

// InitKnowledge bootstraps only the knowledge base pipeline. Used by the
// ingestion CLI, which has no need for conversation or LLM wiring.
func InitKnowledge() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load and validate configuration; invalid chunking parameters are
	// fatal here, before any external collaborator is touched.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	chunker, err := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	embedder := knowledge.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.AI.EmbeddingModel)
	if !embedder.Ready() {
		logger.Warn("嵌入模型未配置API key")
	}

	var store knowledge.VectorStore
	switch cfg.Knowledge.VectorStore.Provider {
	case "milvus":
		milvusCfg := cfg.Knowledge.VectorStore.Milvus
		store, err = knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:    milvusCfg.Address,
			Username:   milvusCfg.Username,
			Password:   milvusCfg.Password,
			Collection: milvusCfg.Collection,
			Database:   milvusCfg.Database,
			VectorSize: milvusCfg.VectorSize,
			UseTLS:     milvusCfg.TLS,
		})
		if err != nil {
			return nil, err
		}
	default:
		store = knowledge.NewMemoryVectorStore()
	}

	app := &App{
		Ingestor:    knowledge.NewIngestor(chunker, embedder, store),
		embedder:    embedder,
		vectorStore: store,
	}
	return app, nil
}

// Shutdown runs cleanup tasks in reverse registration order.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("清理任务失败", zap.Error(err))
		}
	}
	logger.Sync()
}
