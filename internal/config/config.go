package config

import (
	"os"
	"strings"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	AI           AIConfig
	Knowledge    KnowledgeConfig
	Conversation ConversationConfig
	Twilio       TwilioConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	TTL      int // 会话键过期时间（秒）
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// AIConfig LLM与嵌入模型配置
type AIConfig struct {
	Provider       string // openai 或 anthropic
	OpenAIAPIKey   string
	OpenAIModel    string
	ClaudeAPIKey   string
	ClaudeModel    string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	MaxRetries     int
	SystemPrompt   string
}

// KnowledgeConfig 知识库配置
type KnowledgeConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	MinScore     float64
	PromptBudget int // 组装提示词的token预算
	VectorStore  VectorStoreConfig
}

type VectorStoreConfig struct {
	Provider string // memory 或 milvus
	Milvus   MilvusConfig
}

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	TLS        bool
	VectorSize int
}

// ConversationConfig 会话历史配置
type ConversationConfig struct {
	Backend    string // memory 或 redis
	MaxHistory int    // 每个会话保留的最大消息条数
}

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
}

var AppConfig *Config

// LoadConfig 加载配置并校验，校验失败属于启动期致命错误
func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", 86400)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "bot-exchanges")
	viper.SetDefault("kafka.enabled", false)

	// AI配置默认值
	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.openai_model", "gpt-4-turbo-preview")
	viper.SetDefault("ai.claude_model", "claude-3-sonnet-20240229")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.max_tokens", 1000)
	viper.SetDefault("ai.temperature", 0.7)
	viper.SetDefault("ai.max_retries", 3)
	viper.SetDefault("ai.system_prompt", defaultSystemPrompt)

	// 知识库配置默认值
	viper.SetDefault("knowledge.chunk_size", 1000)
	viper.SetDefault("knowledge.chunk_overlap", 200)
	viper.SetDefault("knowledge.top_k", 3)
	viper.SetDefault("knowledge.min_score", 0.0)
	viper.SetDefault("knowledge.prompt_budget", 3000)
	viper.SetDefault("knowledge.vector_store.provider", "memory")
	viper.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("knowledge.vector_store.milvus.collection", "kb_chunks")
	viper.SetDefault("knowledge.vector_store.milvus.database", "default")
	viper.SetDefault("knowledge.vector_store.milvus.tls", false)
	viper.SetDefault("knowledge.vector_store.milvus.vector_size", 1536)

	// 会话配置默认值
	viper.SetDefault("conversation.backend", "memory")
	viper.SetDefault("conversation.max_history", 10)

	viper.SetDefault("twilio.whatsapp_number", "whatsapp:+14155238886")

	// 读取环境变量
	viper.SetEnvPrefix("WHATSBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 常用环境变量直接映射
	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("ai.openai_api_key", key)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		viper.Set("ai.claude_api_key", key)
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		viper.Set("ai.provider", provider)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		viper.Set("redis.port", redisPort)
	}
	if useRedis := os.Getenv("USE_REDIS"); useRedis == "true" {
		viper.Set("conversation.backend", "redis")
	}
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		viper.Set("twilio.account_sid", sid)
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		viper.Set("twilio.auth_token", token)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		parts := strings.Split(brokers, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		viper.Set("kafka.brokers", parts)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			TTL:      viper.GetInt("redis.ttl"),
		},
		Kafka: KafkaConfig{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
			Enabled: viper.GetBool("kafka.enabled"),
		},
		AI: AIConfig{
			Provider:       strings.ToLower(viper.GetString("ai.provider")),
			OpenAIAPIKey:   viper.GetString("ai.openai_api_key"),
			OpenAIModel:    viper.GetString("ai.openai_model"),
			ClaudeAPIKey:   viper.GetString("ai.claude_api_key"),
			ClaudeModel:    viper.GetString("ai.claude_model"),
			EmbeddingModel: viper.GetString("ai.embedding_model"),
			MaxTokens:      viper.GetInt("ai.max_tokens"),
			Temperature:    viper.GetFloat64("ai.temperature"),
			MaxRetries:     viper.GetInt("ai.max_retries"),
			SystemPrompt:   viper.GetString("ai.system_prompt"),
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    viper.GetInt("knowledge.chunk_size"),
			ChunkOverlap: viper.GetInt("knowledge.chunk_overlap"),
			TopK:         viper.GetInt("knowledge.top_k"),
			MinScore:     viper.GetFloat64("knowledge.min_score"),
			PromptBudget: viper.GetInt("knowledge.prompt_budget"),
			VectorStore: VectorStoreConfig{
				Provider: strings.ToLower(viper.GetString("knowledge.vector_store.provider")),
				Milvus: MilvusConfig{
					Address:    viper.GetString("knowledge.vector_store.milvus.address"),
					Username:   viper.GetString("knowledge.vector_store.milvus.username"),
					Password:   viper.GetString("knowledge.vector_store.milvus.password"),
					Collection: viper.GetString("knowledge.vector_store.milvus.collection"),
					Database:   viper.GetString("knowledge.vector_store.milvus.database"),
					TLS:        viper.GetBool("knowledge.vector_store.milvus.tls"),
					VectorSize: viper.GetInt("knowledge.vector_store.milvus.vector_size"),
				},
			},
		},
		Conversation: ConversationConfig{
			Backend:    strings.ToLower(viper.GetString("conversation.backend")),
			MaxHistory: viper.GetInt("conversation.max_history"),
		},
		Twilio: TwilioConfig{
			AccountSID:     viper.GetString("twilio.account_sid"),
			AuthToken:      viper.GetString("twilio.auth_token"),
			WhatsAppNumber: viper.GetString("twilio.whatsapp_number"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// Validate 校验配置不变式
func (c *Config) Validate() error {
	if c.Knowledge.ChunkSize <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "chunk_size必须大于0，当前为%d", c.Knowledge.ChunkSize)
	}
	if c.Knowledge.ChunkOverlap < 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "chunk_overlap不能为负数，当前为%d", c.Knowledge.ChunkOverlap)
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig,
			"chunk_overlap(%d)必须小于chunk_size(%d)", c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize)
	}
	if c.Knowledge.TopK <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "top_k必须大于0，当前为%d", c.Knowledge.TopK)
	}
	if c.Conversation.MaxHistory <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "max_history必须大于0，当前为%d", c.Conversation.MaxHistory)
	}
	switch c.Conversation.Backend {
	case "memory", "redis":
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "未知的会话存储后端: %s", c.Conversation.Backend)
	}
	switch c.Knowledge.VectorStore.Provider {
	case "memory", "milvus":
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "未知的向量存储后端: %s", c.Knowledge.VectorStore.Provider)
	}
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidConfig, "未知的LLM提供商: %s", c.AI.Provider)
	}
	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	return AppConfig
}

const defaultSystemPrompt = `You are a helpful AI assistant for a business. Your role is to answer customer questions accurately and professionally based on the provided knowledge base.

Guidelines:
- Be friendly, professional, and concise
- Use the knowledge base context to answer questions accurately
- If you don't know something or it's not in the knowledge base, admit it politely
- Stay on topic and relevant to the business
- Keep responses brief and to the point (WhatsApp messages should be concise)
- If a customer needs human assistance, politely suggest they wait for a human representative`
