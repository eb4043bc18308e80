package router

import (
	"github.com/aihub/whatsbot-go/app/controllers"
	"github.com/aihub/whatsbot-go/internal/services"
	"github.com/beego/beego/v2/server/web"
)

// Init registers all routes. Must be called after bootstrap.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")

	// Twilio webhook
	web.Router("/webhook/whatsapp", &controllers.WebhookController{}, "post:Post")

	// 知识库路由
	knowledgeController := &controllers.KnowledgeController{}
	web.Router("/knowledge-base/count", knowledgeController, "get:Count")
	web.Router("/knowledge-base/clear", knowledgeController, "post:Clear")
	web.Router("/knowledge-base/ingest-text", knowledgeController, "post:IngestText")

	// 会话历史路由
	conversationController := &controllers.ConversationController{}
	web.Router("/conversation/clear/:phone", conversationController, "post:Clear")
	web.Router("/conversation/:phone", conversationController, "get:Get")

	// Prometheus指标
	web.Handler("/metrics", services.NewMetricsService().Handler())
}
