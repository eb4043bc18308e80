package controllers

import (
	"net/http"

	"github.com/aihub/whatsbot-go/app/bootstrap"
)

// RootController 服务状态
type RootController struct {
	BaseController
}

// Index 健康检查与基础信息
func (c *RootController) Index() {
	app := bootstrap.GetApp()
	count, _ := app.Ingestor.Count(c.Ctx.Request.Context())
	c.JSON(http.StatusOK, map[string]interface{}{
		"status":                   "running",
		"app":                      "WhatsApp AI Bot",
		"knowledge_base_documents": count,
	})
}

// HealthController 监控探活
type HealthController struct {
	BaseController
}

// Health 探活接口
func (c *HealthController) Health() {
	c.JSON(http.StatusOK, map[string]interface{}{"status": "healthy"})
}
