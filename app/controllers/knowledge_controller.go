package controllers

import (
	"net/http"

	"github.com/aihub/whatsbot-go/app/bootstrap"
	"github.com/aihub/whatsbot-go/internal/logger"
	"go.uber.org/zap"
)

// KnowledgeController 知识库管理接口
type KnowledgeController struct {
	BaseController
}

// Count 返回知识库中chunk总数
func (c *KnowledgeController) Count() {
	app := bootstrap.GetApp()
	count, err := app.Ingestor.Count(c.Ctx.Request.Context())
	if err != nil {
		c.JSONError(http.StatusServiceUnavailable, err.Error())
		return
	}
	c.JSONSuccess(map[string]interface{}{"count": count})
}

// Clear 清空知识库
func (c *KnowledgeController) Clear() {
	app := bootstrap.GetApp()
	ctx := c.Ctx.Request.Context()
	if err := app.Ingestor.ClearAll(ctx); err != nil {
		c.JSONError(http.StatusServiceUnavailable, err.Error())
		return
	}
	count, _ := app.Ingestor.Count(ctx)
	c.JSONSuccess(map[string]interface{}{"status": "cleared", "count": count})
}

// IngestTextRequest 文本摄取请求体
type IngestTextRequest struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"`
}

// IngestText 摄取一段原始文本
func (c *KnowledgeController) IngestText() {
	var req IngestTextRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		c.JSONError(http.StatusBadRequest, "missing 'text' in request")
		return
	}

	app := bootstrap.GetApp()
	chunks, err := app.Ingestor.IngestText(c.Ctx.Request.Context(), req.Text, req.SourceRef)
	if err != nil {
		logger.Error("文本摄取失败", zap.Error(err))
		c.JSONError(http.StatusServiceUnavailable, err.Error())
		return
	}

	c.JSONSuccess(map[string]interface{}{"chunks": chunks})
}
