package controllers

import (
	"encoding/xml"
	"strings"

	"github.com/aihub/whatsbot-go/app/bootstrap"
	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/aihub/whatsbot-go/internal/logger"
	"go.uber.org/zap"
)

// WebhookController 接收Twilio WhatsApp webhook
type WebhookController struct {
	BaseController
}

// twimlResponse Twilio TwiML回复体
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// Post 处理入站WhatsApp消息。无论内部如何失败，
// 发送方都会收到一条回复。
func (c *WebhookController) Post() {
	from := c.GetString("From")
	body := c.GetString("Body")
	profileName := c.GetString("ProfileName")
	messageSid := c.GetString("MessageSid")

	logger.Info("收到WhatsApp消息",
		zap.String("from", from),
		zap.String("profile_name", profileName),
		zap.String("message_sid", messageSid))

	if strings.TrimSpace(from) == "" {
		c.writeTwiML("Sorry, I could not identify the sender of this message.")
		return
	}

	app := bootstrap.GetApp()
	reply, err := app.ChatService.ProcessMessage(c.Ctx.Request.Context(), from, body)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeEmptyMessage) {
			c.writeTwiML("Please send a text message so I can help you.")
			return
		}
		logger.Error("处理消息失败",
			zap.String("from", from),
			zap.Error(err))
		c.writeTwiML("Sorry, I encountered an error. Please try again later.")
		return
	}

	c.writeTwiML(reply)
}

// writeTwiML 输出TwiML格式的回复
func (c *WebhookController) writeTwiML(message string) {
	payload, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		c.JSONError(500, "failed to build response")
		return
	}

	c.Ctx.Output.Header("Content-Type", "text/xml; charset=utf-8")
	c.Ctx.Output.Body(append([]byte(xml.Header), payload...))
}
