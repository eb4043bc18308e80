package controllers

import (
	"net/http"

	"github.com/aihub/whatsbot-go/app/bootstrap"
)

// ConversationController 会话历史管理接口
type ConversationController struct {
	BaseController
}

// Get 获取某个号码的会话历史
func (c *ConversationController) Get() {
	phone := c.Ctx.Input.Param(":phone")
	if phone == "" {
		c.JSONError(http.StatusBadRequest, "missing phone number")
		return
	}

	app := bootstrap.GetApp()
	history, err := app.ConversationStore.History(c.Ctx.Request.Context(), phone)
	if err != nil {
		c.JSONError(http.StatusServiceUnavailable, err.Error())
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"phone_number": phone,
		"history":      history,
	})
}

// Clear 清除某个号码的会话历史
func (c *ConversationController) Clear() {
	phone := c.Ctx.Input.Param(":phone")
	if phone == "" {
		c.JSONError(http.StatusBadRequest, "missing phone number")
		return
	}

	app := bootstrap.GetApp()
	if err := app.ConversationStore.Clear(c.Ctx.Request.Context(), phone); err != nil {
		c.JSONError(http.StatusServiceUnavailable, err.Error())
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "cleared",
		"phone_number": phone,
	})
}
