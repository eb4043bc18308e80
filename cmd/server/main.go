package main

import (
	"log"
	"strconv"

	"github.com/aihub/whatsbot-go/app/bootstrap"
	"github.com/aihub/whatsbot-go/app/router"
	"github.com/aihub/whatsbot-go/internal/config"
	"github.com/aihub/whatsbot-go/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init()

	// 配置Beego全局设置
	web.BConfig.AppName = "WhatsApp AI Bot"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	}

	logger.Info("🚀 Starting WhatsApp AI Bot", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
