package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/z-wentao/vocalflow/pkg/app"
	"github.com/z-wentao/vocalflow/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	log.Println("✓ 配置加载成功")
	gin.SetMode(cfg.Server.Mode)

	// 2. 初始化组件
	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	defer a.Close()

	// 3. 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Serve(ctx); err != nil {
		log.Printf("❌ 服务器启动失败: %v", err)
	}
}
