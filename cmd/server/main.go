// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"content-system-go/internal/app"
	"content-system-go/internal/config"
	"content-system-go/internal/handler"
	"content-system-go/internal/middleware"
	"content-system-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、缓存、外部客户端和 Service
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("应用初始化失败", err)
	}

	// 4. 启动后台任务
	a.StartJobs()

	// 5. 设置 Gin 路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "cache": a.Cache.Kind()})
	})

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(a.JWT))
	handler.RegisterRoutes(api, handler.Handlers{
		Tree:   handler.NewTreeHandler(a.Sites),
		Page:   handler.NewPageHandler(a.Pages),
		Jira:   handler.NewJiraHandler(a.Jira),
		Search: handler.NewSearchHandler(a.Search),
	})

	// 6. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", err)
		}
	}()

	<-ctx.Done()
	log.Info("正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭失败", err)
	}
	if err := a.Close(cfg.Sync.ShutdownTimeout); err != nil {
		log.Error("后台任务关闭失败", err)
	}
	log.Info("服务已退出")
}
