package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/handler"
	"github.com/Pe4enIks/Real-ESRGAN/middleware"
	"github.com/Pe4enIks/Real-ESRGAN/service"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting upscale server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("backend", cfg.Model.Backend),
		zap.Int("scale", cfg.Model.Scale))

	// 确保工作目录存在
	for _, dir := range []string{cfg.Upload.UploadDir, cfg.Upload.OutputDir, cfg.Model.WeightsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			utils.Logger.Fatal("failed to create directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	// 初始化Redis
	redisService := service.NewRedisService(&cfg.Redis)
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
	}
	defer redisService.Close()

	// 初始化超分服务（native/hosted 后端需要外部注入网络实现，
	// 服务模式下使用 graph 或 remote 后端）
	enhancer, err := service.NewEnhancer(&cfg.Model, nil)
	if err != nil {
		utils.Logger.Fatal("failed to initialize enhancer", zap.Error(err))
	}
	defer enhancer.Close()

	// 初始化Handler
	upscaleHandler := handler.NewUpscaleHandler(cfg, redisService, enhancer)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 结果文件静态服务
	r.Static("/results", cfg.Upload.OutputDir)

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/upscale", upscaleHandler.Upscale)
		api.GET("/result/:md5", upscaleHandler.GetByMD5)
	}

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
