package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"fileguard/internal/api"
	"fileguard/internal/config"
	"fileguard/internal/database"
	"fileguard/internal/logging"
	"fileguard/internal/repository/postgres"
	"fileguard/internal/scan"
	"fileguard/internal/service"
	"fileguard/internal/storage"
	"fileguard/internal/storage/local"
	"fileguard/internal/storage/s3"
	"fileguard/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New()
	logger.Println("配置加载完成，开始启动服务")

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	var store storage.Store
	switch cfg.StorageDriver {
	case "s3":
		store, err = s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			logger.Fatalf("初始化 S3 存储失败: %v", err)
		}
	default:
		store = local.New(cfg.StorageDir, cfg.StorageBaseURL)
	}

	var analyzer vision.Analyzer
	if cfg.AnalyzerMode == config.AnalyzerModeSimulated {
		logger.Println("图像分析运行在显式模拟模式")
		analyzer = vision.Simulated{}
	} else {
		analyzer = vision.NewClient(cfg.VisionAPIKey, cfg.VisionEndpoint)
	}

	fileRepo := postgres.NewFileRepository(db)
	scanRepo := postgres.NewScanRepository(db)
	engine := scan.NewEngine(analyzer)
	reconciler := service.NewReconciler(fileRepo, scanRepo, store, engine, logger)
	fileHandler := api.NewFileHandler(reconciler, cfg.MaxUploadBytes)

	router := api.NewRouter(cfg, fileHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Printf("服务监听端口 :%s\n", cfg.HTTPPort)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("监听失败: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("优雅关闭失败: %v", err)
	}

	logger.Println("服务已停止")
}
