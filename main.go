package main

import (
	"context"
	"log"
	"os"
	"time"

	"chatassist/internal/api"
	"chatassist/internal/config"
	"chatassist/internal/history"
	"chatassist/internal/service/ai"
	"chatassist/internal/uploads"
	"chatassist/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CHATASSIST_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	provider := cfg.BasicConfig.DefaultProvider
	aiFactory := func(modelName string) (worker.AICalling, error) {
		return ai.NewService(cfg, provider, modelName)
	}

	store := history.NewStore()
	workerCfg := worker.ManagerConfig{
		QueueSize:          cfg.BasicConfig.QueueSize,
		IdleTimeout:        time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		RequestTimeout:     time.Duration(cfg.BasicConfig.RequestTimeoutSeconds) * time.Second,
		MaxConcurrentCalls: cfg.BasicConfig.MaxConcurrentCalls,
	}
	manager := worker.NewManager(store, aiFactory, workerCfg)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	uploadStore := uploads.NewStore(fileBase)

	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.UploadCleanInterval) * time.Minute
	uploadTTL := time.Duration(cfg.BasicConfig.UploadTTL) * time.Minute
	uploadStore.StartCleaner(cleanCtx, cleanInterval, uploadTTL)

	handlers := api.NewHandler(manager, store, uploadStore)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8000"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
