package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/research-assistant/api"
	"github.com/fyerfyer/research-assistant/api/handler"
	"github.com/fyerfyer/research-assistant/api/middleware"
	appconfig "github.com/fyerfyer/research-assistant/config"
	"github.com/fyerfyer/research-assistant/internal/cache"
	"github.com/fyerfyer/research-assistant/internal/database"
	"github.com/fyerfyer/research-assistant/internal/document"
	"github.com/fyerfyer/research-assistant/internal/embedding"
	"github.com/fyerfyer/research-assistant/internal/llm"
	"github.com/fyerfyer/research-assistant/internal/ocr"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/services"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
	"github.com/fyerfyer/research-assistant/internal/websearch"
	"github.com/fyerfyer/research-assistant/pkg/storage"
	"github.com/fyerfyer/research-assistant/pkg/taskqueue"
)

// 命令行参数
type flags struct {
	ConfigFile string // 配置文件路径
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	LogFile    string // 日志文件路径，留空表示仅输出到stdout
}

func main() {
	f := parseFlags()

	// 加载.env文件，不存在时忽略
	_ = godotenv.Load()

	cfg, err := appconfig.Load(f.ConfigFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(f.Mode)

	logger := setupLogger(f)
	logger.Info("Starting research assistant server...")

	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	embeddingClient, err := setupEmbedding(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}

	llmClient, err := setupLLM(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize LLM client: %v", err)
	}

	answerCache, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 初始化仓储层
	sessionRepo := repository.NewSessionRepositoryWithDB(database.MustDB())
	docRepo := repository.NewDocumentRepositoryWithDB(database.MustDB())

	// 会话管理器，每个会话持有独立的向量索引和对话记忆
	sessions := services.NewSessionManager(sessionRepo, vectorConfig(cfg),
		services.WithMaxTurns(cfg.Session.MaxTurns),
		services.WithSessionLogger(logger),
	)

	// 文档摄取服务
	ingestionOptions := []services.IngestionOption{
		services.WithIngestionLogger(logger),
		services.WithBatchSize(cfg.Embed.BatchSize),
	}
	if cfg.OCR.Enable {
		ingestionOptions = append(ingestionOptions, services.WithOCREngine(ocr.NewTesseractEngine(ocr.Config{
			Binary:  cfg.OCR.Binary,
			Lang:    cfg.OCR.Lang,
			Timeout: cfg.OCR.Timeout,
		})))
	}
	if queue != nil {
		ingestionOptions = append(ingestionOptions, services.WithTaskQueue(queue))
		logger.Info("Document ingestion will use async task queue")
	}

	ingestion := services.NewIngestionService(
		fileStorage,
		sessions,
		document.NewChunker(cfg.Document.MaxChars),
		embeddingClient,
		docRepo,
		ingestionOptions...,
	)

	// 问答服务
	assistantOptions := []services.AssistantOption{
		services.WithSearchLimit(cfg.Search.TopK),
		services.WithMinScore(cfg.Search.MinScore),
		services.WithCacheTTL(time.Duration(cfg.Cache.TTL) * time.Second),
		services.WithAssistantLogger(logger),
	}
	if cfg.WebSearch.Enable {
		assistantOptions = append(assistantOptions, services.WithWebSearch(websearch.NewDuckDuckGoProvider(websearch.Config{
			Endpoint:   cfg.WebSearch.Endpoint,
			MaxResults: cfg.WebSearch.MaxResults,
			Timeout:    cfg.WebSearch.Timeout,
		})))
	}

	assistant := services.NewAssistantService(
		sessions,
		embeddingClient,
		llmClient,
		answerCache,
		sessionRepo,
		assistantOptions...,
	)

	// 启动任务队列工作进程
	if queue != nil {
		worker := taskqueue.NewRedisWorker(queue.(*taskqueue.RedisQueue), nil)
		ingestion.RegisterHandlers(worker)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start task queue worker: %v", err)
		}
		defer worker.Stop()
	}

	// 定期回收空闲会话的内存上下文
	evictCtx, stopEvict := context.WithCancel(context.Background())
	defer stopEvict()
	go evictLoop(evictCtx, sessions, logger)

	// 设置路由
	r := api.SetupRouter(
		handler.NewSessionHandler(sessions, assistant),
		handler.NewDocumentHandler(ingestion),
		handler.NewQAHandler(assistant),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	// 持久化并关闭所有活跃会话的索引
	sessions.EvictIdleContexts(0)

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.StringVar(&f.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&f.LogFile, "log-file", "", "Log file path (empty for stdout only)")

	flag.Parse()
	return f
}

// setupLogger 设置日志系统
func setupLogger(f flags) *logrus.Logger {
	if f.LogFile != "" {
		middleware.InitFileLogging(f.LogFile)
	}
	logger := middleware.GetLogger()

	switch f.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// vectorConfig 将应用配置转换为向量索引配置
func vectorConfig(cfg *appconfig.Config) vectordb.Config {
	distance := vectordb.Cosine
	if cfg.VectorDB.Distance == "dot" {
		distance = vectordb.DotProduct
	}

	return vectordb.Config{
		Type:              cfg.VectorDB.Type,
		Path:              cfg.VectorDB.Path,
		Dimension:         cfg.VectorDB.Dim,
		DistanceType:      distance,
		CreateIfNotExists: true,
	}
}

// setupStorage 设置文件存储服务
func setupStorage(cfg *appconfig.Config) (storage.Storage, error) {
	if cfg.Storage.Type == "minio" {
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return storage.NewLocalStorage(storage.LocalConfig{
		Path: cfg.Storage.Path,
	})
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg *appconfig.Config) (embedding.Client, error) {
	return embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
		embedding.WithTimeout(cfg.Embed.Timeout),
	)
}

// setupLLM 设置生成模型客户端
func setupLLM(cfg *appconfig.Config) (llm.Client, error) {
	return llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithBaseURL(cfg.LLM.Endpoint),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
}

// setupCache 设置问答缓存
func setupCache(cfg *appconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:       cfg.Cache.Type,
		DefaultTTL: time.Duration(cfg.Cache.TTL) * time.Second,
	}

	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupDatabase 设置数据库
func setupDatabase(cfg *appconfig.Config, logger *logrus.Logger) error {
	if cfg.Database.Type == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	dbConfig := &database.Config{
		Type: cfg.Database.Type,
		DSN:  cfg.Database.DSN,
	}

	return database.Setup(dbConfig, logger)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *appconfig.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := taskqueue.DefaultConfig()
	queueConfig.RedisAddr = cfg.Queue.RedisAddr
	queueConfig.RedisPassword = cfg.Queue.RedisPassword
	queueConfig.RedisDB = cfg.Queue.RedisDB
	if cfg.Queue.Concurrency > 0 {
		queueConfig.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.RetryLimit > 0 {
		queueConfig.RetryLimit = cfg.Queue.RetryLimit
	}

	logger.WithFields(logrus.Fields{
		"redis_addr":  queueConfig.RedisAddr,
		"concurrency": queueConfig.Concurrency,
		"retry_limit": queueConfig.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue("redis", queueConfig)
}

// evictLoop 定期把空闲超过一小时的会话上下文持久化并移出内存
func evictLoop(ctx context.Context, sessions *services.SessionManager, logger *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.EvictIdleContexts(time.Hour); n > 0 {
				logger.WithField("evicted", n).Info("Evicted idle session contexts")
			}
		}
	}
}
