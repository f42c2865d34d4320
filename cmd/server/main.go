// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/handler"
	"insight-vault-go/internal/jobrunner"
	"insight-vault-go/internal/middleware"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/pipeline"
	"insight-vault-go/internal/repository"
	"insight-vault-go/internal/service"
	"insight-vault-go/pkg/database"
	"insight-vault-go/pkg/embedding"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/log"
	"insight-vault-go/pkg/searchindex"
	"insight-vault-go/pkg/storage"
	"insight-vault-go/pkg/tika"
	"insight-vault-go/pkg/token"
	"insight-vault-go/pkg/transcribe"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施：数据库、Redis、对象存储、检索索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(
		&model.SourceDocument{},
		&model.Segment{},
		&model.ResearchSegmentTag{},
		&model.ResearchBatch{},
		&model.JobStepRecord{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := searchindex.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}

	// 4. 初始化 Repository
	docRepo := repository.NewSourceDocumentRepository(database.DB)
	segmentRepo := repository.NewSegmentRepository(database.DB)
	batchRepo := repository.NewResearchBatchRepository(database.DB)
	stepRepo := repository.NewStepRecordRepository(database.DB)

	// 5. 初始化外部服务客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	transcribeClient := transcribe.NewClient(cfg.Transcription)
	objectStore := storage.NewObjectStore()
	publisher := events.NewKafkaPublisher(cfg.Kafka)
	embedder := pipeline.NewEmbedder(embeddingClient, cfg.Pipeline.EmbedBatchSize)
	indexer := searchindex.NewIndexer(cfg.Elasticsearch.IndexName)

	// 6. 初始化摄取管道和任务运行器
	pl := pipeline.NewPipeline(
		docRepo, segmentRepo, batchRepo, objectStore, publisher,
		embedder, transcribeClient, tikaClient, indexer,
		cfg.MinIO, cfg.Pipeline,
	)
	runner := jobrunner.NewRunner(stepRepo)

	// 7. 启动后台消费者：每类任务一个 Topic，
	// 协程池大小即该任务声明的并发上限
	startJobConsumer(cfg, cfg.Kafka.Topics.AudioUploaded, runner, pl.AudioIngestJob())
	startJobConsumer(cfg, cfg.Kafka.Topics.PDFUploaded, runner, pl.PDFIngestJob())
	startJobConsumer(cfg, cfg.Kafka.Topics.ResearchCreated, runner, pl.ResearchIngestJob())
	startJobConsumer(cfg, cfg.Kafka.Topics.TextExtracted, runner, pl.EmbedJob())

	// 8. 初始化 Service 与 Handler
	sourceService := service.NewSourceService(docRepo, segmentRepo, objectStore, publisher, cfg.MinIO)
	researchService := service.NewResearchService(batchRepo, docRepo, objectStore, publisher, cfg.MinIO)
	searchService := service.NewSearchService(embedder, searchindex.ESClient, cfg.Elasticsearch)

	sourceHandler := handler.NewSourceHandler(sourceService)
	researchHandler := handler.NewResearchHandler(researchService)
	searchHandler := handler.NewSearchHandler(searchService)
	progressHandler := handler.NewProgressHandler(sourceService)

	// 9. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		sources := apiV1.Group("/sources")
		{
			sources.POST("/upload", sourceHandler.Upload)
			sources.GET("", sourceHandler.List)
			sources.GET("/:id", sourceHandler.Get)
			sources.GET("/:id/segments", sourceHandler.Segments)
			sources.GET("/:id/download", sourceHandler.DownloadURL)
			sources.POST("/:id/reprocess", sourceHandler.Reprocess)
			sources.GET("/:id/progress", progressHandler.Watch)
		}

		research := apiV1.Group("/research")
		{
			research.POST("/batches", researchHandler.CreateBatch)
			research.GET("/batches/:id", researchHandler.BatchStatus)
		}

		apiV1.GET("/search", searchHandler.SemanticSearch)
	}

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// startJobConsumer 为一类任务启动 Kafka 消费循环。
// 协程池容量等于任务声明的并发上限，池满时新消息在 Submit 处排队，
// 不会有超出上限的任务实例同时运行。
func startJobConsumer(cfg config.Config, topic string, runner *jobrunner.Runner, job jobrunner.Job) {
	concurrency := job.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		log.Fatalf("创建任务 '%s' 的协程池失败: %v", job.Name, err)
	}
	go events.StartConsumer(cfg.Kafka, topic, pool, runner.Handler(job))
	log.Infof("任务消费者已启动: %s, topic: %s, 并发上限: %d", job.Name, topic, concurrency)
}
