package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apexwatch/internal/config"
	"apexwatch/internal/database"
	"apexwatch/internal/handlers"
	"apexwatch/internal/jobs"
	"apexwatch/internal/logging"
	"apexwatch/internal/middleware"
	"apexwatch/internal/prompt"
	"apexwatch/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting ApexWatch Core Engine...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err == nil {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Queue: %s)", cfg.Port, cfg.QueueStream)

	if cfg.AccessKey == "" {
		log.Println("⚠️  ACCESS_KEY not set - API runs unauthenticated (development mode only)")
	}

	// Relational store (thought ledger + analytics)
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Redis (event queue + context store)
	redisService, err := services.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	queueService, err := services.NewQueueService(redisService,
		cfg.QueueStream, cfg.QueueGroup, cfg.QueueConsumer, cfg.DeadLetterStream)
	if err != nil {
		log.Fatalf("❌ Failed to initialize event queue: %v", err)
	}

	contextService := services.NewContextService(redisService)
	refreshService := services.NewRefreshService(cfg.AccessKey, cfg.RefreshTimeout)
	ledgerService := services.NewLedgerService(db)
	analyticsService := services.NewAnalyticsService(db)

	assetService, err := services.NewAssetService(cfg.AssetsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load asset configurations: %v", err)
	}
	defer assetService.Close()

	backoff := services.NewBackoffCalculator(cfg.BackoffInitial, cfg.BackoffMax, 2.0, 20)
	llmService := services.NewLLMService(
		services.ModelBackend{
			Name:    "primary",
			BaseURL: cfg.PrimaryModelURL,
			APIKey:  cfg.PrimaryModelKey,
			Model:   cfg.PrimaryModel,
		},
		services.ModelBackend{
			Name:    "secondary",
			BaseURL: cfg.SecondaryModelURL,
			APIKey:  cfg.SecondaryModelKey,
			Model:   cfg.SecondaryModel,
		},
		cfg.ModelTimeout, cfg.ModelMaxRetries, backoff,
	)

	metrics := services.InitMetrics(queueService)
	composer := prompt.New(cfg.PromptBudget)

	processor := services.NewProcessorService(
		queueService, contextService, refreshService, composer,
		llmService, ledgerService, analyticsService, assetService,
		metrics, backoff,
	)

	// Maintenance jobs: retention pruning + stale pending reclaim
	maintenance, err := jobs.NewMaintenance(ledgerService, queueService, cfg.ThoughtRetention)
	if err != nil {
		log.Fatalf("❌ Failed to create maintenance scheduler: %v", err)
	}
	if err := maintenance.Start(); err != nil {
		log.Fatalf("❌ Failed to start maintenance jobs: %v", err)
	}
	defer maintenance.Stop()

	// The sequential processing loop: exactly one per deployment.
	// Running a second replica against the same consumer name would
	// break the ordering guarantee.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		processor.Run(loopCtx)
	}()

	// HTTP surface
	app := fiber.New(fiber.Config{
		AppName:      "ApexWatch Core v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("apexwatch")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins: getAllowedOrigins(),
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Access-Key",
	}))

	healthHandler := handlers.NewHealthHandler(redisService, db)
	eventHandler := handlers.NewEventHandler(queueService)
	contextHandler := handlers.NewContextHandler(contextService, ledgerService, analyticsService)
	assetHandler := handlers.NewAssetHandler(assetService)

	app.Get("/health", healthHandler.HandleHealth)

	api := app.Group("/api", middleware.AccessKeyMiddleware(cfg.AccessKey))
	api.Post("/events", eventHandler.HandleSubmit)
	api.Get("/queue/status", eventHandler.HandleQueueStatus)
	api.Get("/context/:asset_id", contextHandler.HandleGetContext)
	api.Get("/thoughts/:asset_id", contextHandler.HandleGetThoughts)
	api.Get("/analytics/:asset_id", contextHandler.HandleGetAnalytics)
	api.Get("/assets", assetHandler.HandleList)
	api.Get("/assets/:id", assetHandler.HandleGet)
	api.Put("/assets/:id", assetHandler.HandleUpdate)

	// Graceful shutdown: stop the loop first so the in-flight event is
	// either acknowledged or left pending for redelivery, then drain
	// the HTTP server.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Println("🛑 Shutdown signal received")

		stopLoop()
		select {
		case <-loopDone:
		case <-time.After(30 * time.Second):
			log.Println("⚠️  Processing loop did not stop in time")
		}

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️  HTTP shutdown error: %v", err)
		}
	}()

	log.Printf("🌐 Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}

	log.Println("👋 ApexWatch Core stopped")
}

func getAllowedOrigins() string {
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		return origins
	}
	return "http://localhost:5173,http://localhost:3000"
}
