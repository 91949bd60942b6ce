package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/clock"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/mq"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	utils.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clk := clock.Real()

	var (
		db                *sql.DB
		scheduledPostRepo repository.ScheduledPostRepository
		socialAccountRepo repository.SocialAccountRepository
		sinks             = service.OutcomeSinks{service.NewLogSink(), service.NewMetricsSink()}
	)

	switch cfg.Dispatch.StoreDriver {
	case config.StoreDriverPostgres:
		var err error
		db, err = sql.Open("postgres", cfg.PostgresURI)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer closeDB(db)

		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Database is unreachable: %v", err)
		}

		scheduledPostRepo = repository.NewScheduledPostRepository(db)
		socialAccountRepo = repository.NewSocialAccountRepository(db)
		sinks = append(sinks, service.NewHistorySink(repository.NewPostingHistoryRepository(db)))
	default:
		log.Println("Using in-memory store; scheduled posts will not survive a restart")
		scheduledPostRepo = repository.NewMemoryScheduledPostRepository()
		socialAccountRepo = repository.NewMemorySocialAccountRepository()
	}

	if err := scheduledPostRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}

	if cfg.AmqpURI != "" {
		conn, err := mq.NewConnection(cfg.AmqpURI)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		sinks = append(sinks, service.NewEventSink(mq.NewPublisher(conn)))
	}

	r2Service, err := service.NewR2Service(*cfg)
	if err != nil {
		log.Fatalf("Failed to create object storage client: %v", err)
	}

	instagramService := service.NewInstagramService(*cfg, socialAccountRepo, r2Service)
	tiktokService := service.NewTiktokService(*cfg, socialAccountRepo, r2Service)
	youtubeService := service.NewYoutubeService(*cfg, socialAccountRepo, r2Service)
	registry := service.NewPublisherRegistry(instagramService, tiktokService, youtubeService)

	dispatchService := service.NewDispatchService(registry, scheduledPostRepo, sinks, clk, service.DispatchOptions{
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		RatePerMinute:  cfg.Dispatch.ProviderRatePerMinute,
	})

	var timers service.TimerDispatcher
	var asynqServer *asynq.Server
	var timerDone chan struct{}

	switch cfg.Dispatch.TimerBackend {
	case config.TimerBackendRedis:
		redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
		asynqDispatcher := queue.NewAsynqDispatcher(redisConn)
		defer asynqDispatcher.Close()
		timers = asynqDispatcher

		asynqServer = asynq.NewServer(redisConn, asynq.Config{
			Concurrency: cfg.Dispatch.WorkerConcurrency,
		})
		worker := queue.NewWorker(dispatchService)
		log.Println("Starting the Asynq server...")
		if err := asynqServer.Start(worker.Mux()); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	default:
		timerQueue := queue.NewTimerQueue(dispatchService, clk, cfg.Dispatch.WorkerConcurrency)
		timers = timerQueue
		timerDone = make(chan struct{})
		go func() {
			defer close(timerDone)
			timerQueue.Run(ctx)
		}()
	}

	scheduleService := service.NewScheduleService(registry, timers, scheduledPostRepo, clk, service.ScheduleOptions{
		NearTermThreshold: cfg.Dispatch.NearTermThreshold,
		PastDueTolerance:  cfg.Dispatch.PastDueTolerance,
	})

	// cron jobs
	sweepJob := job.NewSweepJob(scheduledPostRepo, timers, clk, job.SweepOptions{
		Lookahead:       cfg.Dispatch.SweepLookahead,
		OverdueGrace:    cfg.Dispatch.OverdueGrace,
		StaleClaimAfter: cfg.Dispatch.StaleClaimAfter,
		BatchSize:       cfg.Dispatch.SweepBatchSize,
	})
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, instagramService, tiktokService, youtubeService)

	c := cron.New()
	if err := c.AddJob(fmt.Sprintf("@every %s", cfg.Dispatch.SweepInterval), sweepJob); err != nil {
		log.Fatalf("Invalid sweep schedule: %v", err)
	}
	if err := c.AddJob("@every 00h10m00s", refreshTokenJob); err != nil {
		log.Fatalf("Invalid token refresh schedule: %v", err)
	}
	c.Start()
	go sweepJob.Run()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return origin == cfg.FrontendURL
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(scheduleService)
	api.Post("/posts/schedule", post.SchedulePost)
	api.Post("/posts/cancel", post.CancelPost)

	media := handlers.NewMediaHandler(r2Service)
	api.Post("/media", media.UploadMedia)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.HTTPAddr)

	waitForSignal()
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}

	c.Stop()
	stop()

	if timerDone != nil {
		<-timerDone
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}

	log.Println("Server shutdown complete.")
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
}
