package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctemio/scangate/internal/config"
	"github.com/openctemio/scangate/internal/infra/http"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/internal/infra/http/routes"
	"github.com/openctemio/scangate/internal/infra/postgres"
	"github.com/openctemio/scangate/internal/infra/redis"
	"github.com/openctemio/scangate/pkg/logger"
	"github.com/openctemio/scangate/pkg/migrations"
	"github.com/openctemio/scangate/pkg/validator"
)

// Command line flags.
var (
	showRoutes = flag.Bool("routes", false, "Print all registered routes and exit")
	noWorkers  = flag.Bool("no-workers", false, "Serve HTTP only; do not consume the job queue")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDevelopment()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, db, log); err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	jobClient := NewJobClient(cfg, log)
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	encryptor, err := initEncryptor(cfg, log)
	if err != nil {
		log.Error("failed to initialize encryption", "error", err)
		return 1
	}
	repos := NewRepositories(db, encryptor)

	services, err := NewServices(ctx, &ServiceDeps{
		Config:      cfg,
		Log:         log,
		Repos:       repos,
		RedisClient: redisClient,
		JobClient:   jobClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Log:         log,
		Validator:   validator.New(),
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
	})

	webhookLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSec: cfg.Webhook.RateLimitRPS,
		Burst:          cfg.Webhook.RateLimitBurst,
		KeyFunc:        middleware.VCKey,
	}, log)

	server := http.NewServer(cfg, log)
	server.OnShutdown(webhookLimiter.Stop)
	routes.Register(server.Router(), handlers, routes.WebhookGuards{
		MaxBodySize: cfg.Webhook.MaxBodySize,
		RateLimit:   webhookLimiter.Middleware(),
	}, middleware.NewAdminAuth(cfg.Admin.APIKey, log))

	if *showRoutes {
		webhookLimiter.Stop()
		return printRoutes(server.Router())
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	var workers *Workers
	if !*noWorkers {
		workers, err = NewWorkers(&WorkerDeps{
			Config:    cfg,
			Log:       log,
			Services:  services,
			JobClient: jobClient,
		})
		if err != nil {
			log.Error("failed to initialize workers", "error", err)
			return 1
		}
		if err := workers.Start(ctx, log); err != nil {
			log.Error("failed to start workers", "error", err)
			return 1
		}
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting webhooks before draining the queue they feed.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}
	if workers != nil {
		workers.Stop(log)
	}

	log.Info("application stopped")
	return exitCode
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		//nolint:gosec // G115: threshold validated non-negative in config.Validate()
		threshold := uint64(cfg.Log.SamplingThreshold)
		log = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: os.Stdout,
			Sampling: logger.SamplingConfig{
				Enabled:   cfg.Log.SamplingEnabled,
				Tick:      time.Second,
				Threshold: threshold,
				Rate:      cfg.Log.SamplingRate,
				ErrorRate: cfg.Log.ErrorSamplingRate,
			},
		})
		prometheus.MustRegister(logger.LogsDropped)
	} else {
		log = logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})
	}
	log.SetDefault()
	return log
}

func migrate(ctx context.Context, db *postgres.DB, log *logger.Logger) error {
	runner, err := migrations.NewRunner(db.DB, log)
	if err != nil {
		return err
	}
	return runner.Up(ctx)
}

func printRoutes(router http.Router) int {
	var lines []string
	err := router.Walk(func(method, path string) error {
		lines = append(lines, fmt.Sprintf("%-7s %s", method, path))
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to walk routes: %v\n", err)
		return 1
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Println(l)
	}
	return 0
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
