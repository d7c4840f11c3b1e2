package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/prothunter/internal/api"
	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/config"
	"github.com/maltedev/prothunter/internal/database"
	"github.com/maltedev/prothunter/internal/events"
	"github.com/maltedev/prothunter/internal/extract"
	"github.com/maltedev/prothunter/internal/jobs"
	"github.com/maltedev/prothunter/internal/logging"
	"github.com/maltedev/prothunter/internal/queue"
	"github.com/maltedev/prothunter/internal/ratelimit"
	"github.com/maltedev/prothunter/internal/scraper"
	"github.com/maltedev/prothunter/internal/storage"
	"github.com/maltedev/prothunter/internal/targets"
)

func main() {
	targetsFile := flag.String("targets", "", "targets YAML file (overrides TARGETS_FILE)")
	outFile := flag.String("out", "", "output JSON file (overrides OUTPUT_JSON_PATH)")
	serve := flag.Bool("serve", false, "run the HTTP API and scheduled runs instead of a single run")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *targetsFile != "" {
		cfg.Output.TargetsFile = *targetsFile
	}
	if *outFile != "" {
		cfg.Output.JSONPath = *outFile
	}

	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, *serve, logger); err != nil {
		logger.Error("prothunter failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, serve bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// background loops must be done before the database and redis
	// connections are closed
	var background sync.WaitGroup

	catalogue, err := targets.Load(cfg.Output.TargetsFile, targets.Bounds{
		Min: cfg.Scraper.PriceMin,
		Max: cfg.Scraper.PriceMax,
	}, logger)
	if err != nil {
		return err
	}

	store := storage.NewJSONStore(cfg.Output.JSONPath)
	var prices api.PriceSource = store
	var outboxStats api.OutboxStats
	var recorder jobs.RunRecorder

	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}

		priceRepo := database.NewPriceRepository(db)
		outbox := database.NewOutboxRepository(db, cfg.Redis.Stream)
		recorder = events.NewPublisher(db, priceRepo, outbox, logger)
		prices = priceRepo
		outboxStats = outbox

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{})
			background.Add(1)
			go func() {
				defer background.Done()
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	defer func() {
		stop()
		background.Wait()
	}()

	runner := newRunner(cfg, logger)
	runQueue := queue.NewInMemoryQueue()
	manager := jobs.NewManager(runner, catalogue, store, runQueue, jobs.Options{
		WriteEmpty: cfg.Output.WriteEmpty,
		Recorder:   recorder,
	}, logger)

	if !serve {
		result := manager.RunNow(ctx, queue.TriggerStartup)
		if result.Status == jobs.StatusFailed {
			return errors.New(result.Error)
		}
		logger.Info("records written",
			"path", store.Path(),
			"succeeded", result.Succeeded,
			"failed", len(result.Failures))
		return nil
	}

	background.Add(1)
	go func() {
		defer background.Done()
		manager.StartWorker(ctx)
	}()
	if err := manager.Schedule(cfg.Schedule.Cron); err != nil {
		return err
	}
	defer manager.Stop()

	if _, err := manager.Submit(queue.TriggerStartup); err != nil {
		logger.Warn("startup run not queued", "error", err)
	}

	handlers := api.NewHandlers(manager, prices, outboxStats, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")
		runQueue.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("server stopped, waiting for the current run")
	return nil
}

func newRunner(cfg *config.Config, logger *slog.Logger) *scraper.Runner {
	opts := &browser.Options{
		Headless:          cfg.Browser.Headless,
		Timeout:           cfg.Browser.Timeout,
		NavigationTimeout: cfg.Scraper.NavigationTimeout,
		UserAgent:         cfg.Browser.UserAgent,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		AcceptLanguage:    cfg.Browser.AcceptLanguage,
		TimezoneID:        cfg.Browser.TimezoneID,
		Locale:            cfg.Browser.Locale,
		ProxyServer:       cfg.Browser.ProxyServer,
		ExtraHeaders:      browser.DefaultOptions().ExtraHeaders,
	}

	launch := func(_ context.Context) (scraper.Session, error) {
		b, err := browser.New(opts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	pipeline := extract.NewPipeline(extract.Options{
		SelectorTimeout: cfg.Scraper.SelectorTimeout,
		PriceMin:        cfg.Scraper.PriceMin,
		PriceMax:        cfg.Scraper.PriceMax,
	}, logger)
	dismisser := extract.NewPopupDismisser(cfg.Scraper.AcceptTerms, logger)
	policy := ratelimit.NewJitter(
		cfg.Scraper.SettleMin, cfg.Scraper.SettleMax,
		cfg.Scraper.BackoffMin, cfg.Scraper.BackoffMax,
	)

	coordinator := scraper.NewCoordinator(pipeline, dismisser, policy, scraper.CoordinatorOptions{
		MaxRetries:    cfg.Scraper.MaxRetries,
		ScreenshotDir: cfg.Scraper.ScreenshotDir,
	}, logger)

	return scraper.NewRunner(launch, coordinator, logger,
		scraper.WithPacer(ratelimit.NewPacer(cfg.Scraper.TargetInterval)))
}
