package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/batch"
	"github.com/soltixdb/rollup/internal/config"
	"github.com/soltixdb/rollup/internal/logging"
	"github.com/soltixdb/rollup/internal/schema"
	"github.com/soltixdb/rollup/internal/sink"
	"github.com/soltixdb/rollup/internal/sink/grpcsink"
	"github.com/soltixdb/rollup/internal/trigger"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Downsampler starting...",
		"version", Version, "commit", GitCommit, "build_time", BuildTime)

	// 3. Load the schema registry: etcd-backed when endpoints are
	// configured, file-backed otherwise
	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to load schema registry", "error", err)
	}
	logger.Info("Schema registry loaded", "schemas", len(registry.Schemas()))

	// 4. Create the store sink
	storeSink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create store sink", "error", err)
	}
	defer closeSink()

	// 5. Create the batch driver
	driver := batch.NewDriver(cfg.Rollup, registry, storeSink, logger)

	// 6. Connect the trigger queue
	queue, err := trigger.NewQueue(cfg.Queue)
	if err != nil {
		logger.Fatal("Failed to create trigger queue", "error", err)
	}
	defer func() { _ = queue.Close() }()

	// 7. Start the batch trigger with a per-worker arena
	trig := trigger.New(queue, driver, func() *arena.Arena {
		return arena.New(registry, cfg.Rollup.ExpectedConcurrentPartitions)
	}, logger)
	if err := trig.Start(); err != nil {
		logger.Fatal("Failed to start trigger", "error", err)
	}
	defer trig.Stop()

	// 8. Start the admin HTTP endpoint
	app := buildAdminApp(cfg, registry, trig, logger)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
		if err := app.Listen(addr); err != nil {
			logger.Error("Admin server error", "error", err)
		}
	}()

	logger.Info("Downsampler started",
		"raw_dataset", cfg.Rollup.RawDatasetName,
		"resolutions", cfg.Rollup.Resolutions,
		"sink_type", cfg.Sink.Type,
		"queue_type", cfg.Queue.Type,
		"http_port", cfg.Server.HTTPPort)

	// 9. Wait for shutdown signal
	waitForShutdown(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)

	logger.Info("Downsampler stopped")
}

// loadRegistry picks the registry backend from configuration
func loadRegistry(cfg *config.Config, logger *logging.Logger) (*schema.Registry, error) {
	if len(cfg.Etcd.Endpoints) > 0 {
		store, err := schema.NewEtcdStore(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Loading schemas from etcd", "endpoints", cfg.Etcd.Endpoints)
		return store.LoadRegistry(ctx)
	}

	logger.Info("Loading schemas from file", "path", cfg.Rollup.SchemaFile)
	return schema.LoadFile(cfg.Rollup.SchemaFile)
}

// buildSink picks the sink implementation from configuration
func buildSink(cfg *config.Config, logger *logging.Logger) (sink.Sink, func(), error) {
	switch cfg.Sink.Type {
	case "memory":
		logger.Warn("Using in-memory sink; written chunks are not persisted")
		return sink.NewMemorySink(), func() {}, nil
	default:
		s, err := grpcsink.New(cfg.Sink.Addresses, cfg.Rollup.SessionProvider, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// buildAdminApp wires the health, status and manual-trigger endpoints
func buildAdminApp(cfg *config.Config, registry *schema.Registry, trig *trigger.Trigger, logger *logging.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		schemaNames := make([]string, 0)
		for _, s := range registry.Schemas() {
			schemaNames = append(schemaNames, s.Name)
		}
		return c.JSON(fiber.Map{
			"version":     Version,
			"raw_dataset": cfg.Rollup.RawDatasetName,
			"resolutions": cfg.Rollup.Resolutions,
			"schemas":     schemaNames,
		})
	})

	// Manual trigger: accepts a Job body and enqueues it on the same
	// queue remote producers use
	app.Post("/api/v1/trigger", func(c *fiber.Ctx) error {
		var job trigger.Job
		if err := c.BodyParser(&job); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if job.JobID == "" {
			job.JobID = uuid.NewString()
		}
		if job.UserTimeStart > job.UserTimeEnd {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_time_start after user_time_end",
			})
		}

		if err := trig.Submit(c.Context(), job); err != nil {
			logger.Error("Manual trigger failed", "job_id", job.JobID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.JobID})
	})

	return app
}

// waitForShutdown blocks until an interrupt signal arrives
func waitForShutdown(logger *logging.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
}
