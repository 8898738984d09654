// Package main provides the entry point for the coursecrawl server
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/api"
	"github.com/Caia-Tech/caia-coursecrawl/internal/events"
	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement/scraping"
	"github.com/Caia-Tech/caia-coursecrawl/internal/storage"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/pipeline"
)

func main() {
	base, err := pipeline.PresetConfig(getEnv("COURSECRAWL_PRESET", "default"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid preset")
	}
	config, err := pipeline.LoadConfigFrom(base, os.Getenv("COURSECRAWL_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := logging.SetupLogger(config.Logging); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	// Crawl activity feed
	bus := events.NewBus(1024, 2)
	defer bus.Close()
	eventsHandler := api.NewEventsHandler(bus, events.NewRecorder(500))

	// Knowledge base with operation metrics
	metricsCollector := storage.NewSimpleMetricsCollector()
	deps := scraping.ServiceDeps{Events: bus}
	var storageHandler *api.StorageHandler
	if config.Scraping.StoreResults {
		store := storage.NewFileKnowledgeStore(config.Scraping.DataDir, metricsCollector)
		deps.Store = store
		storageHandler = api.NewStorageHandler(store, metricsCollector)
	}

	service, err := scraping.NewScrapingService(config.Scraping, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scraping service")
	}
	defer service.Close()

	// Cancelled on SIGINT/SIGTERM so in-flight crawls stop early
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := fiber.New(fiber.Config{
		AppName:      "coursecrawl",
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		BodyLimit:    config.Server.MaxRequestSize,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: getEnv("CORS_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	})

	api.SetupRoutes(app, api.NewHandlers(service, config.Server.MaxResultsLimit), storageHandler, eventsHandler)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().
		Str("address", config.Server.Address()).
		Str("data_dir", config.Scraping.DataDir).
		Bool("browser", config.Scraping.UseBrowser).
		Msg("Starting coursecrawl server")
	if err := app.Listen(config.Server.Address()); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
