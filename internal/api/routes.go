package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders unhandled errors as JSON
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// SetupRoutes configures all API routes. storageHandler may be nil when
// results are not persisted and eventsHandler when no event bus runs.
func SetupRoutes(app *fiber.App, h *Handlers, storageHandler *StorageHandler, eventsHandler *EventsHandler) {
	// Health check
	app.Get("/health", h.Health)

	// API v1 routes
	v1 := app.Group("/api/v1")

	// Scrape routes
	scrape := v1.Group("/scrape")
	scrape.Post("/", h.Scrape)
	scrape.Post("/page", h.ScrapePage)
	scrape.Post("/sources", h.ScrapeSources)

	// Crawler routes
	v1.Get("/crawler/stats", h.CrawlerStats)
	if eventsHandler != nil {
		v1.Get("/crawler/events", eventsHandler.RecentEvents)
	}

	if storageHandler != nil {
		v1.Get("/knowledge", storageHandler.QueryKnowledge)

		storage := v1.Group("/storage")
		storage.Get("/metrics", storageHandler.GetStorageMetrics)
		storage.Get("/health", storageHandler.GetStorageHealth)
		storage.Delete("/metrics", storageHandler.ClearMetrics)
	}

	// Root
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "coursecrawl",
			"version": Version,
		})
	})
}
