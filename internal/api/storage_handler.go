package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/caia-coursecrawl/internal/storage"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// StorageHandler provides HTTP endpoints for the knowledge base
type StorageHandler struct {
	store   storage.KnowledgeStore
	metrics *storage.SimpleMetricsCollector
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(store storage.KnowledgeStore, metrics *storage.SimpleMetricsCollector) *StorageHandler {
	return &StorageHandler{
		store:   store,
		metrics: metrics,
	}
}

// QueryKnowledge returns stored records filtered by topic and level
func (h *StorageHandler) QueryKnowledge(c *fiber.Ctx) error {
	level, err := content.ParseLevel(c.Query("level"))
	if err != nil {
		return badRequest(c, "Validation failed", err)
	}

	records, err := h.store.Query(c.UserContext(), c.Query("topic"), level)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to query knowledge base",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"records": records,
		"count":   len(records),
	})
}

// GetStorageMetrics returns detailed performance metrics
func (h *StorageHandler) GetStorageMetrics(c *fiber.Ctx) error {
	summary := h.metrics.GetMetricsSummary()
	return c.JSON(fiber.Map{
		"metrics_summary":  summary,
		"total_operations": len(h.metrics.GetMetrics()),
	})
}

// GetStorageHealth checks that the knowledge base is readable
func (h *StorageHandler) GetStorageHealth(c *fiber.Ctx) error {
	if err := h.store.Health(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"healthy": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"healthy": true,
		"status":  "Knowledge base is readable",
	})
}

// ClearMetrics clears all collected metrics (useful for testing)
func (h *StorageHandler) ClearMetrics(c *fiber.Ctx) error {
	h.metrics.ClearMetrics()
	return c.JSON(fiber.Map{
		"message": "Metrics cleared successfully",
	})
}
