package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/caia-coursecrawl/internal/events"
)

// DefaultEventLimit is used when the events request omits limit
const DefaultEventLimit = 50

// EventsHandler serves the recent crawl activity feed
type EventsHandler struct {
	bus      *events.Bus
	recorder *events.Recorder
}

// NewEventsHandler subscribes recorder to every event on bus
func NewEventsHandler(bus *events.Bus, recorder *events.Recorder) *EventsHandler {
	bus.Subscribe(nil, recorder.Handle)
	return &EventsHandler{bus: bus, recorder: recorder}
}

// RecentEvents returns the newest events first
func (h *EventsHandler) RecentEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultEventLimit)
	if limit < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}

	recent := h.recorder.Recent(limit)
	return c.JSON(fiber.Map{
		"events": recent,
		"count":  len(recent),
		"stats":  h.bus.GetStats(),
	})
}
