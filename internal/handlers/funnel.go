package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

// FunnelHandler serves the aggregated funnel report.
type FunnelHandler struct {
	aggregator *services.FunnelAggregator
}

// NewFunnelHandler creates a new funnel handler
func NewFunnelHandler(aggregator *services.FunnelAggregator) *FunnelHandler {
	return &FunnelHandler{aggregator: aggregator}
}

// Report aggregates funnel flags for the requested window. Bounds are
// optional: start defaults to the epoch, end to now. Dates accept RFC3339 or
// plain YYYY-MM-DD.
func (h *FunnelHandler) Report(c *fiber.Ctx) error {
	end := time.Now()
	start := time.Unix(0, 0)

	if raw := c.Query("start"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"ok":    false,
				"error": "invalid start date: " + raw,
			})
		}
		start = t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"ok":    false,
				"error": "invalid end date: " + raw,
			})
		}
		end = t
	}

	report, err := h.aggregator.Aggregate(start, end)
	if err != nil {
		log.Printf("❌ Funnel aggregation failed: %v", err)
		status := fiber.StatusInternalServerError
		if errors.Is(err, storage.ErrStoreUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"ok":     true,
		"report": report,
	})
}

// parseDate accepts RFC3339 or a bare date; a bare end date means end of day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
