package handlers

import (
	"time"

	"rounds/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	backend *services.RoundsBackend
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(backend *services.RoundsBackend) *HealthHandler {
	return &HealthHandler{backend: backend}
}

// Handle responds with daemon health status. Clients probe this endpoint and
// treat any body whose status is not "ok" as an unavailable backend.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"patients":  h.backend.PatientCount(c.Context()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
