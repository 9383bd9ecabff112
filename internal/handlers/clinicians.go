package handlers

import (
	"errors"
	"strings"

	"rounds/internal/models"
	"rounds/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ClinicianHandler handles the treating-team roster API
type ClinicianHandler struct {
	directory *services.ClinicianDirectory
}

// NewClinicianHandler creates a new clinician handler
func NewClinicianHandler(directory *services.ClinicianDirectory) *ClinicianHandler {
	return &ClinicianHandler{directory: directory}
}

// List returns the full roster
// GET /rounds/clinicians
func (h *ClinicianHandler) List(c *fiber.Ctx) error {
	roster, err := h.directory.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load clinicians",
		})
	}
	if roster == nil {
		roster = []models.Clinician{}
	}
	return c.JSON(fiber.Map{"clinicians": roster})
}

// Upsert inserts or replaces a clinician
// POST /rounds/clinicians
func (h *ClinicianHandler) Upsert(c *fiber.Ctx) error {
	var clinician models.Clinician
	if err := c.BodyParser(&clinician); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	saved, err := h.directory.Upsert(c.Context(), clinician)
	if err != nil {
		if strings.TrimSpace(clinician.Name) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "name is required",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store clinician",
		})
	}
	return c.JSON(fiber.Map{"clinician": saved})
}

// Remove deletes a clinician from the roster
// DELETE /rounds/clinicians/:id
func (h *ClinicianHandler) Remove(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.directory.Remove(c.Context(), id); err != nil {
		if errors.Is(err, services.ErrClinicianNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Clinician not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove clinician",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Resolve maps assigned-clinician IDs to roster entries, dropping dangling
// references
// POST /rounds/clinicians/resolve
func (h *ClinicianHandler) Resolve(c *fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resolved, err := h.directory.Resolve(c.Context(), req.IDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve clinicians",
		})
	}
	return c.JSON(fiber.Map{"clinicians": resolved})
}
