package handlers

import (
	"errors"

	"rounds/internal/models"
	"rounds/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RoundsHandler handles the patient record API the clients sync against
type RoundsHandler struct {
	backend *services.RoundsBackend
}

// NewRoundsHandler creates a new rounds handler
func NewRoundsHandler(backend *services.RoundsBackend) *RoundsHandler {
	return &RoundsHandler{backend: backend}
}

// ListPatients returns the canonical patient record set
// GET /rounds/patients
func (h *RoundsHandler) ListPatients(c *fiber.Ctx) error {
	patients, err := h.backend.ListPatients(c.Context())
	if err != nil {
		if m := services.GetMetrics(); m != nil {
			m.RecordRequestError("list_patients")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load patients",
		})
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordPatientFetch()
	}
	if patients == nil {
		patients = []models.PatientRecord{}
	}
	return c.JSON(fiber.Map{"patients": patients})
}

// SavePatients replaces the whole record set
// POST /rounds/patients
func (h *RoundsHandler) SavePatients(c *fiber.Ctx) error {
	var req struct {
		Patients []models.PatientRecord `json:"patients"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.backend.ReplacePatients(c.Context(), req.Patients); err != nil {
		if m := services.GetMetrics(); m != nil {
			m.RecordRequestError("save_patients")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store patients",
		})
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordPatientSave()
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// QuickAdd creates a minimal record from a name plus optional scratchpad
// POST /rounds/patients/quick_add
func (h *RoundsHandler) QuickAdd(c *fiber.Ctx) error {
	var req struct {
		Name       string `json:"name"`
		Scratchpad string `json:"scratchpad"`
		Ward       string `json:"ward"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record, err := h.backend.QuickAdd(c.Context(), req.Name, req.Scratchpad, req.Ward)
	if err != nil {
		if errors.Is(err, services.ErrNameRequired) {
			if m := services.GetMetrics(); m != nil {
				m.RecordQuickAdd("rejected")
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "name is required",
			})
		}
		if m := services.GetMetrics(); m != nil {
			m.RecordQuickAdd("failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create patient",
		})
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordQuickAdd("ok")
	}
	return c.JSON(fiber.Map{"patient": record})
}
