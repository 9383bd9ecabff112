package handlers

import (
	"errors"

	"rounds/internal/models"
	"rounds/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionHandler handles the persisted dictation session API
type SessionHandler struct {
	sessions *services.SessionStore
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List returns all persisted sessions, most recently accessed first
// GET /rounds/sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	sessions, err := h.sessions.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load sessions",
		})
	}
	if sessions == nil {
		sessions = []models.PersistedSession{}
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Save upserts a session projection
// POST /rounds/sessions
func (h *SessionHandler) Save(c *fiber.Ctx) error {
	var session models.PersistedSession
	if err := c.BodyParser(&session); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	saved, err := h.sessions.Save(c.Context(), session)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store session",
		})
	}
	return c.JSON(fiber.Map{"session": saved})
}

// MarkComplete switches a session to the short retention clock
// POST /rounds/sessions/:id/check
func (h *SessionHandler) MarkComplete(c *fiber.Ctx) error {
	return h.setChecked(c, true)
}

// UnmarkComplete returns a session to the long retention clock
// POST /rounds/sessions/:id/uncheck
func (h *SessionHandler) UnmarkComplete(c *fiber.Ctx) error {
	return h.setChecked(c, false)
}

func (h *SessionHandler) setChecked(c *fiber.Ctx, checked bool) error {
	id := c.Params("id")

	var err error
	if checked {
		err = h.sessions.MarkComplete(c.Context(), id)
	} else {
		err = h.sessions.UnmarkComplete(c.Context(), id)
	}
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update session",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Delete removes one session
// DELETE /rounds/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.sessions.Delete(c.Context(), id); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete session",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// DeleteAll clears the whole session log
// DELETE /rounds/sessions
func (h *SessionHandler) DeleteAll(c *fiber.Ctx) error {
	result, err := h.sessions.DeleteAll(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sessions",
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ok",
		"deleted":    result.DeletedCount,
		"freedBytes": result.FreedBytes,
	})
}

// Cleanup runs an immediate retention sweep
// POST /rounds/storage/cleanup
func (h *SessionHandler) Cleanup(c *fiber.Ctx) error {
	result, err := h.sessions.CleanupExpired(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Cleanup failed",
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ok",
		"deleted":    result.DeletedCount,
		"freedBytes": result.FreedBytes,
	})
}

// StorageStats reports session storage usage
// GET /rounds/storage/stats
func (h *SessionHandler) StorageStats(c *fiber.Ctx) error {
	stats, err := h.sessions.StorageStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read storage stats",
		})
	}
	return c.JSON(stats)
}
