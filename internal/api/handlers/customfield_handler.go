package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/customfield"
	"github.com/mapsmith/backend/internal/storage/sqlite"
	"github.com/mapsmith/backend/pkg/logger"
)

type CustomFieldHandler struct {
	registry *customfield.Registry
}

func NewCustomFieldHandler(registry *customfield.Registry) *CustomFieldHandler {
	return &CustomFieldHandler{
		registry: registry,
	}
}

func (h *CustomFieldHandler) ListFields(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	fields := h.registry.Fields(c.Context(), clientID)
	return c.JSON(fiber.Map{
		"fields": fields,
	})
}

func (h *CustomFieldHandler) DiscoverFields(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	var req struct {
		Headers []customfield.DiscoveredHeader `json:"headers"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Headers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one header is required",
		})
	}

	fields := h.registry.DiscoverFields(c.Context(), clientID, req.Headers)
	return c.JSON(fiber.Map{
		"fields": fields,
	})
}

func (h *CustomFieldHandler) GetStats(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	stats := h.registry.Stats(c.Context(), clientID)
	return c.JSON(fiber.Map{
		"stats": stats,
	})
}

func (h *CustomFieldHandler) GetAggregates(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	aggregates := h.registry.Aggregates(c.Context(), clientID)
	return c.JSON(fiber.Map{
		"aggregates": aggregates,
	})
}

func (h *CustomFieldHandler) GetDistribution(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	field := c.Params("field")
	if field == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "field is required",
		})
	}

	distribution := h.registry.Distribution(c.Context(), clientID, field)
	return c.JSON(fiber.Map{
		"field":        field,
		"distribution": distribution,
	})
}

func (h *CustomFieldHandler) DeleteField(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	fieldID := c.Params("fieldId")

	err := h.registry.DeleteField(c.Context(), clientID, fieldID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Custom field not found",
		})
	}
	if err != nil {
		logger.Error("Failed to delete custom field",
			zap.String("client_id", clientID),
			zap.String("field_id", fieldID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete custom field",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
