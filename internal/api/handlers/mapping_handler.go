package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/importer"
	"github.com/mapsmith/backend/internal/learning"
	"github.com/mapsmith/backend/internal/typedetect"
	"github.com/mapsmith/backend/pkg/logger"
)

type MappingHandler struct {
	processor *importer.Processor
	learner   *learning.Learner
}

func NewMappingHandler(processor *importer.Processor, learner *learning.Learner) *MappingHandler {
	return &MappingHandler{
		processor: processor,
		learner:   learner,
	}
}

func (h *MappingHandler) AnalyzeColumns(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	var req struct {
		Columns []importer.Column `json:"columns"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Columns) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one column is required",
		})
	}

	reports := h.processor.AnalyzeColumns(c.Context(), clientID, req.Columns)

	return c.JSON(fiber.Map{
		"columns": reports,
	})
}

func (h *MappingHandler) ValidateColumn(c *fiber.Ctx) error {
	var req struct {
		Values        []any    `json:"values"`
		FieldType     string   `json:"fieldType"`
		Field         string   `json:"field"`
		AllowedValues []string `json:"allowedValues"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Values) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "values is required",
		})
	}

	// Named schema fields get their dedicated validators; everything else
	// goes through the generic type check.
	var result typedetect.ValidationResult
	switch req.Field {
	case "product_id":
		result = typedetect.ValidateProductIDColumn(req.Values)
	case "quantity":
		result = typedetect.ValidateQuantityColumn(req.Values)
	case "transaction_date":
		result = typedetect.ValidateDateColumn(req.Values)
	case "pack_size":
		result = typedetect.ValidatePackSizeColumn(req.Values)
	default:
		if req.FieldType == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "field or fieldType is required",
			})
		}
		var opts *typedetect.ValidateOptions
		if len(req.AllowedValues) > 0 {
			opts = &typedetect.ValidateOptions{AllowedValues: req.AllowedValues}
		}
		result = typedetect.ValidateColumnForField(req.Values, typedetect.FieldType(req.FieldType), opts)
	}

	return c.JSON(result)
}

func (h *MappingHandler) StoreCorrections(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	var req struct {
		Corrections []learning.Correction `json:"corrections"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Corrections) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one correction is required",
		})
	}

	h.learner.StoreCorrections(c.Context(), clientID, req.Corrections)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}

func (h *MappingHandler) GetLearnedBoosts(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	var req struct {
		Headers []string `json:"headers"`
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

	boosts := h.learner.LearnedBoosts(c.Context(), clientID, req.Headers)

	return c.JSON(fiber.Map{
		"boosts": boosts,
	})
}

func (h *MappingHandler) GetMappingStats(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	stats := h.learner.MappingStatsFor(c.Context(), clientID)
	return c.JSON(stats)
}
