package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/importer"
	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/internal/storage/sqlite"
	"github.com/mapsmith/backend/pkg/logger"
)

// BatchReader serves batch status lookups.
type BatchReader interface {
	GetImportBatch(ctx context.Context, id string) (*models.ImportBatch, error)
}

type ImportHandler struct {
	processor *importer.Processor
	batches   BatchReader
}

func NewImportHandler(processor *importer.Processor, batches BatchReader) *ImportHandler {
	return &ImportHandler{
		processor: processor,
		batches:   batches,
	}
}

func (h *ImportHandler) ProcessImport(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	var req importer.Import
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Headers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "headers is required",
		})
	}
	if len(req.Rows) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "rows is required",
		})
	}

	batch, err := h.processor.ProcessImport(c.Context(), clientID, req)
	if err != nil {
		logger.Error("Failed to process import",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process import",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(batch)
}

func (h *ImportHandler) GetBatch(c *fiber.Ctx) error {
	batchID := c.Params("batchId")

	batch, err := h.batches.GetImportBatch(c.Context(), batchID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Import batch not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load import batch", zap.String("batch_id", batchID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load import batch",
		})
	}

	return c.JSON(batch)
}
