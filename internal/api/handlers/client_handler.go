package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/internal/storage/sqlite"
	"github.com/mapsmith/backend/pkg/logger"
)

// ClientHandler provisions tenants. Every other table references a client
// row, so a client must exist before its first import.
type ClientHandler struct {
	store *sqlite.Client
}

func NewClientHandler(store *sqlite.Client) *ClientHandler {
	return &ClientHandler{
		store: store,
	}
}

func (h *ClientHandler) CreateClient(c *fiber.Ctx) error {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	} else if _, err := h.store.GetClient(c.Context(), req.ID); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Client already exists",
		})
	}

	client := &models.Client{
		ID:        req.ID,
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateClient(c.Context(), client); err != nil {
		logger.Error("Failed to create client",
			zap.String("client_id", client.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create client",
		})
	}

	logger.Info("Client provisioned",
		zap.String("client_id", client.ID),
		zap.String("name", client.Name),
	)
	return c.Status(fiber.StatusCreated).JSON(client)
}

func (h *ClientHandler) GetClient(c *fiber.Ctx) error {
	clientID := c.Params("clientId")

	client, err := h.store.GetClient(c.Context(), clientID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Client not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load client",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load client",
		})
	}

	return c.JSON(client)
}
