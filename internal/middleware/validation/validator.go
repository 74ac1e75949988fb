package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxHeaderLength     int
	MaxColumnsPerImport int
	MaxRowsPerImport    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed import payloads before they reach the
// handlers: wrong content type, absurd column or row counts, and headers
// long enough to be data pasted into the wrong box.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxHeaderLength == 0 {
		cfg.MaxHeaderLength = 256
	}
	if cfg.MaxColumnsPerImport == 0 {
		cfg.MaxColumnsPerImport = 500
	}
	if cfg.MaxRowsPerImport == 0 {
		cfg.MaxRowsPerImport = 100000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.Contains(path, "/columns/analyze") {
			var req struct {
				Columns []struct {
					Header string `json:"header"`
				} `json:"columns"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Columns) > cfg.MaxColumnsPerImport {
				cfg.Logger.Warn("Oversized analysis request rejected",
					zap.String("ip", c.IP()),
					zap.Int("columns", len(req.Columns)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Too many columns in one request",
				})
			}

			for _, col := range req.Columns {
				if len(col.Header) > cfg.MaxHeaderLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Column header exceeds maximum length",
					})
				}
			}
		}

		if strings.HasSuffix(path, "/imports") {
			var req struct {
				Headers []string `json:"headers"`
				Rows    [][]any  `json:"rows"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Headers) > cfg.MaxColumnsPerImport {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Too many columns in one import",
				})
			}
			if len(req.Rows) > cfg.MaxRowsPerImport {
				cfg.Logger.Warn("Oversized import rejected",
					zap.String("ip", c.IP()),
					zap.Int("rows", len(req.Rows)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Too many rows in one import",
				})
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}
