package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	xssPattern       = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	workspacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

type Config struct {
	MaxQueryLength      int
	MaxHistoryTurns     int
	MaxDocumentSize     int
	AllowedContentTypes []string
	WorkspaceHeader     string
	Logger              *zap.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxHistoryTurns == 0 {
		cfg.MaxHistoryTurns = 50
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.WorkspaceHeader == "" {
		cfg.WorkspaceHeader = "X-Workspace"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// Middleware rejects malformed requests before they reach the handlers:
// unsupported content types, bad workspace names and invalid ask, feedback
// and document payloads.
func Middleware(cfg Config) fiber.Handler {
	cfg.setDefaults()

	return func(c *fiber.Ctx) error {
		if ws := c.Get(cfg.WorkspaceHeader); ws != "" && !workspacePattern.MatchString(ws) {
			return badRequest(c, "Invalid workspace")
		}

		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := strings.TrimSuffix(c.Path(), "/")
		switch {
		case strings.HasSuffix(path, "/ask"):
			return validateAsk(c, cfg)
		case strings.HasSuffix(path, "/feedback"):
			return validateFeedback(c)
		case strings.HasSuffix(path, "/documents"):
			return validateDocument(c, cfg)
		}

		return c.Next()
	}
}

func validateAsk(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Query   *string           `json:"query"`
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.Query == nil || strings.TrimSpace(*req.Query) == "" {
		return badRequest(c, "Query is required and must be a string")
	}
	if len(*req.Query) > cfg.MaxQueryLength {
		return badRequest(c, "Query exceeds maximum length")
	}
	if len(req.History) > cfg.MaxHistoryTurns {
		return badRequest(c, "History has too many turns")
	}

	if containsXSS(*req.Query) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("query", *req.Query),
		)
		return badRequest(c, "Invalid query content")
	}

	return c.Next()
}

func validateFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		Rating  *int   `json:"rating"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.QueryID == "" {
		return badRequest(c, "query_id is required")
	}
	if req.Rating == nil || *req.Rating < -1 || *req.Rating > 1 {
		return badRequest(c, "rating must be -1, 0 or 1")
	}

	return c.Next()
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.Content == nil {
		return badRequest(c, "content is required and must be a string")
	}
	if len(*req.Content) > cfg.MaxDocumentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Document content exceeds maximum size",
		})
	}

	return c.Next()
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
