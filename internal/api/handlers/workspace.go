package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const DefaultWorkspaceHeader = "X-Workspace"

// Workspaces resolves the workspace a request acts on. The header value is
// trusted as is.
type Workspaces struct {
	Header  string
	Default string
}

func (w Workspaces) From(c *fiber.Ctx) string {
	header := w.Header
	if header == "" {
		header = DefaultWorkspaceHeader
	}
	if ws := strings.TrimSpace(c.Get(header)); ws != "" {
		return ws
	}
	if w.Default != "" {
		return w.Default
	}
	return "default"
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
