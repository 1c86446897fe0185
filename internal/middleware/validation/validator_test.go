package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 20, MaxDocumentSize: 10}))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
	app.Post("/api/v1/ask", ok)
	app.Post("/api/v1/feedback", ok)
	app.Post("/api/v1/documents", ok)
	app.Get("/api/v1/documents", ok)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers ...string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestAskValidation(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusNoContent, do(t, app, "POST", "/api/v1/ask", `{"query":"what is up?"}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/ask", `{"query":"  "}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/ask", `{"query":7}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/ask", `{"query":"this question is far too long"}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/ask", `{"query":"<script>x"}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/ask", `not json`))
}

func TestFeedbackValidation(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusNoContent, do(t, app, "POST", "/api/v1/feedback", `{"query_id":"q","rating":0}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/feedback", `{"query_id":"q"}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/feedback", `{"query_id":"q","rating":5}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/feedback", `{"rating":1}`))
}

func TestDocumentAndWorkspaceValidation(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusNoContent, do(t, app, "POST", "/api/v1/documents", `{"content":"short"}`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, do(t, app, "POST", "/api/v1/documents", `{"content":"much longer than ten"}`))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "POST", "/api/v1/documents", `{}`))

	assert.Equal(t, fiber.StatusNoContent, do(t, app, "GET", "/api/v1/documents", "", "X-Workspace", "team-1"))
	assert.Equal(t, fiber.StatusBadRequest, do(t, app, "GET", "/api/v1/documents", "", "X-Workspace", "../etc"))
}
