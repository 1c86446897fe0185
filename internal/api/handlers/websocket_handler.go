package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

// WebSocketHandler answers questions over a socket and streams the answer
// text word by word before sending the full response.
type WebSocketHandler struct {
	engine     Answerer
	workspaces Workspaces
}

func NewWebSocketHandler(engine Answerer, workspaces Workspaces) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, workspaces: workspaces}
}

type socketMessage struct {
	Type       string     `json:"type"`
	Query      string     `json:"query"`
	History    []llm.Turn `json:"history"`
	AutoEnrich bool       `json:"auto_enrich"`
}

// Upgrade admits websocket upgrade requests and records the caller's
// workspace for HandleConnection.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("workspace", h.workspaces.From(c))
	return c.Next()
}

// HandleConnection expects the workspace in the "workspace" local, set by
// the upgrade route from the request header.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	workspace, _ := c.Locals("workspace").(string)
	if workspace == "" {
		workspace = h.workspaces.Default
	}

	logger.Info("WebSocket connection established", zap.String("workspace", workspace))
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("workspace", workspace))
	}()

	for {
		var msg socketMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "ask" {
			continue
		}

		req := askRequest{Query: msg.Query, History: msg.History, AutoEnrich: msg.AutoEnrich}
		err := h.streamResponse(c, req.toQuery(workspace))
		switch {
		case errors.Is(err, query.ErrEmptyQuestion):
			h.sendError(c, "Query is required.")
		case err != nil:
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, req query.Request) error {
	if err := h.send(c, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.engine.Answer(context.Background(), req)
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		if i < len(words)-1 && word != "\n" {
			word += " "
		}
		if err := h.send(c, "chunk", word); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"response": response,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps each newline as its own token.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
