package httpserver

import (
	"bufio"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/sse"
)

func (h *Handlers) registerSSERoutes(app *fiber.App) {
	app.Get("/mcp/sse/:session_id", h.handleSSE)
}

// handleSSE registers sessionID against the SSE manager and streams
// every Event it produces until the client disconnects or the
// connection's underlying channel is unregistered, mirroring
// register_protocol_stream/unregister_protocol_stream's pairing
// invariant: every successful register is matched by exactly one
// unregister, even on an abrupt client disconnect.
func (h *Handlers) handleSSE(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	token := extractBearerOrCookie(c)
	if token == "" {
		token = c.Query("auth_token")
	}

	events, err := h.SSE.RegisterProtocolStream(c.Context(), sessionID, token)
	if err != nil {
		return writeErr(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.SSE.UnregisterProtocolStream(sessionID)
		for evt := range events {
			wire, err := sse.Encode(evt)
			if err != nil {
				continue
			}
			if _, err := w.Write(wire); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
