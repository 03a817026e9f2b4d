package httpserver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/jsonrpc"
)

func (h *Handlers) registerRPCRoutes(app *fiber.App) {
	app.Post("/mcp", h.handleRPC)
	app.Post("/a2a", h.handleRPC)
}

// handleRPC serves both the MCP and A2A JSON-RPC endpoints: the
// dispatcher's method table already namespaces A2A-only methods under
// an "a2a/" prefix, so one handler and one route body shape covers
// both surfaces per spec §4.6.
func (h *Handlers) handleRPC(c *fiber.Ctx) error {
	var req jsonrpc.Request
	if err := c.BodyParser(&req); err != nil {
		resp := jsonrpc.Response{JSONRPC: "2.0", Error: &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "malformed JSON-RPC request"}}
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
	if req.AuthToken == "" {
		req.AuthToken = extractBearerOrCookie(c)
	}

	resp := h.Dispatcher.Dispatch(c.Context(), &req)

	format := jsonrpc.FormatFromMetadata(req.Metadata, c.Query("format"))
	body, err := jsonrpc.Encode(resp, format)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "encoding failed"})
	}
	if format == jsonrpc.FormatTOON {
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return c.Send(body)
}
