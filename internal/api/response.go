package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// Success wraps a result in an ok envelope.
func Success(result interface{}) Response {
	return Response{Status: statusOK, Result: result}
}

// SuccessWithMessage wraps a result and a human-readable message.
func SuccessWithMessage(message string, result interface{}) Response {
	return Response{Status: statusOK, Message: message, Result: result}
}

// Error builds an error envelope.
func Error(message string) Response {
	return Response{Status: statusError, Message: message}
}

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSON marshals before touching the response so an encoding failure still
// yields a well-formed 500.
func writeJSON(c *fiber.Ctx, statusCode int, response Response) error {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal JSON response", "error", err, "path", c.Path())
		data = fallbackErrorResponse
		statusCode = fiber.StatusInternalServerError
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Status(statusCode).Send(data)
}

// errorHandler renders errors escaping a handler with the same envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		slog.Error("Server.errorHandler: unhandled error", "error", err, "path", c.Path())
	}
	return writeJSON(c, code, Error(msg))
}
