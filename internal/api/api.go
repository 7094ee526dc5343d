// Package api exposes Baruc's HTTP control surface: health, pairing, group
// inspection, conversation state and the Twilio inbound webhook.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/BTreeMap/Baruc/internal/messaging"
	"github.com/BTreeMap/Baruc/internal/models"
)

// DefaultQRTimeout is how long GET /api/qr waits for a pairing code.
const DefaultQRTimeout = 20 * time.Second

// Readiness is the transport state the API reports on.
type Readiness interface {
	Status() messaging.ReadyStatus
	WaitForQR(ctx context.Context, timeout time.Duration) (string, bool)
}

// Conversations exposes the dialogue state per chat.
type Conversations interface {
	HasContext(chatID string) bool
	HasState(chatID string) bool
	IsAnalyzing(chatID string, kind models.IntentKind) bool
	Snapshot(chatID string) (models.ConversationContext, bool)
	ClearContext(chatID string)
}

// WorkflowTracker reports workflows currently running.
type WorkflowTracker interface {
	IsRunning(chatID string, kind models.IntentKind) bool
}

// MessageLog reads logged group messages.
type MessageLog interface {
	GetMessages(chatID string, limit int) ([]models.InboundMessage, error)
}

// WebhookReceiver accepts Twilio webhook form posts.
type WebhookReceiver interface {
	HandleWebhook(url string, params map[string]string, signature string) error
}

// Server is the HTTP control surface.
type Server struct {
	app       *fiber.App
	state     Readiness
	conv      Conversations
	workflows WorkflowTracker
	groups    messaging.GroupLister
	messages  MessageLog
	logout    func(ctx context.Context) error
	webhook   WebhookReceiver
	publicURL string
	qrTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWorkflowTracker reports running workflows in chat state.
func WithWorkflowTracker(w WorkflowTracker) ServerOption {
	return func(s *Server) { s.workflows = w }
}

// WithGroups enables GET /api/groups.
func WithGroups(g messaging.GroupLister) ServerOption {
	return func(s *Server) { s.groups = g }
}

// WithMessageLog enables GET /api/groups/:id/messages.
func WithMessageLog(l MessageLog) ServerOption {
	return func(s *Server) { s.messages = l }
}

// WithLogout enables POST /api/logout.
func WithLogout(fn func(ctx context.Context) error) ServerOption {
	return func(s *Server) { s.logout = fn }
}

// WithTwilioWebhook enables POST /webhook/twilio. publicURL is the URL Twilio
// signs; when empty the request URL is used.
func WithTwilioWebhook(w WebhookReceiver, publicURL string) ServerOption {
	return func(s *Server) {
		s.webhook = w
		s.publicURL = publicURL
	}
}

// WithQRTimeout overrides DefaultQRTimeout.
func WithQRTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.qrTimeout = d }
}

// NewServer builds the fiber app and registers the routes.
func NewServer(state Readiness, conv Conversations, opts ...ServerOption) *Server {
	s := &Server{state: state, conv: conv, qrTimeout: DefaultQRTimeout}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "Baruc",
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestLogger)

	api := s.app.Group("/api")
	api.Get("/health", s.healthHandler)
	api.Get("/qr", s.qrHandler)
	api.Get("/qr-page", s.qrPageHandler)
	api.Get("/groups", s.groupsHandler)
	api.Get("/groups/:id/messages", s.groupMessagesHandler)
	api.Post("/logout", s.logoutHandler)
	api.Get("/chats/:id/state", s.chatStateHandler)
	api.Delete("/chats/:id/context", s.clearContextHandler)

	s.app.Post("/webhook/twilio", s.twilioWebhookHandler)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	slog.Info("Server.Listen: HTTP API listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	slog.Debug("Server.request", "method", c.Method(), "path", c.Path(),
		"status", c.Response().StatusCode(), "latency", time.Since(start))
	return err
}
