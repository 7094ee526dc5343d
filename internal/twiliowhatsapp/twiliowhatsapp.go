// Package twiliowhatsapp provides a Baruc chat transport over the Twilio
// WhatsApp API. Outbound messages use the REST API; inbound messages arrive
// through a signed webhook.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/Baruc/internal/messaging"
	"github.com/BTreeMap/Baruc/internal/models"
)

const (
	whatsappPrefix           = "whatsapp:"
	defaultChannelBufferSize = 100
	defaultChannelTimeout    = time.Second
)

var (
	ErrInvalidSignature = errors.New("invalid twilio signature")
	ErrStopped          = errors.New("twilio transport stopped")
	ErrNoMediaURL       = errors.New("twilio media requires a public URL")
)

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	// SkipSignature accepts webhooks without checking X-Twilio-Signature.
	SkipSignature bool
	api           messageAPI
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token used for REST calls and webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithSkipSignature disables webhook signature validation (local testing only).
func WithSkipSignature(skip bool) Option {
	return func(o *Opts) { o.SkipSignature = skip }
}

// messageAPI is the part of the Twilio REST client used here.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client is a messaging.Service backed by Twilio.
type Client struct {
	api       messageAPI
	validator twilioClient.RequestValidator
	skipSig   bool
	fromWhats string

	mu      sync.Mutex
	inbound chan models.InboundMessage
	stopped bool
}

var _ messaging.Service = (*Client)(nil)

// NewClient creates a Twilio transport.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	api := cfg.api
	if api == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		api = rest.Api
	}

	return &Client{
		api:       api,
		validator: twilioClient.NewRequestValidator(cfg.AuthToken),
		skipSig:   cfg.SkipSignature,
		fromWhats: withPrefix(cfg.FromWhats),
		inbound:   make(chan models.InboundMessage, defaultChannelBufferSize),
	}, nil
}

func withPrefix(number string) string {
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// Start is a no-op; inbound traffic arrives through HandleWebhook.
func (c *Client) Start(ctx context.Context) error {
	slog.Debug("Twilio transport started", "from", c.fromWhats)
	return nil
}

// Stop closes the inbound channel.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	close(c.inbound)
	return nil
}

func (c *Client) Inbound() <-chan models.InboundMessage {
	return c.inbound
}

// SelfID returns the sending number.
func (c *Client) SelfID() string {
	return strings.TrimPrefix(c.fromWhats, whatsappPrefix)
}

// SendText sends a WhatsApp message using the Twilio API.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(withPrefix(chatID))
	params.SetFrom(c.fromWhats)
	params.SetBody(text)

	if _, err := c.api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendText failed", "to", chatID, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	slog.Debug("Twilio message sent", "to", chatID)
	return nil
}

// SendMedia sends an image by URL; Twilio fetches it itself.
func (c *Client) SendMedia(ctx context.Context, chatID string, media models.Media) error {
	if media.URL == "" {
		return ErrNoMediaURL
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(withPrefix(chatID))
	params.SetFrom(c.fromWhats)
	params.SetMediaUrl([]string{media.URL})
	if media.Caption != "" {
		params.SetBody(media.Caption)
	}

	if _, err := c.api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMedia failed", "to", chatID, "error", err)
		return fmt.Errorf("failed to send media to %s: %w", chatID, err)
	}
	slog.Debug("Twilio media sent", "to", chatID, "url", media.URL)
	return nil
}

// HandleWebhook validates a Twilio webhook call and forwards the message it
// carries. url must be the full public URL Twilio posted to.
func (c *Client) HandleWebhook(url string, params map[string]string, signature string) error {
	if !c.skipSig && !c.validator.Validate(url, params, signature) {
		slog.Warn("Twilio webhook rejected: bad signature", "url", url)
		return ErrInvalidSignature
	}
	msg, ok := webhookMessage(params, time.Now())
	if !ok {
		slog.Debug("Twilio webhook without a text body ignored", "sid", params["MessageSid"])
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	select {
	case c.inbound <- msg:
		return nil
	case <-time.After(defaultChannelTimeout):
		slog.Warn("Twilio inbound channel blocked, dropping message", "from", msg.SenderID)
		return fmt.Errorf("inbound channel full")
	}
}

// webhookMessage maps webhook form fields to an inbound message. Twilio
// WhatsApp conversations are one to one, so the sender is also the chat.
func webhookMessage(params map[string]string, now time.Time) (models.InboundMessage, bool) {
	body := strings.TrimSpace(params["Body"])
	from := strings.TrimPrefix(params["From"], whatsappPrefix)
	if body == "" || from == "" {
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		ID:        params["MessageSid"],
		ChatID:    from,
		SenderID:  from,
		Body:      body,
		Timestamp: now,
	}, true
}
