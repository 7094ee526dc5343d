// Package whatsapp wraps the Whatsmeow client as a Baruc chat transport.
//
// It connects a linked device, publishes readiness and pairing codes to a
// messaging.ClientState, turns incoming events into inbound messages and
// sends text and images to groups.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/BTreeMap/Baruc/internal/messaging"
	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow session database
	DefaultSQLitePath = "/var/lib/baruc/whatsmeow.db"
	// DefaultChannelBufferSize is the capacity of the inbound message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event handler waits on a full channel
	DefaultChannelTimeout = 1 * time.Second
)

var (
	ErrNotConnected = errors.New("whatsapp client not connected")
	ErrEmptyMedia   = errors.New("media has no data")
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string    // whatsmeow session database connection string
	QRWriter    io.Writer // where pairing codes are rendered, stdout when nil
	NumericCode bool      // print the raw pairing code instead of a QR block
	LogLevel    string    // whatsmeow log level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRWriter renders pairing codes to w.
func WithQRWriter(w io.Writer) Option {
	return func(o *Opts) {
		o.QRWriter = w
	}
}

// WithNumericCode prints the raw pairing code instead of a QR block.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow log level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client is a messaging.Service backed by whatsmeow.
type Client struct {
	wa    *whatsmeow.Client
	state *messaging.ClientState
	cfg   Opts

	mu      sync.Mutex
	inbound chan models.InboundMessage
	stopped bool
}

var (
	_ messaging.Service     = (*Client)(nil)
	_ messaging.GroupLister = (*Client)(nil)
)

// NewClient opens the session store and prepares a whatsmeow client. It does
// not connect; call Start for that.
func NewClient(ctx context.Context, state *messaging.ClientState, opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !hasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, newSlogLogger("Database", cfg.LogLevel))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{
		wa:      whatsmeow.NewClient(device, newSlogLogger("Client", cfg.LogLevel)),
		state:   state,
		cfg:     cfg,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	c.wa.AddEventHandler(c.handleEvent)
	return c, nil
}

func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// Start connects to WhatsApp. When the device is not linked yet it starts the
// pairing flow and publishes each code until pairing succeeds.
func (c *Client) Start(ctx context.Context) error {
	if c.wa.Store.ID != nil {
		slog.Debug("whatsapp.Client.Start: already linked, connecting")
		if err := c.wa.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		return nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	go c.consumeQR(qrChan)
	return nil
}

func (c *Client) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	w := c.cfg.QRWriter
	if w == nil {
		w = os.Stdout
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.state.SetQR(evt.Code)
			if c.cfg.NumericCode {
				fmt.Fprintln(w, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, w)
			}
			slog.Info("whatsapp: scan the QR code to link Baruc", "timeout", evt.Timeout)
		case "success":
			c.state.ClearQR()
			slog.Info("whatsapp: device linked")
		default:
			slog.Warn("whatsapp: pairing event", "event", evt.Event)
		}
	}
}

// Stop disconnects and closes the inbound channel.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	if c.wa != nil {
		c.wa.Disconnect()
	}
	c.state.SetReady(false)
	close(c.inbound)
	slog.Info("whatsapp.Client.Stop: disconnected")
	return nil
}

// Logout unlinks the device. A new pairing needs a fresh client.
func (c *Client) Logout(ctx context.Context) error {
	if c.wa == nil {
		return ErrNotConnected
	}
	if err := c.wa.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	c.state.Reset()
	return nil
}

// Inbound returns the channel of incoming messages.
func (c *Client) Inbound() <-chan models.InboundMessage {
	return c.inbound
}

// SelfID returns the linked account JID, or "" before pairing.
func (c *Client) SelfID() string {
	if c.wa == nil || c.wa.Store == nil || c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.String()
}

// SendText sends a plain text message to a chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if c.wa == nil || !c.wa.IsConnected() {
		return ErrNotConnected
	}
	jid, err := ParseChat(chatID)
	if err != nil {
		return err
	}
	_, err = c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: &text})
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "chat_id", chatID)
		return classifySendError(chatID, err)
	}
	slog.Debug("WhatsApp message sent successfully", "chat_id", chatID, "body_length", len(text))
	return nil
}

// SendMedia uploads an image and sends it to a chat.
func (c *Client) SendMedia(ctx context.Context, chatID string, media models.Media) error {
	if c.wa == nil || !c.wa.IsConnected() {
		return ErrNotConnected
	}
	if len(media.Data) == 0 {
		return ErrEmptyMedia
	}
	jid, err := ParseChat(chatID)
	if err != nil {
		return err
	}
	up, err := c.wa.Upload(ctx, media.Data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", media.Filename, err)
	}
	if _, err := c.wa.SendMessage(ctx, jid, buildImageMessage(up, media)); err != nil {
		slog.Error("Failed to send WhatsApp image", "error", err, "chat_id", chatID, "filename", media.Filename)
		return classifySendError(chatID, err)
	}
	slog.Debug("WhatsApp image sent", "chat_id", chatID, "filename", media.Filename, "bytes", len(media.Data))
	return nil
}

// Groups lists the groups the linked account belongs to.
func (c *Client) Groups(ctx context.Context) ([]models.GroupInfo, error) {
	if c.wa == nil || !c.wa.IsConnected() {
		return nil, ErrNotConnected
	}
	groups, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return toGroupInfos(groups), nil
}

// ParseChat turns a chat id into a JID. Bare phone numbers are treated as users.
func ParseChat(chatID string) (types.JID, error) {
	if chatID == "" {
		return types.JID{}, fmt.Errorf("chat id cannot be empty")
	}
	if !strings.Contains(chatID, "@") {
		return types.NewJID(strings.TrimPrefix(chatID, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return jid, nil
}

// classifySendError marks timeouts waiting for the server ack as serialization
// faults: the message may well have gone out.
func classifySendError(chatID string, err error) error {
	if errors.Is(err, whatsmeow.ErrMessageTimedOut) {
		return fmt.Errorf("send to %s: %w: %v", chatID, messaging.ErrSerializationFault, err)
	}
	return fmt.Errorf("failed to send message to %s: %w", chatID, err)
}
