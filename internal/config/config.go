// Package config loads Baruc's runtime configuration from the environment.
//
// A .env file in the working directory is read first (existing variables
// win), then the environment is parsed into Config. Command-line flags may
// override fields before Resolve fills in derived values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/store"
)

// Transport names.
const (
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
)

// File names inside the state directory.
const (
	DefaultDBFileName       = "baruc.db"
	DefaultWhatsAppFileName = "whatsmeow.db"
)

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrMissingTwilio    = errors.New("twilio transport needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM")
)

// Config is the full runtime configuration.
type Config struct {
	StateDir  string `env:"BARUC_STATE_DIR" envDefault:"/var/lib/baruc"`
	Transport string `env:"BARUC_TRANSPORT" envDefault:"whatsmeow"`
	Debug     bool   `env:"BARUC_DEBUG" envDefault:"false"`
	APIAddr   string `env:"API_ADDR" envDefault:":3000"`

	// DatabaseURL holds dedupe keys, receipts and the message log. Empty
	// means SQLite in the state directory.
	DatabaseURL string `env:"DATABASE_URL"`
	// WhatsAppDSN is the whatsmeow session store. Empty falls back to
	// DatabaseURL, then to SQLite in the state directory.
	WhatsAppDSN string `env:"WHATSAPP_DB_DSN"`
	NumericCode bool   `env:"WHATSAPP_NUMERIC_CODE" envDefault:"false"`

	GenAIProvider string `env:"GENAI_PROVIDER" envDefault:"gemini"`
	GenAIModel    string `env:"GENAI_MODEL"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`

	GoogleAPIKey  string `env:"GOOGLE_API_KEY"`
	SpreadsheetID string `env:"GOOGLE_SPREADSHEET_ID"`

	Cloudinary Cloudinary `envPrefix:"CLOUDINARY_"`

	ChartEndpoint string `env:"GRAFICAS_ENDPOINT_URL"`

	Twilio Twilio `envPrefix:"TWILIO_"`

	ConversationTimeout time.Duration `env:"CONVERSATION_TIMEOUT" envDefault:"30m"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	QRTimeout           time.Duration `env:"QR_TIMEOUT" envDefault:"20s"`
}

// Cloudinary holds the object store credentials.
type Cloudinary struct {
	CloudName string `env:"CLOUD_NAME"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
	Folder    string `env:"FOLDER" envDefault:"baruc"`
}

// Twilio holds the Twilio WhatsApp transport settings.
type Twilio struct {
	AccountSID    string `env:"ACCOUNT_SID"`
	AuthToken     string `env:"AUTH_TOKEN"`
	From          string `env:"FROM"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	SkipSignature bool   `env:"SKIP_SIGNATURE" envDefault:"false"`
}

// Load reads the given .env files (".env" when none) and parses the
// environment. Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("config.Load: no env file", "file", f)
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
		slog.Debug("config.Load: env file loaded", "file", f)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Resolve fills the derived database locations and validates the result.
// Call it after flags have been applied.
func (c *Config) Resolve() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case TransportWhatsmeow:
	case TransportTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.From == "" {
			return ErrMissingTwilio
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}

	switch strings.ToLower(c.GenAIProvider) {
	case "", genai.ProviderGemini, genai.ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q", genai.ErrUnknownProvider, c.GenAIProvider)
	}

	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDSN == "" {
		if store.DetectDSNType(c.DatabaseURL) == "postgres" {
			c.WhatsAppDSN = c.DatabaseURL
		} else {
			c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppFileName) + "?_foreign_keys=on"
		}
	}

	slog.Debug("config.Resolve: configuration ready",
		"transport", c.Transport,
		"state_dir", c.StateDir,
		"api_addr", c.APIAddr,
		"genai_provider", c.GenAIProvider,
		"genai_key_set", c.GenAIKey() != "",
		"sheets_configured", c.SheetsConfigured(),
		"cloudinary_configured", c.CloudinaryConfigured(),
		"chart_endpoint_set", c.ChartEndpoint != "")
	return nil
}

// GenAIKey returns the API key of the selected provider.
func (c Config) GenAIKey() string {
	if strings.EqualFold(c.GenAIProvider, genai.ProviderOpenAI) {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// SheetsConfigured reports whether the spreadsheet source can be built.
func (c Config) SheetsConfigured() bool {
	return c.GoogleAPIKey != "" && c.SpreadsheetID != ""
}

// CloudinaryConfigured reports whether all object store credentials are set.
func (c Config) CloudinaryConfigured() bool {
	return c.Cloudinary.CloudName != "" && c.Cloudinary.APIKey != "" && c.Cloudinary.APISecret != ""
}

// LogLevel is the slog level implied by Debug.
func (c Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WhatsAppLogLevel is the whatsmeow log level implied by Debug.
func (c Config) WhatsAppLogLevel() string {
	if c.Debug {
		return "DEBUG"
	}
	return "WARN"
}
