package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Baruc/internal/genai"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BARUC_STATE_DIR", "")
	os.Unsetenv("BARUC_STATE_DIR")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/baruc", cfg.StateDir)
	assert.Equal(t, TransportWhatsmeow, cfg.Transport)
	assert.Equal(t, ":3000", cfg.APIAddr)
	assert.Equal(t, genai.ProviderGemini, cfg.GenAIProvider)
	assert.Equal(t, 30*time.Minute, cfg.ConversationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 20*time.Second, cfg.QRTimeout)
	assert.Equal(t, "baruc", cfg.Cloudinary.Folder)
	assert.False(t, cfg.Twilio.SkipSignature)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BARUC_TRANSPORT", "twilio")
	t.Setenv("BARUC_DEBUG", "true")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-1")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "k")
	t.Setenv("CLOUDINARY_API_SECRET", "s")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_SKIP_SIGNATURE", "true")
	t.Setenv("CONVERSATION_TIMEOUT", "10m")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "twilio", cfg.Transport)
	assert.True(t, cfg.Debug)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "DEBUG", cfg.WhatsAppLogLevel())
	assert.True(t, cfg.SheetsConfigured())
	assert.True(t, cfg.CloudinaryConfigured())
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.True(t, cfg.Twilio.SkipSignature)
	assert.Equal(t, 10*time.Minute, cfg.ConversationTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CONVERSATION_TIMEOUT", "forever")
	_, err := Load(missingEnvFile(t))
	assert.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	const key = "GRAFICAS_ENDPOINT_URL"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })
	t.Setenv("GOOGLE_API_KEY", "from-env")

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("GRAFICAS_ENDPOINT_URL=https://charts.example.com/generate\nGOOGLE_API_KEY=from-file\n"), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "https://charts.example.com/generate", cfg.ChartEndpoint)
	assert.Equal(t, "from-env", cfg.GoogleAPIKey, "existing variables win over the file")
}

func TestResolve_DerivesDatabases(t *testing.T) {
	cfg := Config{StateDir: "/data", Transport: "WhatsMeow"}
	require.NoError(t, cfg.Resolve())

	assert.Equal(t, TransportWhatsmeow, cfg.Transport)
	assert.Equal(t, "/data/baruc.db", cfg.DatabaseURL)
	assert.Equal(t, "file:/data/whatsmeow.db?_foreign_keys=on", cfg.WhatsAppDSN)
}

func TestResolve_SharesPostgres(t *testing.T) {
	cfg := Config{StateDir: "/data", Transport: TransportWhatsmeow, DatabaseURL: "postgres://baruc@db/baruc"}
	require.NoError(t, cfg.Resolve())
	assert.Equal(t, "postgres://baruc@db/baruc", cfg.WhatsAppDSN)
}

func TestResolve_Errors(t *testing.T) {
	cfg := Config{Transport: "telegram"}
	assert.ErrorIs(t, cfg.Resolve(), ErrUnknownTransport)

	cfg = Config{Transport: TransportTwilio, Twilio: Twilio{AccountSID: "AC1"}}
	assert.ErrorIs(t, cfg.Resolve(), ErrMissingTwilio)

	cfg = Config{Transport: TransportWhatsmeow, GenAIProvider: "claude"}
	assert.ErrorIs(t, cfg.Resolve(), genai.ErrUnknownProvider)
}

func TestGenAIKey(t *testing.T) {
	cfg := Config{GeminiAPIKey: "gem", OpenAIAPIKey: "oai"}
	assert.Equal(t, "gem", cfg.GenAIKey())
	cfg.GenAIProvider = "OpenAI"
	assert.Equal(t, "oai", cfg.GenAIKey())
}
