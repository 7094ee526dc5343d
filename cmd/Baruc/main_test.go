package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Baruc/internal/config"
	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/messaging"
)

func twilioConfig(t *testing.T) config.Config {
	return config.Config{
		StateDir:      t.TempDir(),
		Transport:     config.TransportTwilio,
		APIAddr:       ":0",
		GenAIProvider: genai.ProviderGemini,
		Twilio: config.Twilio{
			AccountSID: "AC00000000000000000000000000000000",
			AuthToken:  "token",
			From:       "+15550001111",
		},
	}
}

func execute(t *testing.T, cfg *config.Config, args ...string) error {
	t.Helper()
	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.Execute()
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfg := twilioConfig(t)
	dir := t.TempDir()

	err := execute(t, &cfg, "--state-dir", dir, "--debug", "pair")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pair needs the whatsmeow transport")

	assert.Equal(t, dir, cfg.StateDir)
	assert.True(t, cfg.Debug)
	assert.Equal(t, dir+"/baruc.db", cfg.DatabaseURL)
}

func TestResolveErrorsStopCommands(t *testing.T) {
	cfg := twilioConfig(t)
	cfg.Twilio.AuthToken = ""
	err := execute(t, &cfg, "logout")
	assert.ErrorIs(t, err, config.ErrMissingTwilio)

	cfg = twilioConfig(t)
	err = execute(t, &cfg, "--transport", "carrier-pigeon", "serve")
	assert.ErrorIs(t, err, config.ErrUnknownTransport)
}

func TestBuildWorkflows(t *testing.T) {
	ctx := context.Background()
	gen := genai.NewMockGenerator("ok")

	t.Run("nothing configured", func(t *testing.T) {
		cfg := &config.Config{}
		w, err := buildWorkflows(ctx, cfg, gen)
		require.NoError(t, err)
		assert.Nil(t, w.charts)
		assert.Nil(t, w.mltv)
		assert.Nil(t, w.zones)
	})

	t.Run("sheets only", func(t *testing.T) {
		cfg := &config.Config{GoogleAPIKey: "key", SpreadsheetID: "sheet"}
		w, err := buildWorkflows(ctx, cfg, gen)
		require.NoError(t, err)
		assert.Nil(t, w.charts)
		assert.NotNil(t, w.mltv)
		assert.NotNil(t, w.zones)
	})

	t.Run("everything", func(t *testing.T) {
		cfg := &config.Config{
			GoogleAPIKey:  "key",
			SpreadsheetID: "sheet",
			ChartEndpoint: "https://charts.example.com/generate",
			Cloudinary:    config.Cloudinary{CloudName: "demo", APIKey: "k", APISecret: "s", Folder: "baruc"},
		}
		w, err := buildWorkflows(ctx, cfg, gen)
		require.NoError(t, err)
		assert.NotNil(t, w.charts)
	})
}

func TestBuildTransport_Twilio(t *testing.T) {
	cfg := twilioConfig(t)
	state := messaging.NewClientState()

	tr, err := buildTransport(context.Background(), &cfg, state)
	require.NoError(t, err)
	assert.True(t, state.IsReady())
	assert.False(t, tr.groupsOnly)
	assert.Len(t, tr.apiOpts, 1)
	assert.Equal(t, "+15550001111", tr.SelfID())
	require.NoError(t, tr.Stop())
}
