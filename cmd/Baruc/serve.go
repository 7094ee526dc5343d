package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Baruc/internal/api"
	"github.com/BTreeMap/Baruc/internal/config"
	"github.com/BTreeMap/Baruc/internal/conversation"
	"github.com/BTreeMap/Baruc/internal/flow"
	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/intent"
	"github.com/BTreeMap/Baruc/internal/lockfile"
	"github.com/BTreeMap/Baruc/internal/messaging"
	"github.com/BTreeMap/Baruc/internal/objectstore"
	"github.com/BTreeMap/Baruc/internal/reports"
	"github.com/BTreeMap/Baruc/internal/sheets"
	"github.com/BTreeMap/Baruc/internal/store"
	"github.com/BTreeMap/Baruc/internal/twiliowhatsapp"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP API listen address (overrides $API_ADDR)")
	cmd.Flags().StringVar(&cfg.GenAIProvider, "genai-provider", cfg.GenAIProvider, "text generation backend: gemini or openai (overrides $GENAI_PROVIDER)")
	return cmd
}

// workflows are the report generators handed to the dispatcher. A nil field
// means that report is not configured.
type workflows struct {
	charts messaging.ChartGenerator
	mltv   messaging.AnalysisGenerator
	zones  messaging.AnalysisGenerator
}

// buildWorkflows wires the sheet-backed reports that the configuration
// allows. Charts also need the object store and the chart service.
func buildWorkflows(ctx context.Context, cfg *config.Config, gen genai.Generator) (workflows, error) {
	var w workflows
	if !cfg.SheetsConfigured() {
		slog.Warn("serve: GOOGLE_API_KEY or GOOGLE_SPREADSHEET_ID not set; reports disabled")
		return w, nil
	}
	provider, err := sheets.NewProvider(ctx,
		sheets.WithSpreadsheetID(cfg.SpreadsheetID),
		sheets.WithAPIKey(cfg.GoogleAPIKey))
	if err != nil {
		return w, fmt.Errorf("sheets provider: %w", err)
	}
	w.mltv = reports.NewMLTVService(gen, provider)
	w.zones = reports.NewOpZonesService(gen, provider)

	if !cfg.CloudinaryConfigured() || cfg.ChartEndpoint == "" {
		slog.Warn("serve: Cloudinary credentials or GRAFICAS_ENDPOINT_URL missing; charts disabled")
		return w, nil
	}
	files, err := objectstore.NewCloudinaryStore(
		objectstore.WithCredentials(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret),
		objectstore.WithFolder(cfg.Cloudinary.Folder))
	if err != nil {
		return w, fmt.Errorf("object store: %w", err)
	}
	charts, err := reports.NewChartService(provider, files, reports.WithEndpoint(cfg.ChartEndpoint))
	if err != nil {
		return w, fmt.Errorf("chart service: %w", err)
	}
	w.charts = charts
	return w, nil
}

// transport bundles the chat transport with the API options only it can
// provide.
type transport struct {
	messaging.Service
	apiOpts    []api.ServerOption
	groupsOnly bool
}

func buildTransport(ctx context.Context, cfg *config.Config, state *messaging.ClientState) (transport, error) {
	switch cfg.Transport {
	case config.TransportTwilio:
		tw, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.From),
			twiliowhatsapp.WithSkipSignature(cfg.Twilio.SkipSignature))
		if err != nil {
			return transport{}, err
		}
		// The REST API needs no session, so the transport is ready at once.
		state.SetAuthenticated(true)
		state.SetReady(true)
		return transport{
			Service: tw,
			apiOpts: []api.ServerOption{api.WithTwilioWebhook(tw, cfg.Twilio.WebhookURL)},
		}, nil
	default:
		wa, err := newWhatsApp(ctx, cfg, state)
		if err != nil {
			return transport{}, err
		}
		return transport{
			Service:    wa,
			apiOpts:    []api.ServerOption{api.WithGroups(wa), api.WithLogout(wa.Logout)},
			groupsOnly: true,
		}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("serve: bootstrapping Baruc", "transport", cfg.Transport, "state_dir", cfg.StateDir)

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gen, err := genai.NewGenerator(ctx,
		genai.WithProvider(cfg.GenAIProvider),
		genai.WithAPIKey(cfg.GenAIKey()),
		genai.WithModel(cfg.GenAIModel))
	if err != nil {
		return fmt.Errorf("genai: %w", err)
	}

	state := messaging.NewClientState()
	tr, err := buildTransport(ctx, cfg, state)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	conversations := conversation.NewStore(conversation.WithTimeout(cfg.ConversationTimeout))
	sweeper := conversation.NewSweeper(conversations, cfg.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	machine := flow.NewMachine(conversations, intent.NewClassifier(gen))
	sender := messaging.NewSender(tr, state, messaging.WithReceipts(db))

	wf, err := buildWorkflows(ctx, cfg, gen)
	if err != nil {
		return err
	}
	dispatcher := messaging.NewDispatcher(machine, sender, state,
		messaging.WithGroupsOnly(tr.groupsOnly),
		messaging.WithSelfID(tr.SelfID),
		messaging.WithInboundLog(db),
		messaging.WithMessageLog(db),
		messaging.WithWorkflows(wf.charts, wf.mltv, wf.zones))

	serverOpts := append([]api.ServerOption{
		api.WithWorkflowTracker(dispatcher),
		api.WithMessageLog(db),
		api.WithQRTimeout(cfg.QRTimeout),
	}, tr.apiOpts...)
	server := api.NewServer(state, machine, serverOpts...)

	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(cfg.APIAddr)
	})
	g.Go(func() error {
		dispatcher.Start(gctx, tr.Inbound())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("serve: HTTP shutdown failed", "error", err)
		}
		return tr.Stop()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("serve: Baruc stopped with error", "error", err)
		return err
	}
	slog.Info("serve: Baruc exited successfully")
	return nil
}
