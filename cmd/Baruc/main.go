// Command Baruc runs the Baruc WhatsApp group bot.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/Baruc/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Baruc: configuration error:", err)
		os.Exit(1)
	}
	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults come from cfg, so the
// environment sets the baseline and flags override it.
func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "baruc",
		Short:        "Baruc - WhatsApp group reporting bot",
		Long:         `Baruc answers report requests in WhatsApp groups with charts and AI analyses built from Google Sheets data.`,
		SilenceUsage: true,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initializeLogger(cfg.LogLevel())
		return cfg.Resolve()
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&cfg.Debug, "debug", "d", cfg.Debug, "enable debug logging (overrides $BARUC_DEBUG)")
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for Baruc data (overrides $BARUC_STATE_DIR)")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: whatsmeow or twilio (overrides $BARUC_TRANSPORT)")
	flags.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "application database DSN (overrides $DATABASE_URL)")
	flags.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	flags.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the raw pairing code instead of a QR block")

	root.AddCommand(newServeCmd(cfg), newPairCmd(cfg), newLogoutCmd(cfg))
	return root
}

func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
