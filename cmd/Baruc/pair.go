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

	"github.com/BTreeMap/Baruc/internal/config"
	"github.com/BTreeMap/Baruc/internal/lockfile"
	"github.com/BTreeMap/Baruc/internal/messaging"
	"github.com/BTreeMap/Baruc/internal/whatsapp"
)

const defaultPairTimeout = 3 * time.Minute

var errPairTimeout = errors.New("device not linked before the timeout")

func newPairCmd(cfg *config.Config) *cobra.Command {
	timeout := defaultPairTimeout
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link Baruc to a WhatsApp account and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Transport != config.TransportWhatsmeow {
				return fmt.Errorf("pair needs the whatsmeow transport, got %q", cfg.Transport)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lock, err := lockfile.Acquire(cfg.StateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			state := messaging.NewClientState()
			wa, err := newWhatsApp(ctx, cfg, state)
			if err != nil {
				return err
			}
			defer wa.Stop()

			if err := wa.Start(ctx); err != nil {
				return err
			}
			if !state.WaitForReady(ctx, timeout) {
				return errPairTimeout
			}
			slog.Info("pair: device linked", "account", wa.SelfID())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "how long to wait for the QR code to be scanned")
	return cmd
}

func newLogoutCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the WhatsApp device so the next start asks for a new QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Transport != config.TransportWhatsmeow {
				return fmt.Errorf("logout needs the whatsmeow transport, got %q", cfg.Transport)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			lock, err := lockfile.Acquire(cfg.StateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			state := messaging.NewClientState()
			wa, err := newWhatsApp(ctx, cfg, state)
			if err != nil {
				return err
			}
			defer wa.Stop()

			if err := wa.Start(ctx); err != nil {
				return err
			}
			if !state.WaitForReady(ctx, 30*time.Second) {
				return errors.New("not linked or could not connect; nothing to log out")
			}
			if err := wa.Logout(ctx); err != nil {
				return err
			}
			slog.Info("logout: device unlinked")
			return nil
		},
	}
}

func newWhatsApp(ctx context.Context, cfg *config.Config, state *messaging.ClientState) (*whatsapp.Client, error) {
	opts := []whatsapp.Option{
		whatsapp.WithDBDSN(cfg.WhatsAppDSN),
		whatsapp.WithLogLevel(cfg.WhatsAppLogLevel()),
	}
	if cfg.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return whatsapp.NewClient(ctx, state, opts...)
}
