package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/fellowship/internal/config"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/server"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var devSendLimit int

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory content API and realtime broker for local development",
	Long: `devserver serves the portal's chat endpoints (get_channels.php, send_message.php,
get_unread.php, mark_read.php, pusher_auth.php) from an in-memory store seeded
from FELLOWSHIP_DEV_SEED, or from the built-in seed, together with a
Pusher-protocol websocket broker at /app/{key}.

Point clients at it with:
  FELLOWSHIP_API_URL=http://localhost:8080/api/
  FELLOWSHIP_REALTIME_URL=ws://localhost:8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer closeLog()

		srv, err := newDevServer(cfg, logger, metrics.New())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Dev backend listening", "addr", cfg.DevAddr)
			errCh <- srv.Start(cfg.DevAddr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func newDevServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*server.Server, error) {
	seed, err := server.LoadSeed(afero.NewOsFs(), cfg.DevSeed)
	if err != nil {
		return nil, err
	}
	if cfg.RealtimeSecret == "" {
		return nil, errors.New("FELLOWSHIP_REALTIME_SECRET is required for the dev backend")
	}
	return server.New(server.Options{
		Key:       cfg.RealtimeKey,
		Secret:    cfg.RealtimeSecret,
		Seed:      seed,
		SendLimit: devSendLimit,
		Logger:    logger.With("component", "devserver"),
		Metrics:   m,
	})
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVar(&devSendLimit, "send-limit", 60, "messages per member per minute, 0 disables")
}
