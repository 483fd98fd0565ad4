package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/chainpay/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.cp,
				server.WithLogger(a.logger),
				server.WithMetricsGatherer(a.gatherer),
				server.WithAccessLog(!cfg.IsProduction()),
			)

			go a.sweep(ctx, cfg.SweepInterval)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen(cfg.HTTPAddr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides CHAINPAY_HTTP_ADDR)")
	return cmd
}

// sweep expires overdue invoices on a fixed interval until ctx is done.
func (a *app) sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.cp.SweepExpired(ctx, 500)
			if err != nil {
				a.logger.Warn("expiry sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				a.logger.Info("expired overdue invoices", map[string]any{"count": n})
			}
		}
	}
}
