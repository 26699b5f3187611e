package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/api"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the game operations over HTTP.

Requests authenticate with a bearer token listed under apiTokens in the
config. Users listed under adminUsers hold the admin role. When metrics
are enabled, Prometheus metrics are exposed on /metrics.

Example:
  toi700 serve --config toi700.yaml
  toi700 serve --db ./world.db --listen 127.0.0.1:9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ListenAddr
	if opts.Listen != "" {
		addr = opts.Listen
	}

	var gatherer prometheus.Gatherer
	if a.cfg.MetricsEnabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer = a.registry
	}
	if len(a.cfg.APITokens) == 0 {
		a.logger.Warn("no api tokens configured, every request will be rejected")
	}
	auth := service.NewTokenAuthenticator(a.cfg.APITokens, a.cfg.AdminUsers)
	srv := api.New(a.service, auth, api.Options{Gatherer: gatherer, Logger: a.logger})

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := api.ListenAndServe(ctx, addr, srv.Handler(), a.cfg.ShutdownTimeout, a.logger); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
