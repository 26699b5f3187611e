package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/config"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/rules"
	"github.com/Tchosco/toi700game-sub002/internal/service"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// app is the process state shared by commands that touch the world.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	service  *service.Service
	registry *prometheus.Registry
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openApp loads config and rules, opens the database and builds the service.
// Callers must Close the app.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	r := rules.Default()
	if cfg.RulesFile != "" {
		logger.Debug("loading rules", "path", cfg.RulesFile)
		if r, err = rules.LoadFile(cfg.RulesFile); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load rules", err)
		}
	}

	logger.Debug("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := prometheus.NewRegistry()
	svc := service.New(st, service.Options{
		Rules:     r,
		Resources: cfg.Resources,
		Logger:    logger,
		Metrics:   metrics.New(reg),
	})
	return &app{cfg: cfg, logger: logger, store: st, service: svc, registry: reg}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// actorContext attaches the acting user. Admin comes from the config.
func (a *app) actorContext(ctx context.Context, user string) (context.Context, error) {
	if user == "" {
		return nil, NewExitError(ExitCommandError, "--as is required")
	}
	return service.WithActor(ctx, service.Actor{UserID: user, Admin: a.cfg.IsAdmin(user)}), nil
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// operation is one service call made on behalf of the --as user.
type operation func(ctx context.Context, svc *service.Service) (any, error)

// runAs opens the world, runs op as the --as user and writes its result.
func runAs(opts *RootOptions, cmd *cobra.Command, op operation) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, err := a.actorContext(commandContext(cmd), opts.As)
	if err != nil {
		return err
	}
	out := formatter(opts, cmd)
	out.VerboseLog("acting as %s (admin=%t)", opts.As, a.cfg.IsAdmin(opts.As))

	res, err := op(ctx, a.service)
	if err != nil {
		return out.Fail(err)
	}
	if res == nil {
		res = "ok"
	}
	return out.Success(res)
}
