package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rcron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/alert"
	"github.com/davidahmann/antibody/internal/api"
	"github.com/davidahmann/antibody/internal/app"
	"github.com/davidahmann/antibody/internal/auth"
	"github.com/davidahmann/antibody/internal/config"
	"github.com/davidahmann/antibody/internal/logging"
)

const statsSchedule = "@every 1m"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Getenv, listenAndServe).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "antibody-gateway:", err)
		os.Exit(1)
	}
}

type envFn func(string) string
type listenFn func(ctx context.Context, server *http.Server) error

func newRootCmd(getenv envFn, listen listenFn) *cobra.Command {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:           "antibody-gateway",
		Short:         "Serve the action risk gate over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), firstNonEmpty(configPath, getenv("ANTIBODY_CONFIG_PATH")), envFile, listen)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to antibody config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config resolution")
	return cmd
}

func run(ctx context.Context, configPath, envFile string, listen listenFn) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close stores", zap.Error(err))
		}
	}()

	if cfg.WatchRules && cfg.RulesPath != "" {
		go func() {
			if err := a.Classifier.Watch(ctx, cfg.RulesPath, logger.Named("rules")); err != nil {
				logger.Error("rule watcher stopped", zap.Error(err))
			}
		}()
	}

	scheduler, err := schedule(ctx, a, cfg, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	server := newServer(cfg.ListenAddr, a, logger)
	logger.Info("antibody-gateway listening", zap.String("addr", cfg.ListenAddr))
	if err := listen(ctx, server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newServer(addr string, a *app.App, logger *zap.Logger) *http.Server {
	h := &api.Handler{
		Auth:     auth.NewAuthenticatorFromEnv(),
		Pipeline: a.Pipeline,
		Registry: a.Registry,
		Ledger:   a.Ledger,
		Logger:   logger.Named("api"),
	}
	return &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// schedule registers the periodic jobs: the stats snapshot always, the
// alert outbox drain when alerts are enabled.
func schedule(ctx context.Context, a *app.App, cfg config.Config, logger *zap.Logger) (*rcron.Cron, error) {
	c := rcron.New(rcron.WithSeconds())

	if _, err := c.AddFunc(statsSchedule, func() {
		s := a.Pipeline.Stats()
		logger.Info("stats snapshot",
			zap.Int64("decisions", s.Decision.TotalDecisions),
			zap.Int("memories", s.Memory.TotalEntries),
			zap.Int("threats", s.Registry.TotalThreats),
		)
	}); err != nil {
		return nil, fmt.Errorf("schedule stats: %w", err)
	}

	if cfg.Alerts.Enabled {
		poster, err := alert.NewTelegramPoster(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatID, nil)
		if err != nil {
			return nil, err
		}
		worker := &alert.Worker{Store: a.Stores.Alerts, Poster: poster, Limit: 25, Logger: logger.Named("alerts")}
		schedule := "@every " + cfg.Alerts.PollInterval.String()
		if _, err := c.AddFunc(schedule, func() { worker.Run(ctx) }); err != nil {
			return nil, fmt.Errorf("schedule alerts: %w", err)
		}
	}
	return c, nil
}

// listenAndServe shuts the server down when ctx ends.
func listenAndServe(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
