package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/chat"
	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
	providerfactory "chat-gateway/internal/provider/factory"
	"chat-gateway/internal/quota"
	"chat-gateway/internal/server"
	"chat-gateway/internal/store/sqlite"
	"chat-gateway/internal/usage"
)

const serveUsage = `Usage:
  chat-gateway serve --config <path> [--port <port>] [--env-file <path>]

Flags:
  --config   string   Path to YAML configuration file (required)
  --port     int      Override server port from configuration
  --env-file string   Dotenv file with credentials (default ".env", optional)`

func serve(ctx context.Context, args []string) error {
	fs := newFlagSet("serve", serveUsage)

	var cfgFlags configFlags
	var overridePort int
	cfgFlags.register(fs)
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := cfgFlags.load("serve")
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	registry, err := providerfactory.NewRegistry(cfg)
	if err != nil {
		return err
	}

	guard := quota.NewGuard(store,
		quota.WithLimits(quotaLimits(cfg)),
		quota.WithWarnFraction(cfg.Quota.WarnFraction),
		quota.WithFailClosed(cfg.Quota.FailClosed),
		quota.WithLogger(logger),
	)
	tracker := usage.NewTracker(store,
		usage.DefaultPricing().WithOverrides(cfg.Pricing),
		usage.WithTrackerLogger(logger),
	)
	svc := chat.NewService(registry, guard, store, tracker,
		chat.WithEstimatedTokens(cfg.Quota.EstimatedTokens),
		chat.WithLogger(logger),
	)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Dependencies{
		Chat:     svc,
		History:  store,
		Quota:    guard,
		Usage:    store,
		Verifier: verifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// quotaLimits converts the configured tier overrides.
func quotaLimits(cfg config.Config) map[models.Tier]int {
	limits := make(map[models.Tier]int, len(cfg.Quota.Limits))
	for tier, limit := range cfg.Quota.Limits {
		limits[models.Tier(tier)] = limit
	}
	return limits
}
