package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/models"
	"chat-gateway/internal/quota"
	"chat-gateway/internal/store/sqlite"
)

const tierUsage = `Usage:
  chat-gateway tier --config <path> --user <id> --tier <free|pro|enterprise>

Flags:
  --config   string   Path to YAML configuration file (required)
  --user     string   User id (the token subject)
  --tier     string   Subscription tier; custom tiers from quota.limits are accepted
  --env-file string   Dotenv file with credentials (default ".env", optional)`

const tokenUsage = `Usage:
  chat-gateway token --config <path> --user <id> [--ttl <duration>]

Flags:
  --config   string     Path to YAML configuration file (required)
  --user     string     User id placed in the token subject
  --ttl      duration   Token lifetime (default 24h)
  --env-file string     Dotenv file with credentials (default ".env", optional)`

const defaultTokenTTL = 24 * time.Hour

func setTier(ctx context.Context, args []string) error {
	fs := newFlagSet("tier", tierUsage)

	var cfgFlags configFlags
	var userID, tier string
	cfgFlags.register(fs)
	fs.StringVar(&userID, "user", "", "user id")
	fs.StringVar(&tier, "tier", "", "subscription tier")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	userID = strings.TrimSpace(userID)
	tier = strings.ToLower(strings.TrimSpace(tier))
	if userID == "" || tier == "" {
		return errors.New("tier command requires --user and --tier")
	}

	cfg, err := cfgFlags.load("tier")
	if err != nil {
		return err
	}

	limits := quota.DefaultLimits()
	for t, limit := range quotaLimits(cfg) {
		limits[t] = limit
	}
	known := make([]string, 0, len(limits))
	for t := range limits {
		known = append(known, string(t))
	}
	slices.Sort(known)
	if !slices.Contains(known, tier) {
		return fmt.Errorf("unknown tier %q, expected one of %s", tier, strings.Join(known, ", "))
	}

	store, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.SetTier(ctx, userID, models.Tier(tier)); err != nil {
		return err
	}
	fmt.Printf("user %s is now on the %s tier (%d tokens/month)\n", userID, tier, limits[models.Tier(tier)])
	return nil
}

func issueToken(args []string) error {
	fs := newFlagSet("token", tokenUsage)

	var cfgFlags configFlags
	var userID string
	var ttl time.Duration
	cfgFlags.register(fs)
	fs.StringVar(&userID, "user", "", "user id")
	fs.DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	if strings.TrimSpace(userID) == "" {
		return errors.New("token command requires --user")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	cfg, err := cfgFlags.load("token")
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(strings.TrimSpace(userID), ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
