package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
	"chat-gateway/internal/store/sqlite"
)

func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "data", "gateway.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := "auth:\n  jwt_secret: cmd-secret\ndatabase:\n  path: " + dbPath + "\nquota:\n  limits:\n    team: 500000\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func TestExecute_UnknownCommand(t *testing.T) {
	t.Parallel()

	err := Execute(context.Background(), []string{"launch"})
	if err == nil || !strings.Contains(err.Error(), `unknown command "launch"`) {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestExecute_RequiresConfig(t *testing.T) {
	t.Parallel()

	for _, command := range []string{"serve", "migrate", "token"} {
		args := []string{command}
		if command == "token" {
			args = append(args, "--user", "u1")
		}
		err := Execute(context.Background(), args)
		if err == nil || !strings.Contains(err.Error(), "requires --config") {
			t.Errorf("Execute(%s) error = %v", command, err)
		}
	}
}

func TestMigrateAndTier(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	t.Setenv(config.EnvJWTSecret, "")
	t.Setenv(config.EnvDatabasePath, "")
	ctx := context.Background()

	if err := Execute(ctx, []string{"migrate", "--config", cfgPath, "--env-file", ""}); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if err := Execute(ctx, []string{"tier", "--config", cfgPath, "--env-file", "", "--user", "u1", "--tier", "team"}); err != nil {
		t.Fatalf("tier error = %v", err)
	}
	if err := Execute(ctx, []string{"tier", "--config", cfgPath, "--env-file", "", "--user", "u1", "--tier", "platinum"}); err == nil {
		t.Error("tier with unknown tier error = nil")
	}

	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	tier, ok, err := store.Tier(ctx, "u1")
	if err != nil || !ok || tier != models.Tier("team") {
		t.Errorf("Tier() = %q, %v, %v; want team", tier, ok, err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("log output = %q", out)
	}

	tests := []config.LogConfig{
		{Level: "loud"},
		{Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := newLogger(cfg, &buf); err == nil {
			t.Errorf("newLogger(%+v) error = nil", cfg)
		}
	}
}

func TestQuotaLimits(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Quota.Limits = map[string]int{"pro": 5, "team": 7}
	got := quotaLimits(cfg)
	if len(got) != 2 || got[models.TierPro] != 5 || got[models.Tier("team")] != 7 {
		t.Errorf("quotaLimits() = %v", got)
	}
}
