package cmd

import (
	"context"
	"fmt"

	"chat-gateway/internal/store/sqlite"
)

const migrateUsage = `Usage:
  chat-gateway migrate --config <path> [--env-file <path>]

Flags:
  --config   string   Path to YAML configuration file (required)
  --env-file string   Dotenv file with credentials (default ".env", optional)`

func migrate(ctx context.Context, args []string) error {
	fs := newFlagSet("migrate", migrateUsage)

	var cfgFlags configFlags
	cfgFlags.register(fs)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := cfgFlags.load("migrate")
	if err != nil {
		return err
	}

	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := sqlite.MigrateUp(ctx, db)
	if err != nil {
		return err
	}
	version, err := sqlite.MigrationVersion(ctx, db)
	if err != nil {
		return err
	}

	fmt.Printf("applied %d migration(s), schema version %d (%s)\n", applied, version, cfg.Database.Path)
	return nil
}
