package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  gatekeeper migrate [options] <subcommand> [arg]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  down-all    Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show applied and pending migrations
  info        Show database type and embedded migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    postgres, mysql or sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)`)
}

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	fs.Usage = func() { printMigrateUsage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printMigrateUsage(out)
		return errUsage
	}

	m, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Run(ctx, fs.Arg(0), fs.Args()[1:])
}

// createMigrator --db-type 与 --db-url 同时给出时直接使用, 否则读取配置.
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, zap.NewNop())
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	logger := initLogger(cfg.Log)
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}
