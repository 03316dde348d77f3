package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/effortlog/effortlog/internal/adapter/postgres"
	"github.com/effortlog/effortlog/internal/config"
)

// runMigrate dispatches migration subcommands (up, down, version).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	switch args[0] {
	case "up":
		return runMigrateUp(args[1:])
	case "down":
		return runMigrateDown(args[1:])
	case "version":
		return runMigrateVersion(args[1:])
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: effortlog migrate <command> [options]

Commands:
  up        Apply all pending migrations
  down      Roll back migrations (--steps N, default 1)
  version   Print the current migration version
  help      Show this help message

Examples:
  effortlog migrate up
  effortlog migrate down --steps 2
  effortlog migrate version
`)
}

func loadDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Postgres.DSN, nil
}

func runMigrateUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn, err := loadDSN()
	if err != nil {
		return err
	}

	if err := postgres.RunMigrations(context.Background(), dsn); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "migrations applied")
	return nil
}

func runMigrateDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn, err := loadDSN()
	if err != nil {
		return err
	}

	if err := postgres.RollbackMigrations(context.Background(), dsn, *steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "rolled back %d migration(s)\n", *steps)
	return nil
}

func runMigrateVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn, err := loadDSN()
	if err != nil {
		return err
	}

	v, err := postgres.MigrationVersion(context.Background(), dsn)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", v)
	return nil
}
