package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/assetrules/internal/config"
	"github.com/liamcoop/assetrules/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	var databaseURL, migrationsPath, command string
	flag.StringVar(&databaseURL, "database", cfg.DatabaseURL, "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", cfg.MigrationsPath, "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, steps, version, force")
	flag.Parse()

	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "path", migrationsPath, "error", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrations rolled back")

	case "steps":
		n, err := intArg(command, args)
		if err != nil {
			return err
		}
		if err := m.Steps(n); err != nil {
			return err
		}
		logger.Info("migrated steps", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		v, err := intArg(command, args)
		if err != nil {
			return err
		}
		if err := m.Force(v); err != nil {
			return err
		}
		logger.Info("forced version", "version", v)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, steps, version, force)", command)
	}
	return nil
}

func intArg(command string, args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s requires a number: -command %s <n>", command, command)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return n, nil
}
