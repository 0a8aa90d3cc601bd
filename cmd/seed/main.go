// Command seed loads YAML rule definitions into the rule store. Rules that
// already exist are updated.
package main

import (
	"context"
	"database/sql"
	"flag"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/assetrules/internal/config"
	"github.com/liamcoop/assetrules/internal/logger"
	"github.com/liamcoop/assetrules/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	var path, databaseURL string
	var dryRun bool
	flag.StringVar(&path, "file", cfg.RulesFile, "Rule definition file (defaults to RULES_FILE)")
	flag.StringVar(&databaseURL, "database", cfg.DatabaseURL, "Database URL (defaults to DATABASE_URL)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	flag.Parse()

	if path == "" {
		logger.Fatal("rule file is required, use -file or RULES_FILE")
	}

	rs, err := rules.LoadFile(path)
	if err != nil {
		logger.Fatal("invalid rule file", "file", path, "error", err)
	}
	logger.Info("rule file valid", "file", path, "rules", len(rs))
	if dryRun {
		return
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	added, updated, err := rules.Seed(ctx, rules.NewPostgresRuleStore(db), rs)
	if err != nil {
		logger.Fatal("seeding failed", "added", added, "updated", updated, "error", err)
	}
	logger.Info("rules seeded", "added", added, "updated", updated)
}
