// Package main applies the Postgres schema and the optional ClickHouse
// archive schema.
//
//	migrate -db postgres -action up|down|version
//	migrate -db clickhouse
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/storage"
)

// target runs one action against one database using the schema files in dir
type target func(cfg *config.Config, action, dir string) error

var targets = map[string]target{
	"postgres":   migratePostgres,
	"clickhouse": migrateClickHouse,
}

func main() {
	action := flag.String("action", "up", "Migration action: up, down, version")
	dbType := flag.String("db", "postgres", "Database: postgres, clickhouse")
	dir := flag.String("dir", "migrations", "Directory holding postgres/ and clickhouse/")
	flag.Parse()

	run, ok := targets[*dbType]
	if !ok {
		log.Fatalf("Unknown database type: %s", *dbType)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := run(cfg, *action, filepath.Join(*dir, *dbType)); err != nil {
		log.Fatalf("%s %s failed: %v", *dbType, *action, err)
	}
}

func migratePostgres(cfg *config.Config, action, path string) error {
	url := storage.PostgresURL(&cfg.Database.Postgres)

	switch action {
	case "up":
		if err := storage.RunMigrations(url, path); err != nil {
			return err
		}
	case "down":
		if err := storage.RollbackMigrations(url, path); err != nil {
			return err
		}
	case "version":
		version, dirty, err := storage.MigrationVersion(url, path)
		if err != nil {
			return err
		}
		log.Printf("postgres schema version %d (dirty: %v)", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
	log.Printf("postgres %s done", action)
	return nil
}

// migrateClickHouse applies idempotent DDL, so only "up" exists
func migrateClickHouse(cfg *config.Config, action, path string) error {
	if action != "up" {
		return fmt.Errorf("clickhouse supports only the up action")
	}
	if cfg.Database.ClickHouse.Host == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is not set")
	}

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.RunClickHouseMigrations(context.Background(), db, path); err != nil {
		return err
	}
	log.Println("clickhouse up done")
	return nil
}
