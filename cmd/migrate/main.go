// This file runs the database migrations.
// How to run:
// go run cmd/migrate/main.go          # Apply the schema to the configured database
// go run cmd/migrate/main.go -db ...  # Override the target database name
package main

import (
	"flag"
	"log"

	"github.com/retailops/stocksync/internal/config"
	"github.com/retailops/stocksync/internal/db"
	"github.com/retailops/stocksync/internal/logger"
)

func main() {
	dbName := flag.String("db", "", "Database name (optional, defaults to env vars)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger.InitializeAndConfigure()

	if *dbName != "" {
		cfg.DBName = *dbName
	}

	// db.New runs the migrations as part of connecting.
	if _, err := db.New(db.Options{
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		User:       cfg.DBUser,
		Password:   cfg.DBPassword,
		DBName:     cfg.DBName,
		SSLEnabled: &cfg.DBSSL,
	}); err != nil {
		logger.Fatalf("migration failed: %v", err)
	}

	logger.Infof("database %s migrated", cfg.DBName)
}
