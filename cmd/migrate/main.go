package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/logger"
	"github.com/open-apime/autoreply/internal/storage/migrate"
	"github.com/open-apime/autoreply/internal/storage/sqlite"
)

func main() {
	migrationsDir := flag.String("migrations", "db/migrations/postgres", "Diretório de migrations PostgreSQL")
	migrationsSQLiteDir := flag.String("migrations-sqlite", "db/migrations/sqlite", "Diretório de migrations SQLite")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var applied []string
	switch cfg.Storage.Driver {
	case "sqlite", "":
		logr.Info("migrate: usando SQLite", zap.String("data_dir", cfg.Storage.DataDir))
		applied, err = runSQLite(ctx, cfg, *migrationsSQLiteDir, logr)
	case "postgres":
		logr.Info("migrate: usando PostgreSQL")
		applied, err = runPostgres(ctx, cfg, *migrationsDir, logr)
	default:
		err = fmt.Errorf("driver desconhecido: %s", cfg.Storage.Driver)
	}
	if err != nil {
		logr.Fatal("migrate: falhou", zap.Error(err))
	}

	logr.Info("migrate: concluído com sucesso", zap.Int("applied", len(applied)))
}

func runSQLite(ctx context.Context, cfg config.Config, dir string, logr *zap.Logger) ([]string, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("criar diretório: %w", err)
	}

	dbPath := filepath.Join(cfg.Storage.DataDir, "autoreply.db")
	db, err := sqlite.Open(fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return migrate.SQLite(ctx, db, dir, logr)
}

func runPostgres(ctx context.Context, cfg config.Config, dir string, logr *zap.Logger) ([]string, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("conectar no banco: %w", err)
	}
	defer pool.Close()

	return migrate.Postgres(ctx, pool, dir, logr)
}
