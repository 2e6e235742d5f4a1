// Package migrate aplica os arquivos .up.sql de um diretório em ordem
// lexicográfica, registrando cada versão em schema_migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SQLite aplica as migrations pendentes numa conexão database/sql do go-sqlite3.
// Devolve as versões aplicadas nesta execução.
func SQLite(ctx context.Context, db *sql.DB, dir string, log *zap.Logger) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("migrate: preparar schema_migrations: %w", err)
	}

	files, err := ListSQLFiles(dir, ".up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: listar migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		version := filepath.Base(file)

		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return applied, fmt.Errorf("migrate: verificar %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		stmts, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("migrate: ler %s: %w", version, err)
		}
		if err := execSQLiteBatch(ctx, db, string(stmts)); err != nil {
			return applied, fmt.Errorf("migrate: executar %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return applied, fmt.Errorf("migrate: registrar %s: %w", version, err)
		}

		log.Info("migration aplicada", zap.String("version", version))
		applied = append(applied, version)
	}
	return applied, nil
}

// Postgres aplica as migrations pendentes via pgxpool.
func Postgres(ctx context.Context, pool *pgxpool.Pool, dir string, log *zap.Logger) ([]string, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("migrate: preparar schema_migrations: %w", err)
	}

	files, err := ListSQLFiles(dir, ".up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: listar migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("migrate: verificar %s: %w", version, err)
		}
		if exists {
			continue
		}

		stmt, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("migrate: ler %s: %w", version, err)
		}

		execCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		_, err = pool.Exec(execCtx, strings.TrimSpace(string(stmt)))
		cancel()
		if err != nil {
			return applied, fmt.Errorf("migrate: executar %s: %w", version, err)
		}

		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return applied, fmt.Errorf("migrate: registrar %s: %w", version, err)
		}

		log.Info("migration aplicada", zap.String("version", version))
		applied = append(applied, version)
	}
	return applied, nil
}

// go-sqlite3 executa só a primeira instrução de cada Exec.
func execSQLiteBatch(ctx context.Context, db *sql.DB, statements string) error {
	for _, stmt := range strings.Split(statements, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ListSQLFiles lista os arquivos de dir com o sufixo informado, ordenados.
// Diretório inexistente não é erro.
func ListSQLFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if suffix != "" && !strings.HasSuffix(name, suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
