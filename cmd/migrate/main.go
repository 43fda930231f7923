package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"CreatorDeals/internal/config"
	"CreatorDeals/internal/db"
	"CreatorDeals/internal/logging"

	"github.com/jackc/pgx/v5"
)

// Arbitrary key shared by every migrate process.
const migrateLockKey = 7_340_021

func main() {
	dir := flag.String("dir", envOr("MIGRATIONS_DIR", "migrations"), "directory holding *.sql migrations")
	dryRun := flag.Bool("dry-run", false, "list pending migrations without applying them")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Log.Level).With("component", "migrate")

	if cfg.DB.Driver != config.DriverPostgres {
		logger.Error("nothing to migrate", "driver", cfg.DB.Driver)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg.DB.DSN, *dir, *dryRun, logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dsn, dir string, dryRun bool, logger *slog.Logger) error {
	pool, err := db.Connect(ctx, dsn, 1)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	// Session lock, so two deploys racing on startup apply each file once.
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrateLockKey); err != nil {
		return fmt.Errorf("take migrate lock: %w", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrateLockKey)

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := sqlFiles(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	applied, err := appliedSet(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	count := 0
	for _, path := range files {
		name := filepath.Base(path)
		if applied[name] {
			continue
		}
		if dryRun {
			logger.Info("pending", "file", name)
			continue
		}
		if err := apply(ctx, conn.Conn(), path, name); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		logger.Info("applied", "file", name)
		count++
	}
	logger.Info("migrations up to date", "applied_now", count, "total", len(files))
	return nil
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func appliedSet(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// apply runs the file and records it in one transaction so a failed
// migration can be rerun.
func apply(ctx context.Context, conn *pgx.Conn, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if sql := strings.TrimSpace(string(data)); sql != "" {
			if _, err := tx.Exec(ctx, sql); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
		return err
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
