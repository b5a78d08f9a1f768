// Command migrator applies the courier schema.
//
//	migrator           apply all pending *.up.sql files
//	migrator up        same as above
//	migrator down      roll back the most recently applied migration
//	migrator status    list migrations and whether they are applied
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalithlochan/courier/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "./migrations"
	}

	ctx := context.Background()
	pool, err := connect(ctx)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := ensureLedger(ctx, pool); err != nil {
		log.Fatalf("ensure schema_migrations: %v", err)
	}

	switch command {
	case "up":
		applied, skipped, err := migrateUp(ctx, pool, migrationsDir)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Printf("migrations complete (applied=%d, skipped=%d)", applied, skipped)
	case "down":
		if err := migrateDown(ctx, pool, migrationsDir); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
	case "status":
		if err := printStatus(ctx, pool, migrationsDir); err != nil {
			log.Fatalf("status: %v", err)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, or status)", command)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		// Fall back to the gateway's DB_* variables.
		appCfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			appCfg.DBUser, appCfg.DBPassword, appCfg.DBHost, appCfg.DBPort, appCfg.DBName, appCfg.DBSSLMode)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol // allow multi-statement migrations
	cfg.ConnConfig.RuntimeParams["application_name"] = "courier-migrator"

	return pgxpool.NewWithConfig(ctx, cfg)
}

func ensureLedger(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	return err
}

// listMigrations returns the sorted base names (without .up.sql) of
// every up migration in the directory.
func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".up.sql"))
	}
	sort.Strings(names)
	return names, nil
}

func migrateUp(ctx context.Context, pool *pgxpool.Pool, dir string) (int, int, error) {
	names, err := listMigrations(dir)
	if err != nil {
		return 0, 0, err
	}

	applied := 0
	skipped := 0

	for _, name := range names {
		done, err := isApplied(ctx, pool, name)
		if err != nil {
			return applied, skipped, fmt.Errorf("check applied %s: %w", name, err)
		}
		if done {
			skipped++
			continue
		}

		contents, err := os.ReadFile(filepath.Join(dir, name+".up.sql"))
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", name, err)
		}

		log.Printf("applying %s", name)
		start := time.Now()

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return applied, skipped, fmt.Errorf("execute %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name); err != nil {
			return applied, skipped, fmt.Errorf("mark applied %s: %w", name, err)
		}

		applied++
		log.Printf("applied %s in %s", name, time.Since(start).Round(time.Millisecond))
	}

	return applied, skipped, nil
}

func migrateDown(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	var name string
	err := pool.QueryRow(ctx,
		"SELECT name FROM schema_migrations ORDER BY name DESC LIMIT 1").Scan(&name)
	if err == pgx.ErrNoRows {
		log.Print("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find last migration: %w", err)
	}

	contents, err := os.ReadFile(filepath.Join(dir, name+".down.sql"))
	if err != nil {
		return fmt.Errorf("read down migration for %s: %w", name, err)
	}

	log.Printf("rolling back %s", name)
	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute down %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM schema_migrations WHERE name = $1", name); err != nil {
		return fmt.Errorf("unmark %s: %w", name, err)
	}

	log.Printf("rolled back %s", name)
	return nil
}

func printStatus(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	names, err := listMigrations(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		done, err := isApplied(ctx, pool, name)
		if err != nil {
			return fmt.Errorf("check applied %s: %w", name, err)
		}
		state := "pending"
		if done {
			state = "applied"
		}
		log.Printf("%-40s %s", name, state)
	}
	return nil
}

func isApplied(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name).Scan(&exists)
	return exists, err
}
