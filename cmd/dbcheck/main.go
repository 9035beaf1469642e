// Command dbcheck verifies that the configured Postgres database is reachable
// and, with -migrate, brings its schema up to date.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/keyguard/internal/config"
	"github.com/kiranshivaraju/keyguard/internal/store"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply schema migrations after the connectivity check")
	flag.Parse()

	if err := run(context.Background(), config.LoadDatabase(), *migrate, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.DatabaseConfig, migrate bool, out io.Writer) error {
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	target := fmt.Sprintf("host=%s port=%d db=%s user=%s",
		connCfg.Host, connCfg.Port, connCfg.Database, connCfg.User)
	fmt.Fprintf(out, "checking database connection (%s)\n", target)

	if err := ping(ctx, connCfg, cfg); err != nil {
		return fmt.Errorf("database connection failed (%s): %w", target, err)
	}
	fmt.Fprintln(out, "database connection ok")

	if migrate {
		if err := store.RunMigrations(cfg.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
	}
	return nil
}

func ping(ctx context.Context, connCfg *pgx.ConnConfig, cfg config.DatabaseConfig) error {
	if cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var one int
	return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
}
