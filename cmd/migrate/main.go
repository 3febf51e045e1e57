// Command migrate manages the schema of the postgres state backend. The
// other backends keep no schema and need no migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/lovablebridge/internal/store"
	"github.com/splax/lovablebridge/pkg/config"
	"github.com/splax/lovablebridge/pkg/logger"
)

func main() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dsn := fs.String("dsn", "", "Postgres URL (defaults to STORE_DATABASE_URL)")
	to := fs.Int64("to", 0, "Version to roll back to (down)")
	timeout := fs.Duration("timeout", time.Minute, "Overall deadline")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [--dsn url] [--timeout d] up|status|down [--to version]")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])
	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
		// Flags may follow the command.
		fs.Parse(fs.Args()[1:])
	}

	cfg := config.LoadBridgeConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	url := strings.TrimSpace(*dsn)
	if url == "" {
		if backend := strings.ToLower(cfg.Store.Backend); backend != "" && backend != "postgres" {
			log.Warn("configured store backend keeps no schema", "backend", backend)
		}
		url = cfg.Store.DatabaseURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, command, url, *to, log); err != nil {
		log.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	log.Info("migration finished", "command", command)
}

func run(ctx context.Context, command, url string, to int64, log *slog.Logger) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("no database url: set STORE_DATABASE_URL or pass --dsn")
	}
	migrator, err := store.NewMigrator(url, log)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		if err := migrator.Ensure(ctx); err != nil {
			return err
		}
		// The bridge must be able to read its state afterwards.
		pg, err := store.NewPostgres(ctx, url)
		if err != nil {
			return fmt.Errorf("open state table: %w", err)
		}
		defer pg.Close()
		if _, err := pg.Get(ctx, store.KeyProjects); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("read state table: %w", err)
		}
		return nil
	case "status":
		return migrator.Status(ctx)
	case "down":
		return migrator.Down(ctx, to)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
