package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/splax/lovablebridge/pkg/config"
)

// Open builds the backend selected by cfg, sealing token keys when a secret
// is configured. Postgres schemas are migrated on open.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Store, error) {
	var (
		backend Store
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "file":
		backend, err = NewFile(cfg.Path)
	case "memory":
		backend = NewMemory()
	case "bolt":
		path := cfg.Path
		if ext := filepath.Ext(path); ext == ".json" {
			path = strings.TrimSuffix(path, ext) + ".db"
		}
		backend, err = NewBolt(path)
	case "redis":
		backend, err = NewRedis(RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	case "postgres":
		migrator, merr := NewMigrator(cfg.DatabaseURL, log)
		if merr != nil {
			return nil, merr
		}
		if merr := migrator.Ensure(ctx); merr != nil {
			return nil, merr
		}
		backend, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return backend, nil
	}
	sealed, err := NewSealed(backend, cfg.Secret, KeySessionToken, KeyProviderToken, KeyOAuthStateSecret)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return sealed, nil
}
