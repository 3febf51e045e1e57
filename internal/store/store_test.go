package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, KeySessionToken, []byte(`"tok-1"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, KeySessionToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `"tok-1"` {
		t.Fatalf("unexpected value %s", got)
	}
	if err := s.Set(ctx, KeySessionToken, []byte(`"tok-2"`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := s.Get(ctx, KeySessionToken); string(got) != `"tok-2"` {
		t.Fatalf("expected overwrite to win, got %s", got)
	}
	if err := s.Delete(ctx, KeySessionToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, KeySessionToken); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, KeySessionToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	exerciseStore(t, s)

	if err := s.Set(context.Background(), KeyProjects, []byte(`not json`)); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
	if err := SetJSON(context.Background(), s, KeyProjects, []string{"a"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
	reopened, err := NewFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var items []string
	if err := GetJSON(context.Background(), reopened, KeyProjects, &items); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(items) != 1 || items[0] != "a" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestFileStoreWatchReportsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	other, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile other: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 16)
	go func() {
		_ = s.Watch(ctx, func() { changed <- struct{}{} })
	}()

	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		value, _ := json.Marshal(i)
		if err := other.Set(context.Background(), KeyProjects, value); err != nil {
			t.Fatalf("external write: %v", err)
		}
		select {
		case <-changed:
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher never reported the external write")
		}
	}
}

func TestBoltStore(t *testing.T) {
	s, err := NewBolt(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	s, err := NewRedis(RedisConfig{Addr: mini.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)

	if err := s.Set(context.Background(), KeyUserProfile, []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mini.Exists(redisKeyPrefix + KeyUserProfile) {
		t.Fatal("expected prefixed key in redis")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	migrator, err := NewMigrator(dsn, nil)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	if err := migrator.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	s, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSealedStoreEncryptsSelectedKeys(t *testing.T) {
	inner := NewMemory()
	sealed, err := NewSealed(inner, "secret", KeySessionToken)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	exerciseStore(t, sealed)

	ctx := context.Background()
	if err := sealed.Set(ctx, KeySessionToken, []byte(`"super-secret-token"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := inner.Get(ctx, KeySessionToken)
	if err != nil {
		t.Fatalf("inner Get: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-token") {
		t.Fatalf("token stored in plaintext: %s", raw)
	}
	if !json.Valid(raw) {
		t.Fatalf("sealed value should stay valid JSON: %s", raw)
	}
	plain, err := sealed.Get(ctx, KeySessionToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(plain) != `"super-secret-token"` {
		t.Fatalf("unexpected plaintext %s", plain)
	}

	if err := sealed.Set(ctx, KeyProjects, []byte(`[]`)); err != nil {
		t.Fatalf("Set unsealed: %v", err)
	}
	if raw, _ := inner.Get(ctx, KeyProjects); string(raw) != `[]` {
		t.Fatalf("unsealed key should pass through, got %s", raw)
	}

	wrongKey, err := NewSealed(inner, "other-secret", KeySessionToken)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	if _, err := wrongKey.Get(ctx, KeySessionToken); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken, got %v", err)
	}
}
