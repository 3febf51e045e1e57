package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileOverlayAndEnvPrecedence(t *testing.T) {
	t.Cleanup(ResetFile)
	path := filepath.Join(t.TempDir(), "lovable.yaml")
	doc := "LOVABLE_API_BASE: https://api.example.test\nSYNC_POLL_SECONDS: 45\nEMBED_INCLUDE_TOKEN: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	t.Setenv("SYNC_POLL_SECONDS", "10")

	if got := GetString("LOVABLE_API_BASE", "fallback"); got != "https://api.example.test" {
		t.Fatalf("expected overlay value, got %q", got)
	}
	if got := GetSeconds("SYNC_POLL_SECONDS", 30*time.Second); got != 10*time.Second {
		t.Fatalf("expected env to win over overlay, got %s", got)
	}
	if !GetBool("EMBED_INCLUDE_TOKEN", false) {
		t.Fatal("expected overlay bool to be parsed")
	}
}

func TestGetIntInvalidFallsBack(t *testing.T) {
	t.Setenv("STORE_REDIS_DB", "not-a-number")
	if got := GetInt("STORE_REDIS_DB", 3); got != 3 {
		t.Fatalf("expected fallback 3, got %d", got)
	}
}

func TestGetSecondsRejectsNonPositive(t *testing.T) {
	t.Setenv("WEBHOOK_REVERT_SECONDS", "0")
	if got := GetSeconds("WEBHOOK_REVERT_SECONDS", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestDisplayLocation(t *testing.T) {
	cfg := BridgeConfig{DisplayTimezone: "UTC"}
	if loc := cfg.DisplayLocation(); loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %s", loc)
	}
	cfg.DisplayTimezone = "Not/AZone"
	if loc := cfg.DisplayLocation(); loc != time.Local {
		t.Fatalf("expected fallback to local, got %s", loc)
	}
}
