package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at an optional YAML overlay. The file
// holds the same keys as the environment; real environment variables win.
const FileEnv = "LOVABLE_CONFIG_FILE"

var (
	overlayMu   sync.RWMutex
	overlay     map[string]string
	overlayOnce sync.Once
)

// LoadFile reads a YAML document of KEY: value pairs and installs it as the
// fallback source for the Get* helpers.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = fmt.Sprint(value)
	}
	overlayMu.Lock()
	overlay = values
	overlayMu.Unlock()
	return nil
}

// ResetFile drops any installed overlay.
func ResetFile() {
	overlayMu.Lock()
	overlay = nil
	overlayMu.Unlock()
}

func ensureOverlay() {
	overlayOnce.Do(func() {
		path, ok := os.LookupEnv(FileEnv)
		if !ok || strings.TrimSpace(path) == "" {
			return
		}
		if err := LoadFile(strings.TrimSpace(path)); err != nil {
			log.Printf("config overlay ignored: %v", err)
		}
	})
}

func lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	overlayMu.RLock()
	defer overlayMu.RUnlock()
	value, ok := overlay[key]
	return value, ok
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := lookup(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetSeconds reads an integer number of seconds as a duration.
func GetSeconds(key string, fallback time.Duration) time.Duration {
	secs := GetInt(key, int(fallback/time.Second))
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
