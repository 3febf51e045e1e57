package config

import (
	"os"
	"path/filepath"
	"time"
)

// BridgeConfig holds settings shared by the CLI, the relay and the library.
type BridgeConfig struct {
	Environment       string
	APIBase           string
	AppBase           string
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	Origin            string
	OAuthScope        string
	GitHubAPIBase     string
	GitHubClientID    string
	HTTPTimeout       time.Duration
	SyncPollInterval  time.Duration
	WebhookRevert     time.Duration
	EmbedTheme        string
	EmbedIncludeToken bool
	DisplayTimezone   string
	Store             StoreConfig
	RelayURL          string
	RelayToken        string
	LogLevel          string
}

// StoreConfig selects and configures the durable state backend.
type StoreConfig struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	Secret        string
}

// LoadBridgeConfig constructs a BridgeConfig from environment variables and
// the optional YAML overlay.
func LoadBridgeConfig() BridgeConfig {
	ensureOverlay()
	return BridgeConfig{
		Environment:       GetString("APP_ENV", "development"),
		APIBase:           GetString("LOVABLE_API_BASE", "https://api.lovable.dev"),
		AppBase:           GetString("LOVABLE_APP_BASE", "https://lovable.dev"),
		ClientID:          GetString("LOVABLE_CLIENT_ID", "your_lovable_client_id"),
		ClientSecret:      GetString("LOVABLE_CLIENT_SECRET", ""),
		RedirectURI:       GetString("LOVABLE_REDIRECT_URI", "http://localhost:4100/oauth/callback"),
		Origin:            GetString("LOVABLE_ORIGIN", "http://localhost:4100"),
		OAuthScope:        GetString("LOVABLE_OAUTH_SCOPE", "projects:read,projects:write,user:read"),
		GitHubAPIBase:     GetString("GITHUB_API_BASE", "https://api.github.com"),
		GitHubClientID:    GetString("GITHUB_CLIENT_ID", "your_github_client_id"),
		HTTPTimeout:       GetSeconds("HTTP_TIMEOUT_SECONDS", 15*time.Second),
		SyncPollInterval:  GetSeconds("SYNC_POLL_SECONDS", 30*time.Second),
		WebhookRevert:     GetSeconds("WEBHOOK_REVERT_SECONDS", 3*time.Second),
		EmbedTheme:        GetString("EMBED_THEME", "light"),
		EmbedIncludeToken: GetBool("EMBED_INCLUDE_TOKEN", false),
		DisplayTimezone:   GetString("DISPLAY_TIMEZONE", "Local"),
		Store: StoreConfig{
			Backend:       GetString("STORE_BACKEND", "file"),
			Path:          GetString("STORE_PATH", defaultStatePath()),
			RedisAddr:     GetString("STORE_REDIS_ADDR", ""),
			RedisPassword: GetString("STORE_REDIS_PASSWORD", ""),
			RedisDB:       GetInt("STORE_REDIS_DB", 0),
			DatabaseURL:   GetString("STORE_DATABASE_URL", ""),
			Secret:        GetString("STORE_SECRET", ""),
		},
		RelayURL:   GetString("RELAY_URL", "http://localhost:4100"),
		RelayToken: GetString("RELAY_TOKEN", ""),
		LogLevel:   GetString("LOG_LEVEL", "info"),
	}
}

// DisplayLocation resolves DisplayTimezone, falling back to time.Local.
func (c BridgeConfig) DisplayLocation() *time.Location {
	if c.DisplayTimezone == "" || c.DisplayTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func defaultStatePath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".lovable", "state.json")
	}
	return filepath.Join(base, "lovable", "state.json")
}
