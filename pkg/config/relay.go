package config

import "time"

// RelayConfig holds runtime configuration for the relay server.
type RelayConfig struct {
	Bridge             BridgeConfig
	Addr               string
	Token              string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	InboundRateLimit   int
	Heartbeat          time.Duration
	ShutdownTimeout    time.Duration
}

// LoadRelayConfig constructs a RelayConfig from environment variables.
func LoadRelayConfig() RelayConfig {
	bridge := LoadBridgeConfig()
	return RelayConfig{
		Bridge:             bridge,
		Addr:               GetString("RELAY_ADDR", ":4100"),
		Token:              bridge.RelayToken,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		InboundRateLimit:   GetInt("WEBHOOK_RATE_LIMIT", 120),
		Heartbeat:          GetSeconds("WS_HEARTBEAT_SECONDS", 15*time.Second),
		ShutdownTimeout:    GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
	}
}
