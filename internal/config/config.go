package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Call transition policies.
const (
	TransitionPermissive = "permissive"
	TransitionStrict     = "strict"
)

// Call channel-name policies.
const (
	ChannelValidate = "validate"
	ChannelGenerate = "generate"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	RelayChannel string `mapstructure:"RELAY_CHANNEL"`

	JWTSecret    string   `mapstructure:"JWT_SECRET"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
	WSEventsPerSecond float64 `mapstructure:"WS_EVENTS_PER_SECOND"`
	WSEventBurst      int     `mapstructure:"WS_EVENT_BURST"`
	WSSendBuffer      int     `mapstructure:"WS_SEND_BUFFER"`

	CallRingTimeout      time.Duration `mapstructure:"CALL_RING_TIMEOUT"`
	CallSweepInterval    time.Duration `mapstructure:"CALL_SWEEP_INTERVAL"`
	CallTransitionPolicy string        `mapstructure:"CALL_TRANSITION_POLICY"`
	CallChannelPolicy    string        `mapstructure:"CALL_CHANNEL_POLICY"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"REDIS_URL", "RELAY_CHANNEL",
	"JWT_SECRET", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "WS_EVENTS_PER_SECOND", "WS_EVENT_BURST", "WS_SEND_BUFFER",
	"CALL_RING_TIMEOUT", "CALL_SWEEP_INTERVAL", "CALL_TRANSITION_POLICY", "CALL_CHANNEL_POLICY",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("RELAY_CHANNEL", "telecare:realtime")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("WS_EVENTS_PER_SECOND", 20)
	v.SetDefault("WS_EVENT_BURST", 40)
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("CALL_RING_TIMEOUT", "60s")
	v.SetDefault("CALL_SWEEP_INTERVAL", "15s")
	v.SetDefault("CALL_TRANSITION_POLICY", TransitionPermissive)
	v.SetDefault("CALL_CHANNEL_POLICY", ChannelValidate)
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: development auth is active; identities are taken from request headers.")
		log.Println("WARNING: Set ENV=production and JWT_SECRET or AUTH_ISSUER before exposing this server.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (identity from X-User-ID / X-User-Role)
//   - AUTH_ISSUER set → "external" (RS256 tokens verified against JWKS)
//   - Otherwise       → "standalone" (HS256 tokens signed with JWT_SECRET)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "standalone"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
	case "standalone":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is \"standalone\"")
		}
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	if c.CallTransitionPolicy != TransitionPermissive && c.CallTransitionPolicy != TransitionStrict {
		return fmt.Errorf("CALL_TRANSITION_POLICY must be %q or %q, got %q",
			TransitionPermissive, TransitionStrict, c.CallTransitionPolicy)
	}
	if c.CallChannelPolicy != ChannelValidate && c.CallChannelPolicy != ChannelGenerate {
		return fmt.Errorf("CALL_CHANNEL_POLICY must be %q or %q, got %q",
			ChannelValidate, ChannelGenerate, c.CallChannelPolicy)
	}
	if c.CallRingTimeout < 0 {
		return fmt.Errorf("CALL_RING_TIMEOUT must not be negative")
	}
	if c.CallRingTimeout > 0 && c.CallSweepInterval <= 0 {
		return fmt.Errorf("CALL_SWEEP_INTERVAL must be positive when CALL_RING_TIMEOUT is set")
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}

	return nil
}
