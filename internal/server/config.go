// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the friendchat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-session frame rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	DBPath         string
	MediaDir       string
	MediaURL       string
	AuthSecret     string
	TokenTTL       time.Duration
	MaxAvatarBytes int

	LogLevel    string
	Environment string
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4 << 20
	defaultBurst          = 20
	defaultMaxAvatarBytes = 2 << 20
	defaultTokenTTL       = 24 * time.Hour
)

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		DBPath:         "friendchat.db",
		MediaDir:       "media",
		MediaURL:       "/media/",
		TokenTTL:       defaultTokenTTL,
		MaxAvatarBytes: defaultMaxAvatarBytes,
		LogLevel:       "info",
		Environment:    "production",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.MaxAvatarBytes <= 0 {
		cfg.MaxAvatarBytes = defaultMaxAvatarBytes
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.MediaURL == "" {
		cfg.MediaURL = "/media/"
	}
	if !strings.HasSuffix(cfg.MediaURL, "/") {
		cfg.MediaURL += "/"
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
// It returns the sanitized configuration now in effect.
func SetConfig(cfg *Config) Config {
	if cfg == nil {
		return sanitizeConfig(defaultConfig())
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return sanitizeConfig(copied)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// after loading a .env file from the working directory if one exists.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load(".env")

	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		cfg.MediaDir = dir
	}
	if url := os.Getenv("MEDIA_URL"); url != "" {
		cfg.MediaURL = url
	}
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		cfg.AuthSecret = secret
	}
	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		cfg.TokenTTL = parseSeconds(ttl, cfg.TokenTTL)
	}
	if maxAvatar := os.Getenv("MAX_AVATAR_BYTES"); maxAvatar != "" {
		cfg.MaxAvatarBytes = parseIntValue(maxAvatar, cfg.MaxAvatarBytes)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Environment = env
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
