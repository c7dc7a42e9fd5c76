package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional YAML/JSON/TOML file merged under the
// environment.
const ConfigFileEnv = "MAILFLOW_CONFIG"

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	ProjectName string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	FrontendURL        string

	// Storage
	DatabaseURL        string
	RedisURL           string
	SecretKey          string
	TokenEncryptionKey string

	// Cache
	CacheCapacity  int
	CacheListTTL   time.Duration
	CacheDetailTTL time.Duration

	SessionTTL time.Duration

	// Gmail
	GmailRateLimit float64
	GmailTimeout   time.Duration

	// CORS
	AllowedOrigins []string
}

var requiredKeys = []string{
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URI",
	"FRONTEND_URL",
	"DATABASE_URL",
	"SECRET_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PROJECT_NAME", "Mail Assistant Backend")
	v.SetDefault("CACHE_CAPACITY", 512)
	v.SetDefault("GMAIL_RATE_LIMIT", 10.0)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New("missing required config: " + strings.Join(missing, ", "))
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		ProjectName: v.GetString("PROJECT_NAME"),

		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURI:  v.GetString("GOOGLE_REDIRECT_URI"),
		FrontendURL:        strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),

		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		SecretKey:          v.GetString("SECRET_KEY"),
		TokenEncryptionKey: getString(v, "TOKEN_ENCRYPTION_KEY", v.GetString("SECRET_KEY")),

		CacheCapacity:  getInt(v, "CACHE_CAPACITY", 512),
		CacheListTTL:   getDuration(v, "CACHE_LIST_TTL", 300*time.Second),
		CacheDetailTTL: getDuration(v, "CACHE_DETAIL_TTL", 600*time.Second),

		SessionTTL: getDuration(v, "SESSION_TTL", 14*24*time.Hour),

		GmailRateLimit: getFloat(v, "GMAIL_RATE_LIMIT", 10),
		GmailTimeout:   getDuration(v, "GMAIL_TIMEOUT", 30*time.Second),
	}
	cfg.AllowedOrigins = getSlice(v, "ALLOWED_ORIGINS", []string{cfg.FrontendURL})

	return cfg, nil
}

func getString(v *viper.Viper, key, defaultValue string) string {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(v *viper.Viper, key string, defaultValue int) int {
	if value := v.GetString(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(v *viper.Viper, key string, defaultValue float64) float64 {
	if value := v.GetString(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil && floatValue > 0 {
			return floatValue
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s", "2h"), a day suffix ("14d") or a
// bare number of seconds.
func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return defaultValue
		}
		return time.Duration(secs) * time.Second
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getSlice(v *viper.Viper, key string, defaultValue []string) []string {
	value := v.GetString(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
