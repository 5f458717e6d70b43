package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Delivery   DeliveryConfig
	Reports    ReportsConfig
	Anonymizer AnonymizerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to verify scheduler and admin tokens.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DeliveryConfig points at the external analytics endpoint.
type DeliveryConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// ReportsConfig tunes report assembly and the background worker.
type ReportsConfig struct {
	BatchSize         int
	BatchPause        time.Duration
	TimelineWindow    time.Duration
	SessionGap        time.Duration
	PluginVersion     string
	WorkerConcurrency int
	WorkerRetries     int
	InsightsCacheTTL  time.Duration
}

// AnonymizerConfig names the settings row holding the pseudonymization salt.
type AnonymizerConfig struct {
	SaltSettingKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Delivery = DeliveryConfig{
		BaseURL:     strings.TrimRight(v.GetString("INSIGHTS_BASE_URL"), "/"),
		APIKey:      v.GetString("INSIGHTS_API_KEY"),
		Timeout:     parseDuration(v.GetString("INSIGHTS_TIMEOUT"), 30*time.Second),
		MaxAttempts: v.GetInt("INSIGHTS_MAX_ATTEMPTS"),
		BackoffBase: parseDuration(v.GetString("INSIGHTS_BACKOFF_BASE"), time.Second),
	}

	cfg.Reports = ReportsConfig{
		BatchSize:         v.GetInt("REPORTS_BATCH_SIZE"),
		BatchPause:        parseDuration(v.GetString("REPORTS_BATCH_PAUSE"), 100*time.Millisecond),
		TimelineWindow:    parseDuration(v.GetString("REPORTS_TIMELINE_WINDOW"), 30*24*time.Hour),
		SessionGap:        parseDuration(v.GetString("REPORTS_SESSION_GAP"), 30*time.Minute),
		PluginVersion:     v.GetString("REPORTS_PLUGIN_VERSION"),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
		InsightsCacheTTL:  parseDuration(v.GetString("REPORTS_INSIGHTS_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Anonymizer = AnonymizerConfig{
		SaltSettingKey: v.GetString("ANONYMIZER_SALT_KEY"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INSIGHTS_BASE_URL", "http://localhost:9000")
	v.SetDefault("INSIGHTS_API_KEY", "")
	v.SetDefault("INSIGHTS_TIMEOUT", "30s")
	v.SetDefault("INSIGHTS_MAX_ATTEMPTS", 3)
	v.SetDefault("INSIGHTS_BACKOFF_BASE", "1s")

	v.SetDefault("REPORTS_BATCH_SIZE", 50)
	v.SetDefault("REPORTS_BATCH_PAUSE", "100ms")
	v.SetDefault("REPORTS_TIMELINE_WINDOW", "720h")
	v.SetDefault("REPORTS_SESSION_GAP", "30m")
	v.SetDefault("REPORTS_PLUGIN_VERSION", "1.0.0")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_INSIGHTS_CACHE_TTL", "24h")

	v.SetDefault("ANONYMIZER_SALT_KEY", "anonymization_salt")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

