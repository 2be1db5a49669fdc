package config

import (
	"errors"
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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Meeting  MeetingConfig
	Sessions SessionsConfig
	Reports  ReportsConfig
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

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MeetingConfig wires the external calendar/conferencing provider.
type MeetingConfig struct {
	Enabled         bool
	TokenURL        string
	EventsURL       string
	ServiceAccount  string
	PrivateKeyPEM   string
	Scope           string
	TokenExpirySkew time.Duration
	RequestTimeout  time.Duration
}

// SessionsConfig tunes the live session coordinator.
type SessionsConfig struct {
	DefaultDuration    time.Duration
	DrawingKeep        int
	CompactionInterval time.Duration
	SnapshotBuffer     int
}

// ReportsConfig governs progress report exports.
type ReportsConfig struct {
	Enabled bool
	Title   string
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
		if !errors.As(err, &notFound) {
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
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Meeting = MeetingConfig{
		Enabled:         v.GetBool("ENABLE_MEETINGS"),
		TokenURL:        v.GetString("MEETING_TOKEN_URL"),
		EventsURL:       v.GetString("MEETING_EVENTS_URL"),
		ServiceAccount:  v.GetString("MEETING_SERVICE_ACCOUNT"),
		PrivateKeyPEM:   v.GetString("MEETING_PRIVATE_KEY"),
		Scope:           v.GetString("MEETING_SCOPE"),
		TokenExpirySkew: parseDuration(v.GetString("MEETING_TOKEN_EXPIRY_SKEW"), time.Minute),
		RequestTimeout:  parseDuration(v.GetString("MEETING_REQUEST_TIMEOUT"), 10*time.Second),
	}

	cfg.Sessions = SessionsConfig{
		DefaultDuration:    parseDuration(v.GetString("SESSION_DEFAULT_DURATION"), time.Hour),
		DrawingKeep:        v.GetInt("SESSIONS_DRAWING_KEEP"),
		CompactionInterval: parseDuration(v.GetString("SESSIONS_COMPACTION_INTERVAL"), time.Hour),
		SnapshotBuffer:     v.GetInt("SESSIONS_SNAPSHOT_BUFFER"),
	}

	cfg.Reports = ReportsConfig{
		Enabled: v.GetBool("ENABLE_REPORTS"),
		Title:   v.GetString("REPORTS_TITLE"),
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
	v.SetDefault("DB_NAME", "talim_live")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_MEETINGS", false)
	v.SetDefault("MEETING_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("MEETING_EVENTS_URL", "https://www.googleapis.com/calendar/v3/calendars/primary/events")
	v.SetDefault("MEETING_SERVICE_ACCOUNT", "")
	v.SetDefault("MEETING_PRIVATE_KEY", "")
	v.SetDefault("MEETING_SCOPE", "https://www.googleapis.com/auth/calendar.events")
	v.SetDefault("MEETING_TOKEN_EXPIRY_SKEW", "1m")
	v.SetDefault("MEETING_REQUEST_TIMEOUT", "10s")

	v.SetDefault("SESSION_DEFAULT_DURATION", "1h")
	v.SetDefault("SESSIONS_DRAWING_KEEP", 20)
	v.SetDefault("SESSIONS_COMPACTION_INTERVAL", "1h")
	v.SetDefault("SESSIONS_SNAPSHOT_BUFFER", 64)

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_TITLE", "Talim Progress Report")
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
