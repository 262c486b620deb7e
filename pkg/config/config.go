package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store and session backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Env      string
	HTTPPort int
	Timezone string

	Bot       BotConfig
	Payment   PaymentConfig
	Olympiad  OlympiadConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	Throttle  ThrottleConfig
	Log       LogConfig
	Exports   ExportsConfig
	Proofs    ProofsConfig
	Stats     StatsConfig
	Telemetry TelemetryConfig
}

// BotConfig holds the Telegram transport settings.
type BotConfig struct {
	Token           string
	PollTimeout     int
	Debug           bool
	DispatchWorkers int
	AdminIDs        []int64
}

// PaymentConfig describes the hosted checkout.
type PaymentConfig struct {
	MerchantID  string
	CheckoutURL string
	Price       int64
}

type OlympiadConfig struct {
	MinGrade        int
	MaxGrade        int
	DefaultLanguage string
}

type DatabaseConfig struct {
	Driver       string
	URL          string
	SQLitePath   string
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// SessionConfig selects where in-flight conversations live.
type SessionConfig struct {
	Backend string
	TTL     time.Duration
}

// ThrottleConfig sets the minimum spacing between two updates of one account.
type ThrottleConfig struct {
	Backend  string
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// ExportsConfig configures admin export storage and download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	PublicBaseURL   string
}

// ProofsConfig toggles background archiving of payment screenshots.
type ProofsConfig struct {
	ArchiveEnabled bool
	StorageDir     string
	MaxDimension   int
	Workers        int
	Retries        int
}

type StatsConfig struct {
	CacheTTL time.Duration
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.HTTPPort = v.GetInt("HTTP_PORT")
	cfg.Timezone = v.GetString("TIMEZONE")

	adminIDs, err := parseIDs(v.GetString("ADMIN_IDS"))
	if err != nil {
		return nil, err
	}

	cfg.Bot = BotConfig{
		Token:           v.GetString("BOT_TOKEN"),
		PollTimeout:     v.GetInt("BOT_POLL_TIMEOUT"),
		Debug:           v.GetBool("BOT_DEBUG"),
		DispatchWorkers: v.GetInt("DISPATCH_WORKERS"),
		AdminIDs:        adminIDs,
	}

	cfg.Payment = PaymentConfig{
		MerchantID:  v.GetString("PAYME_MERCHANT_ID"),
		CheckoutURL: v.GetString("PAYME_CHECKOUT_URL"),
		Price:       v.GetInt64("OLYMPIAD_PRICE"),
	}

	cfg.Olympiad = OlympiadConfig{
		MinGrade:        v.GetInt("MIN_GRADE"),
		MaxGrade:        v.GetInt("MAX_GRADE"),
		DefaultLanguage: v.GetString("DEFAULT_LANGUAGE"),
	}

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		URL:          v.GetString("DATABASE_URL"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Session = SessionConfig{
		Backend: strings.ToLower(v.GetString("SESSION_BACKEND")),
		TTL:     parseDuration(v.GetString("SESSION_TTL"), 24*time.Hour),
	}

	cfg.Throttle = ThrottleConfig{
		Backend:  strings.ToLower(v.GetString("THROTTLE_BACKEND")),
		Interval: parseDuration(v.GetString("THROTTLE_INTERVAL"), 500*time.Millisecond),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		PublicBaseURL:   strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
	}

	cfg.Proofs = ProofsConfig{
		ArchiveEnabled: v.GetBool("PROOFS_ARCHIVE_ENABLED"),
		StorageDir:     v.GetString("PROOFS_STORAGE_DIR"),
		MaxDimension:   v.GetInt("PROOFS_MAX_DIMENSION"),
		Workers:        v.GetInt("PROOFS_WORKERS"),
		Retries:        v.GetInt("PROOFS_RETRIES"),
	}

	cfg.Stats = StatsConfig{
		CacheTTL: parseDuration(v.GetString("STATS_CACHE_TTL"), time.Minute),
	}

	cfg.Telemetry = TelemetryConfig{
		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
	}

	return cfg, nil
}

// Validate reports settings the bot cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Bot.Token) == "" {
		problems = append(problems, "BOT_TOKEN is required")
	}
	if strings.TrimSpace(c.Payment.MerchantID) == "" {
		problems = append(problems, "PAYME_MERCHANT_ID is required")
	}
	if c.Payment.Price <= 0 {
		problems = append(problems, "OLYMPIAD_PRICE must be positive")
	}
	if c.Olympiad.MinGrade > c.Olympiad.MaxGrade {
		problems = append(problems, "MIN_GRADE must not exceed MAX_GRADE")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	if (c.Session.Backend == BackendRedis || c.Throttle.Backend == BackendRedis) && !c.Redis.Enabled {
		problems = append(problems, "redis backends require REDIS_ENABLED=true")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// IsAdmin reports whether accountID belongs to the admin allow-list.
func (c *Config) IsAdmin(accountID int64) bool {
	for _, id := range c.Bot.AdminIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("TIMEZONE", "Asia/Tashkent")

	v.SetDefault("BOT_TOKEN", "")
	v.SetDefault("BOT_POLL_TIMEOUT", 30)
	v.SetDefault("BOT_DEBUG", false)
	v.SetDefault("DISPATCH_WORKERS", 8)
	v.SetDefault("ADMIN_IDS", "")

	v.SetDefault("PAYME_MERCHANT_ID", "")
	v.SetDefault("PAYME_CHECKOUT_URL", "https://checkout.paycom.uz/")
	v.SetDefault("OLYMPIAD_PRICE", 50000)

	v.SetDefault("MIN_GRADE", 1)
	v.SetDefault("MAX_GRADE", 8)
	v.SetDefault("DEFAULT_LANGUAGE", "en")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "olympiad.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "olympiad")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SESSION_BACKEND", BackendMemory)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("THROTTLE_BACKEND", BackendMemory)
	v.SetDefault("THROTTLE_INTERVAL", "500ms")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("PUBLIC_BASE_URL", "")

	v.SetDefault("PROOFS_ARCHIVE_ENABLED", false)
	v.SetDefault("PROOFS_STORAGE_DIR", "./proofs")
	v.SetDefault("PROOFS_MAX_DIMENSION", 1600)
	v.SetDefault("PROOFS_WORKERS", 2)
	v.SetDefault("PROOFS_RETRIES", 3)

	v.SetDefault("STATS_CACHE_TTL", "1m")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "olympiad-bot")
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

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseIDs(raw string) ([]int64, error) {
	parts := splitAndTrim(raw)
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ADMIN_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
