package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string
	OpsAPIToken string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Providers ProviderConfig
	Fees      FeeConfig
	Notify    NotifyConfig
}

// ProviderConfig carries per-gateway credentials for webhook verification
// and outbound transfer/status calls.
type ProviderConfig struct {
	AsaasBaseURL        string
	AsaasAPIKey         string
	AsaasWebhookToken   string
	StoneBaseURL        string
	StoneAPIKey         string
	StoneWebhookSecret  string
	StripeBaseURL       string
	StripeAPIKey        string
	StripeWebhookSecret string
}

// FeeConfig is the platform-wide fallback when a partner has no fee row.
type FeeConfig struct {
	DefaultCommissionBps int64
	DefaultGatewayBps    int64
	DefaultGatewayFixed  int64
}

// NotifyConfig configures outbound notification channels.
type NotifyConfig struct {
	SMTPHost        string
	SMTPPort        string
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	SlackWebhookURL string
	MaxAttempts     int
	SendTimeoutSec  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "paycore"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		OpsAPIToken: strings.TrimSpace(getenv("OPS_API_TOKEN", "")),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paycore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),

		Providers: ProviderConfig{
			AsaasBaseURL:        getenv("ASAAS_BASE_URL", "https://api.asaas.com"),
			AsaasAPIKey:         strings.TrimSpace(getenv("ASAAS_API_KEY", "")),
			AsaasWebhookToken:   strings.TrimSpace(getenv("ASAAS_WEBHOOK_TOKEN", "")),
			StoneBaseURL:        getenv("STONE_BASE_URL", "https://api.openbank.stone.com.br"),
			StoneAPIKey:         strings.TrimSpace(getenv("STONE_API_KEY", "")),
			StoneWebhookSecret:  strings.TrimSpace(getenv("STONE_WEBHOOK_SECRET", "")),
			StripeBaseURL:       getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
			StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		Fees: FeeConfig{
			DefaultCommissionBps: getenvInt64("FEES_DEFAULT_COMMISSION_BPS", 500),
			DefaultGatewayBps:    getenvInt64("FEES_DEFAULT_GATEWAY_BPS", 0),
			DefaultGatewayFixed:  getenvInt64("FEES_DEFAULT_GATEWAY_FIXED", 0),
		},
		Notify: NotifyConfig{
			SMTPHost:        getenv("SMTP_HOST", ""),
			SMTPPort:        getenv("SMTP_PORT", "587"),
			SMTPUser:        getenv("SMTP_USER", ""),
			SMTPPassword:    getenv("SMTP_PASSWORD", ""),
			SMTPFrom:        getenv("SMTP_FROM", "billing@paycore.local"),
			SlackWebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			MaxAttempts:     getenvInt("NOTIFY_MAX_ATTEMPTS", 5),
			SendTimeoutSec:  getenvInt("NOTIFY_SEND_TIMEOUT_SEC", 15),
		},
	}

	return cfg
}

// Module provides Config to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
