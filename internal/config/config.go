package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	AuthJWTSecret      string
	CORSAllowedOrigins []string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

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
	DBAutoMigrate     bool

	Redis  RedisConfig
	Stripe StripeConfig
	Xero   XeroConfig
	Email  EmailConfig
	Sync   SyncConfig
}

// TelemetryConfig carries the standard OTEL_* and LOG_* settings.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string
}

type XeroConfig struct {
	ClientID           string
	ClientSecret       string
	TokenURL           string
	APIBaseURL         string
	Scopes             []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	// ReceiptOrgName heads the PDF receipt attached to payment emails.
	ReceiptOrgName string
	AttachReceipt  bool
}

func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

type SyncConfig struct {
	PeriodicEnabled bool
	Interval        time.Duration
	BatchSize       int
	RetryDelay      time.Duration
	ClaimTTL        time.Duration
	LeaseTTL        time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "registrar"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		NodeID:             int64(getenvInt("NODE_ID", 1)),
		AuthJWTSecret:      strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", nil),
		OTLPEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:     strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:  getenvBool("OTEL_ENABLED", false),
			OtelProtocol: strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			// Sync traffic is low volume, so every trace is kept by default.
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 1.0),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "registrar"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBaseURL:    getenv("STRIPE_API_BASE_URL", "https://api.stripe.com"),
		},
		Xero: XeroConfig{
			ClientID:           strings.TrimSpace(getenv("XERO_CLIENT_ID", "")),
			ClientSecret:       strings.TrimSpace(getenv("XERO_CLIENT_SECRET", "")),
			TokenURL:           getenv("XERO_TOKEN_URL", "https://identity.xero.com/connect/token"),
			APIBaseURL:         getenv("XERO_API_BASE_URL", "https://api.xero.com/api.xro/2.0"),
			Scopes:             getenvList("XERO_SCOPES", []string{"accounting.transactions", "accounting.settings.read"}),
			RateLimitPerMinute: getenvInt("XERO_RATE_LIMIT_PER_MIN", 50),
			RequestTimeout:     getenvDuration("XERO_REQUEST_TIMEOUT", 30*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:       strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:       getenvInt("SMTP_PORT", 587),
			SMTPUsername:   getenv("SMTP_USERNAME", ""),
			SMTPPassword:   getenv("SMTP_PASSWORD", ""),
			SMTPFrom:       getenv("SMTP_FROM", "no-reply@localhost"),
			ReceiptOrgName: getenv("RECEIPT_ORG_NAME", "Registrar"),
			AttachReceipt:  getenvBool("RECEIPT_ATTACH_PDF", true),
		},
		Sync: SyncConfig{
			PeriodicEnabled: getenvBool("SYNC_PERIODIC_ENABLED", false),
			Interval:        getenvDuration("SYNC_INTERVAL", 15*time.Minute),
			BatchSize:       getenvInt("SYNC_BATCH_SIZE", 50),
			RetryDelay:      getenvDuration("SYNC_RETRY_DELAY", 10*time.Minute),
			ClaimTTL:        getenvDuration("SYNC_CLAIM_TTL", 5*time.Minute),
			LeaseTTL:        getenvDuration("SYNC_LEASE_TTL", 10*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
