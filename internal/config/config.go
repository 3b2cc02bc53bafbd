package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// TenantBaseDomain is the apex under which default tenant
	// hostnames are issued.
	TenantBaseDomain string

	// PlatformSchema is the shared administrative schema. It hosts the
	// tenant registry and billing tables and can never be provisioned or
	// destroyed through the tenant lifecycle.
	PlatformSchema string

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

	// Webhook signing secrets per payment gateway. An empty secret is a
	// hard startup error in production and a loudly-logged fail-open
	// everywhere else.
	MercadoPagoWebhookSecret string
	PaddleWebhookSecret      string

	// API credentials for outbound gateway calls.
	MercadoPagoAccessToken string
	PaddleAPIKey           string

	Email EmailConfig
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "croft"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: strings.ToLower(getenv("ENVIRONMENT", "development")),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		TenantBaseDomain: getenv("TENANT_BASE_DOMAIN", "croft.farm"),
		PlatformSchema:   getenv("PLATFORM_SCHEMA", "public"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "croft"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		MercadoPagoWebhookSecret: strings.TrimSpace(getenv("MERCADOPAGO_WEBHOOK_SECRET", "")),
		PaddleWebhookSecret:      strings.TrimSpace(getenv("PADDLE_WEBHOOK_SECRET", "")),

		MercadoPagoAccessToken: strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
		PaddleAPIKey:           strings.TrimSpace(getenv("PADDLE_API_KEY", "")),

		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@croft.example"),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid int for %s: %q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}
