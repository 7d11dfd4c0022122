package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env        string
	Port       int
	DBURL      string
	DBMaxConns int

	JWTSecret  string
	SessionTTL time.Duration
	VerifyTTL  time.Duration

	// base used to build the link in verification mails, e.g. https://app.example.com
	PublicBaseURL string

	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SMTPFrom       string
	MailRatePerSec float64
	MailBurst      int

	WhatsAppSessionDir  string
	WhatsAppChromeBin   string
	WhatsAppDebuggerURL string
	WhatsAppHeadless    bool

	ClientBuildDir     string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthRateLimitPerMin int
	RequireSessionToken bool

	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

func Load() Config {
	return Config{
		Env:        getEnv("APP_ENV", "dev"),
		Port:       getEnvInt("PORT", 5000),
		DBURL:      getEnv("DATABASE_URL", buildDBURL()),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),

		JWTSecret:  getEnv("JWT_SECRET", "dev-secret-change-me"),
		SessionTTL: time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		VerifyTTL:  time.Duration(getEnvInt("VERIFY_TTL_HOURS", 24)) * time.Hour,

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5000"), "/"),

		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPUser:       getEnv("SMTP_USER", ""),
		SMTPPassword:   getEnv("SMTP_PASS", ""),
		SMTPFrom:       getEnv("SMTP_FROM", "no-reply@localhost"),
		MailRatePerSec: getEnvFloat("MAIL_RATE_PER_SEC", 2),
		MailBurst:      getEnvInt("MAIL_BURST", 5),

		WhatsAppSessionDir:  getEnv("WHATSAPP_SESSION_DIR", "./.wa-sessions"),
		WhatsAppChromeBin:   getEnv("WHATSAPP_CHROME_BIN", ""),
		WhatsAppDebuggerURL: getEnv("WHATSAPP_DEBUGGER_URL", ""),
		WhatsAppHeadless:    getEnvBool("WHATSAPP_HEADLESS", true),

		ClientBuildDir:     getEnv("CLIENT_BUILD_DIR", "./client/build"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuthRateLimitPerMin: getEnvInt("RATE_LIMIT_AUTH_PER_MIN", 20),
		RequireSessionToken: getEnvBool("REQUIRE_SESSION_TOKEN", false),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}
}

// MailConfigured reports whether an SMTP relay was supplied; without one
// verification mails are only logged.
func (c Config) MailConfigured() bool {
	return c.SMTPHost != ""
}

func (c Config) IsDev() bool {
	return c.Env == "dev"
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "wascheduler")
	pass := getEnv("DB_PASSWORD", "wascheduler")
	name := getEnv("DB_NAME", "wascheduler")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

// WithTimeout bounds a store or mail call made on behalf of a request. A nil
// parent means a detached call.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid int in env, using default", "key", key, "value", v)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float in env, using default", "key", key, "value", v)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid bool in env, using default", "key", key, "value", v)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
