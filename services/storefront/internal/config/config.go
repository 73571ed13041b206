package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with STOREFRONT_CONFIG.
var ConfigPath = "config.yaml"

const minJWTSecretBytes = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL     string `yaml:"databaseURL"`
	DatabaseMaxOpen int    `yaml:"databaseMaxOpenConns"`
	DatabaseIPv4    bool   `yaml:"databaseForceIPv4"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`

	JWTSecret           string `yaml:"jwtSecret"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	SessionTTL          string `yaml:"sessionTTL"`
	BootstrapAdminEmail string `yaml:"bootstrapAdminEmail"`

	StripeSecretKey     string `yaml:"stripeSecretKey"`
	StripeWebhookSecret string `yaml:"stripeWebhookSecret"`
	Currency            string `yaml:"currency"`
	PublicURL           string `yaml:"publicURL"`
	CronSecret          string `yaml:"cronSecret"`

	MailerSendAPIKey  string `yaml:"mailerSendAPIKey"`
	MailerLiteAPIKey  string `yaml:"mailerLiteAPIKey"`
	MailerLiteGroupID string `yaml:"mailerLiteGroupID"`
	MailFromAddress   string `yaml:"mailFromAddress"`
	MailFromName      string `yaml:"mailFromName"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	DownloadExpiry string `yaml:"downloadExpiry"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	AllowedOrigins             []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	SignupRateLimitPerMinute   int      `yaml:"signupRateLimitPerMinute"`
	CheckoutRateLimitPerMinute int      `yaml:"checkoutRateLimitPerMinute"`
}

// Load reads config from path, then .env, then environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("STOREFRONT_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployments are allowed
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	if len(cfg.AllowedOrigins) == 0 && cfg.PublicURL != "" {
		cfg.AllowedOrigins = []string{cfg.PublicURL}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() FileConfig {
	return FileConfig{
		Port:                       "8080",
		LogLevel:                   "info",
		SessionTTL:                 "24h",
		Currency:                   "usd",
		DownloadExpiry:             "15m",
		MaxUploadBytes:             25 << 20,
		MinioBucket:                "paperwise-documents",
		MailFromName:               "Paperwise",
		LoginRateLimitPerMinute:    10,
		SignupRateLimitPerMinute:   5,
		CheckoutRateLimitPerMinute: 20,
	}
}

func applyEnv(cfg *FileConfig) {
	envString("PORT", &cfg.Port)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("JWT_SECRET", &cfg.JWTSecret)
	envString("JWT_ISSUER", &cfg.JWTIssuer)
	envString("JWT_AUDIENCE", &cfg.JWTAudience)
	envString("SESSION_TTL", &cfg.SessionTTL)
	envString("BOOTSTRAP_ADMIN_EMAIL", &cfg.BootstrapAdminEmail)
	envString("STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	envString("STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret)
	envString("CURRENCY", &cfg.Currency)
	envString("NEXT_PUBLIC_URL", &cfg.PublicURL)
	envString("CRON_SECRET", &cfg.CronSecret)
	envString("MAILERSEND_API_KEY", &cfg.MailerSendAPIKey)
	envString("MAILERLITE_API_KEY", &cfg.MailerLiteAPIKey)
	envString("MAILERLITE_GROUP_ID", &cfg.MailerLiteGroupID)
	envString("MAIL_FROM_ADDRESS", &cfg.MailFromAddress)
	envString("MAIL_FROM_NAME", &cfg.MailFromName)
	envString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	envString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	envString("MINIO_BUCKET", &cfg.MinioBucket)
	envString("DOWNLOAD_EXPIRY", &cfg.DownloadExpiry)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("DATABASE_FORCE_IPV4"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DatabaseIPv4 = b
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	envInt("DATABASE_MAX_OPEN_CONNS", &cfg.DatabaseMaxOpen)
	envInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	envInt("SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	envInt("CHECKOUT_RATE_LIMIT_PER_MINUTE", &cfg.CheckoutRateLimitPerMinute)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for guest carts and rate limiting")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes (set JWT_SECRET)", minJWTSecretBytes)
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		return errors.New("config: stripeSecretKey is required (set STRIPE_SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return errors.New("config: stripeWebhookSecret is required (set STRIPE_WEBHOOK_SECRET)")
	}
	if strings.TrimSpace(cfg.PublicURL) == "" {
		return errors.New("config: publicURL is required (set NEXT_PUBLIC_URL)")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.SignupRateLimitPerMinute < 0 || cfg.CheckoutRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseDownloadExpiry(cfg.DownloadExpiry); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
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

// ParseSessionTTL parses the session lifetime; empty means 24h.
func ParseSessionTTL(ttl string) (time.Duration, error) {
	return parsePositiveDuration("sessionTTL", ttl, 24*time.Hour)
}

// ParseDownloadExpiry parses presigned download URL lifetime; empty means 15m.
func ParseDownloadExpiry(expiry string) (time.Duration, error) {
	return parsePositiveDuration("downloadExpiry", expiry, 15*time.Minute)
}

func parsePositiveDuration(name, raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s duration: must be positive", name)
	}
	return dur, nil
}
