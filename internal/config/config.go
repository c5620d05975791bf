package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is built once at startup and passed explicitly to constructors.
type Config struct {
	Port          int
	Env           string
	LogLevel      string
	JWTSecret     string
	Store         string
	DatabaseURL   string
	EncryptionKey string
	CORSOrigins   []string
	AdminEmails   []string

	// BillingPageURL is where Return callbacks send the user afterwards.
	BillingPageURL string
	// PublicURL is this API's externally reachable base URL.
	PublicURL string

	GatewayTimeout time.Duration

	Stripe   StripeConfig
	VNPay    VNPayConfig
	MoMo     MoMoConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Sweeper  SweeperConfig
}

// StripeConfig holds card gateway credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	APIBase       string
}

// Enabled reports whether the gateway has credentials.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

// VNPayConfig holds VNPay merchant settings.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ExpireIn   time.Duration
}

// Enabled reports whether the gateway has credentials.
func (c VNPayConfig) Enabled() bool {
	return c.TmnCode != "" && c.HashSecret != ""
}

// MoMoConfig holds MoMo partner settings.
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RequestType string
}

// Enabled reports whether the gateway has credentials.
func (c MoMoConfig) Enabled() bool {
	return c.PartnerCode != "" && c.AccessKey != "" && c.SecretKey != ""
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// SweeperConfig controls expiry of abandoned checkouts.
type SweeperConfig struct {
	Interval   time.Duration
	PendingTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "4001"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be a number: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	store := getEnv("STORE", "postgres")
	if store != "postgres" && store != "memory" {
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", store)
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" && store == "postgres" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	encKey := getEnv("ENCRYPTION_KEY", "")
	if encKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required (must be exactly 32 bytes)")
	}
	if len(encKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encKey))
	}

	cfg := &Config{
		Port:           port,
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", ""),
		JWTSecret:      jwtSecret,
		Store:          store,
		DatabaseURL:    dbURL,
		EncryptionKey:  encKey,
		CORSOrigins:    getListEnv("CORS_ORIGINS", "http://localhost:3000"),
		AdminEmails:    getListEnv("ADMIN_EMAILS", ""),
		BillingPageURL: strings.TrimRight(getEnv("BILLING_PAGE_URL", "http://localhost:3000/dashboard/billing"), "/"),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		GatewayTimeout: getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToUpper(getEnv("STRIPE_CURRENCY", "USD")),
			APIBase:       getEnv("STRIPE_API_BASE", "https://api.stripe.com"),
		},
		VNPay: VNPayConfig{
			TmnCode:    getEnv("VNPAY_TMN_CODE", ""),
			HashSecret: getEnv("VNPAY_HASH_SECRET", ""),
			PayURL:     getEnv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ExpireIn:   getDurationEnv("VNPAY_EXPIRE_IN", 15*time.Minute),
		},
		MoMo: MoMoConfig{
			PartnerCode: getEnv("MOMO_PARTNER_CODE", ""),
			AccessKey:   getEnv("MOMO_ACCESS_KEY", ""),
			SecretKey:   getEnv("MOMO_SECRET_KEY", ""),
			Endpoint:    getEnv("MOMO_ENDPOINT", "https://test-payment.momo.vn"),
			RequestType: getEnv("MOMO_REQUEST_TYPE", "captureWallet"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "folioforge-billing"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Sweeper: SweeperConfig{
			Interval:   getDurationEnv("SWEEPER_INTERVAL", 10*time.Minute),
			PendingTTL: getDurationEnv("PENDING_TTL", 48*time.Hour),
		},
	}

	if cfg.Sweeper.Interval <= 0 {
		return nil, fmt.Errorf("SWEEPER_INTERVAL must be positive, got %s", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.PendingTTL <= 0 {
		return nil, fmt.Errorf("PENDING_TTL must be positive, got %s", cfg.Sweeper.PendingTTL)
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}
	if cfg.VNPay.ExpireIn <= 0 {
		return nil, fmt.Errorf("VNPAY_EXPIRE_IN must be positive, got %s", cfg.VNPay.ExpireIn)
	}
	// A row still inside its gateway payment window must not be expired.
	if cfg.Sweeper.PendingTTL < cfg.VNPay.ExpireIn {
		return nil, fmt.Errorf("PENDING_TTL (%s) must be at least VNPAY_EXPIRE_IN (%s)", cfg.Sweeper.PendingTTL, cfg.VNPay.ExpireIn)
	}
	return cfg, nil
}

// IsAdminEmail reports whether email is on the admin allowlist.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, allowed := range c.AdminEmails {
		if strings.ToLower(allowed) == email {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getListEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
