package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(func(cfg Config) *Config { return &cfg }),
	fx.Provide(NewPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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
	RedisDB       int

	RateLimitEnabled   bool
	InitiateRate       float64
	InitiateBurst      int
	BookingCreateRate  float64
	BookingCreateBurst int

	MaintenanceSecret string

	VoiceProviderBaseURL   string
	VoiceProviderAPIKey    string
	VoiceWebhookSecret     string
	VoiceAssistantID       string
	VoiceTrialAssistantID  string
	CallTimeout            time.Duration
	StaleCallThreshold     time.Duration
	PaymentWindow          time.Duration
	PaymentAmountTolerance float64

	PaymentProvider   string
	PaymentSuccessURL string
	PaymentCancelURL  string

	StripeWebhookSecret  string
	StripeAPIKey         string
	StripeAPIBaseURL     string
	NowPaymentsIPNSecret string
	NowPaymentsAPIKey    string
	NowPaymentsBaseURL   string

	BlockonomicsCallbackToken string
	BlockonomicsAPIKey        string
	BlockonomicsBaseURL       string

	CapacityAccounts []CapacityAccountConfig
}

// CapacityAccountConfig describes one provider calling account seeded at startup.
type CapacityAccountConfig struct {
	Label              string
	PhoneNumberID      string
	APIKeyRef          string
	MaxConcurrentCalls int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "warmline"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "warmline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimitEnabled:   getenv("RATE_LIMIT_ENABLED", "true") == "true",
		InitiateRate:       getenvFloat("RATE_LIMIT_INITIATE_RATE", 1),
		InitiateBurst:      getenvInt("RATE_LIMIT_INITIATE_BURST", 5),
		BookingCreateRate:  getenvFloat("RATE_LIMIT_BOOKING_RATE", 0.5),
		BookingCreateBurst: getenvInt("RATE_LIMIT_BOOKING_BURST", 3),

		MaintenanceSecret: strings.TrimSpace(getenv("MAINTENANCE_SECRET", "")),

		VoiceProviderBaseURL:   getenv("VOICE_PROVIDER_BASE_URL", "https://api.vapi.ai"),
		VoiceProviderAPIKey:    strings.TrimSpace(getenv("VOICE_PROVIDER_API_KEY", "")),
		VoiceWebhookSecret:     strings.TrimSpace(getenv("VOICE_WEBHOOK_SECRET", "")),
		VoiceAssistantID:       strings.TrimSpace(getenv("VOICE_ASSISTANT_ID", "")),
		VoiceTrialAssistantID:  strings.TrimSpace(getenv("VOICE_TRIAL_ASSISTANT_ID", "")),
		CallTimeout:            getenvDuration("CALL_TIMEOUT", 30*time.Minute),
		StaleCallThreshold:     getenvDuration("STALE_CALL_THRESHOLD", 2*time.Hour),
		PaymentWindow:          getenvDuration("PAYMENT_WINDOW", 30*time.Minute),
		PaymentAmountTolerance: getenvFloat("PAYMENT_AMOUNT_TOLERANCE", 0.02),

		PaymentProvider:   strings.ToLower(strings.TrimSpace(getenv("PAYMENT_PROVIDER", "stripe"))),
		PaymentSuccessURL: strings.TrimSpace(getenv("PAYMENT_SUCCESS_URL", "")),
		PaymentCancelURL:  strings.TrimSpace(getenv("PAYMENT_CANCEL_URL", "")),

		StripeWebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripeAPIKey:         strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
		StripeAPIBaseURL:     strings.TrimSpace(getenv("STRIPE_API_BASE_URL", "https://api.stripe.com")),
		NowPaymentsIPNSecret: strings.TrimSpace(getenv("NOWPAYMENTS_IPN_SECRET", "")),
		NowPaymentsAPIKey:    strings.TrimSpace(getenv("NOWPAYMENTS_API_KEY", "")),
		NowPaymentsBaseURL:   strings.TrimSpace(getenv("NOWPAYMENTS_BASE_URL", "https://api.nowpayments.io")),

		BlockonomicsCallbackToken: strings.TrimSpace(getenv("BLOCKONOMICS_CALLBACK_TOKEN", "")),
		BlockonomicsAPIKey:        strings.TrimSpace(getenv("BLOCKONOMICS_API_KEY", "")),
		BlockonomicsBaseURL:       strings.TrimSpace(getenv("BLOCKONOMICS_BASE_URL", "https://www.blockonomics.co")),
	}

	cfg.CapacityAccounts = loadCapacityAccounts()

	return cfg
}

// loadCapacityAccounts reads CAPACITY_ACCOUNTS as a semicolon separated list of
// label:phone_number_id:api_key_ref:max_concurrent entries.
func loadCapacityAccounts() []CapacityAccountConfig {
	raw := strings.TrimSpace(os.Getenv("CAPACITY_ACCOUNTS"))
	if raw == "" {
		return nil
	}

	var accounts []CapacityAccountConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			continue
		}
		maxCalls, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || maxCalls <= 0 {
			continue
		}
		accounts = append(accounts, CapacityAccountConfig{
			Label:              strings.TrimSpace(parts[0]),
			PhoneNumberID:      strings.TrimSpace(parts[1]),
			APIKeyRef:          strings.TrimSpace(parts[2]),
			MaxConcurrentCalls: maxCalls,
		})
	}
	return accounts
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
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
	if err != nil {
		return def
	}
	return parsed
}
