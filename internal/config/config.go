package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMedicaidIndicators are matched against plan and carrier names.
var DefaultMedicaidIndicators = []string{"MCD", "MEDICAID", "HEALTH FIRST MEDICAID"}

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string
	Port     string

	// AdvancedMD practice-management API
	AMDBaseURL    string
	AMDAPIBaseURL string
	AMDUsername   string
	AMDPassword   string
	AMDOfficeCode string
	AMDAppName    string

	// Service-line webhook
	ServiceLineWebhookURL string

	// Batch behaviour
	LookbackHours           int
	EligibilityPollAttempts int
	EligibilityPollInterval time.Duration
	ReferenceChargeCents    int64
	MedicaidIndicators      []string
	MemoDryRun              bool

	// Per-call timeouts
	AuthTimeout        time.Duration
	FetchTimeout       time.Duration
	AppointmentTimeout time.Duration
	EligibilityTimeout time.Duration
	WebhookTimeout     time.Duration
	MemoTimeout        time.Duration

	AdminJWTSecret string

	// Run ledger and memo audit
	DatabaseURL string

	// Distributed run lock
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	RunLockTTL    time.Duration

	// Run report archive
	ReportBucket        string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Run summary email
	SummaryEmailTo            []string
	SummaryEmailOnlyOnFailure bool
	EmailProvider             string
	SendGridAPIKey            string
	EmailFrom                 string
	EmailFromName             string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),

		AMDBaseURL:    getEnv("AMD_BASE_URL", ""),
		AMDAPIBaseURL: getEnv("AMD_API_BASE_URL", ""),
		AMDUsername:   getEnv("AMD_USERNAME", ""),
		AMDPassword:   getEnv("AMD_PASSWORD", ""),
		AMDOfficeCode: getEnv("AMD_OFFICE_CODE", ""),
		AMDAppName:    getEnv("AMD_APP_NAME", ""),

		ServiceLineWebhookURL: getEnv("SERVICE_LINE_WEBHOOK_URL", ""),

		LookbackHours:           getEnvAsInt("LOOKBACK_HOURS", 24),
		EligibilityPollAttempts: getEnvAsInt("ELIGIBILITY_POLL_ATTEMPTS", 5),
		EligibilityPollInterval: getEnvAsDuration("ELIGIBILITY_POLL_INTERVAL", 2*time.Second),
		ReferenceChargeCents:    getEnvAsInt64("REFERENCE_CHARGE_CENTS", 40000),
		MedicaidIndicators:      getEnvAsList("MEDICAID_INDICATORS", DefaultMedicaidIndicators),
		MemoDryRun:              getEnvAsBool("MEMO_DRY_RUN", false),

		AuthTimeout:        getEnvAsDuration("AUTH_TIMEOUT", 15*time.Second),
		FetchTimeout:       getEnvAsDuration("FETCH_TIMEOUT", 60*time.Second),
		AppointmentTimeout: getEnvAsDuration("APPOINTMENT_TIMEOUT", 15*time.Second),
		EligibilityTimeout: getEnvAsDuration("ELIGIBILITY_TIMEOUT", 20*time.Second),
		WebhookTimeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		MemoTimeout:        getEnvAsDuration("MEMO_TIMEOUT", 20*time.Second),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		RunLockTTL:    getEnvAsDuration("RUN_LOCK_TTL", 2*time.Hour),

		ReportBucket:        getEnv("REPORT_BUCKET", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SummaryEmailTo:            getEnvAsList("SUMMARY_EMAIL_TO", nil),
		SummaryEmailOnlyOnFailure: getEnvAsBool("SUMMARY_EMAIL_ONLY_ON_FAILURE", false),
		EmailProvider:             strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:            getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:                 getEnv("EMAIL_FROM", ""),
		EmailFromName:             getEnv("EMAIL_FROM_NAME", "Responsibility Agent"),
	}
}

// Validate reports the settings a batch run cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AMDBaseURL) == "" {
		missing = append(missing, "AMD_BASE_URL")
	}
	if strings.TrimSpace(c.AMDAPIBaseURL) == "" {
		missing = append(missing, "AMD_API_BASE_URL")
	}
	if strings.TrimSpace(c.AMDUsername) == "" {
		missing = append(missing, "AMD_USERNAME")
	}
	if strings.TrimSpace(c.AMDPassword) == "" {
		missing = append(missing, "AMD_PASSWORD")
	}
	if strings.TrimSpace(c.ServiceLineWebhookURL) == "" {
		missing = append(missing, "SERVICE_LINE_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.LookbackHours <= 0 {
		return errors.New("config: LOOKBACK_HOURS must be positive")
	}
	if c.EligibilityPollAttempts <= 0 {
		return errors.New("config: ELIGIBILITY_POLL_ATTEMPTS must be positive")
	}
	if c.ReferenceChargeCents < 0 {
		return errors.New("config: REFERENCE_CHARGE_CENTS must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if strings.TrimSpace(valueStr) == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
