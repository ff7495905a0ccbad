package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppPort   string
	LogLevel  string
	SQLiteDSN string

	GatewayBaseURL        string
	MerchantID            string
	MerchantSecret        string
	GatewayTimeoutSeconds int64

	// WebhookSecret signs /notify requests; empty disables the check.
	WebhookSecret    string
	SigMaxAgeSeconds int64

	// RequiredOrderFields is a comma-separated list of billing/shipping
	// fields that must be present at purchase initiation.
	RequiredOrderFields []string

	// NotifyUnknownOrderAck makes /notify answer 200 for orders this
	// merchant has no record of, stopping gateway redelivery while the
	// anomaly is logged.
	NotifyUnknownOrderAck bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		AppPort:               getenv("APP_PORT", "8000"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		SQLiteDSN:             getenv("SQLITE_DSN", "./app.db"),
		GatewayBaseURL:        getenv("TENDOPAY_BASE_URL", "https://app.tendopay.ph"),
		MerchantID:            getenv("MERCHANT_ID", ""),
		MerchantSecret:        getenv("MERCHANT_SECRET", "supersecret-dev"),
		GatewayTimeoutSeconds: getInt64("GATEWAY_TIMEOUT_SECONDS", 10),
		WebhookSecret:         getenv("WEBHOOK_SECRET", ""),
		SigMaxAgeSeconds:      getInt64("SIG_MAX_AGE_SECONDS", 300),
		RequiredOrderFields:   getList("REQUIRED_ORDER_FIELDS"),
		NotifyUnknownOrderAck: getBool("NOTIFY_UNKNOWN_ORDER_ACK", false),
	}
}
