package config

import (
	"os"
	"strconv"
	"time"
)

type LedgerConfig struct {
	LockTimeout       time.Duration
	DefaultQueryLimit int
	MaxQueryLimit     int
	IdempotencyTTL    time.Duration
	StaticDir         string
	PublicBaseURL     string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		LockTimeout:       getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 3*time.Second),
		DefaultQueryLimit: getEnvAsInt("LEDGER_DEFAULT_QUERY_LIMIT", 10),
		MaxQueryLimit:     getEnvAsInt("LEDGER_MAX_QUERY_LIMIT", 100),
		IdempotencyTTL:    getEnvAsDuration("LEDGER_IDEMPOTENCY_TTL", 24*time.Hour),
		StaticDir:         getEnv("STATIC_DIR", "./static"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
	}
}

type NotificationConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	SendTimeout  time.Duration
	StoreName    string
}

func LoadNotificationConfig() *NotificationConfig {
	return &NotificationConfig{
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromAddress:  getEnv("SMTP_FROM", "no-reply@kioscopos.local"),
		SendTimeout:  getEnvAsDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		StoreName:    getEnv("STORE_NAME", "Kiosco POS"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
