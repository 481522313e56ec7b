package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// SMTP relay used for connection-request and digest emails.
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SenderEmail string

	// FrontendURL is the base URL used in email links.
	FrontendURL string

	// DigestCron is the schedule for the unseen-messages digest,
	// evaluated in DigestTimezone.
	DigestCron     string
	DigestTimezone string

	// TickInterval is how often the scheduler scans for due tasks.
	TickInterval time.Duration
}

func Load() (*Config, error) {
	tick, err := time.ParseDuration(getEnv("TICK_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("parse TICK_INTERVAL: %w", err)
	}

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "eventd"),
		SMTPHost:          getEnv("SMTP_HOST", "smtp-relay.brevo.com"),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPass:          getEnv("SMTP_PASS", ""),
		SenderEmail:       getEnv("SENDER_EMAIL", ""),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:5173"),
		DigestCron:        getEnv("DIGEST_CRON", "0 9 * * *"),
		DigestTimezone:    getEnv("DIGEST_TIMEZONE", "America/New_York"),
		TickInterval:      tick,
	}

	return cfg, nil
}

// Validate checks that the config has everything the daemon needs to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SenderEmail == "" {
		return fmt.Errorf("SENDER_EMAIL is required")
	}
	if _, err := time.LoadLocation(c.DigestTimezone); err != nil {
		return fmt.Errorf("invalid DIGEST_TIMEZONE %q: %w", c.DigestTimezone, err)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
