package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	SessionSecret string
	SessionTTL    time.Duration
	SessionSecure bool

	Port          string
	WhatsAppPhone string
	UploadDir     string

	AdminLogin    string
	AdminPassword string

	RedisURL       string
	IdempotencyTTL time.Duration

	AllowedOrigins []string

	OTelExporter string
	OTelEndpoint string
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, using process environment")
	}

	cfg := Config{
		DBHost:        getenv("DB_HOST", "MYSQLHOST"),
		DBPort:        withDefault(getenv("DB_PORT", "MYSQLPORT"), "3306"),
		DBName:        getenv("DB_NAME", "MYSQLDATABASE"),
		DBUser:        getenv("DB_USER", "MYSQLUSER"),
		DBPass:        getenv("DB_PASS", "MYSQLPASSWORD"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		Port:          withDefault(os.Getenv("PORT"), "3000"),
		WhatsAppPhone: os.Getenv("WHATSAPP_PHONE"),
		UploadDir:     withDefault(os.Getenv("UPLOAD_DIR"), "uploads"),
		AdminLogin:    os.Getenv("ADMIN_LOGIN"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		RedisURL:      os.Getenv("REDIS_URL"),
		OTelExporter:  strings.ToLower(os.Getenv("OTEL_EXPORTER")),
		OTelEndpoint:  withDefault(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317"),
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("SESSION_SECURE"); v != "" {
		if cfg.SessionSecure, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid SESSION_SECURE %q: %w", v, err)
		}
	}
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var missing []string
	if c.DBHost == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.DBUser == "" {
		missing = append(missing, "DB_USER")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.WhatsAppPhone == "" {
		missing = append(missing, "WHATSAPP_PHONE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.AdminLogin != "" && c.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_LOGIN is set")
	}
	return nil
}

// getenv returns the first non-empty variable among keys.
func getenv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
