// Package config centralizes environment-driven configuration for every
// entrypoint in this module (cmd/core, cmd/uploadsvc). There is no config
// file and no CLI flag surface — everything comes from the process
// environment, with an optional .env file loaded in development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds every setting the core and upload-service processes need.
type Config struct {
	Port              string
	DatabaseURL       string
	RedisURL          string
	MigrationsPath    string
	SkillsDir         string
	InternalAPISecret string

	VaultAddr         string
	VaultToken        string
	VaultTransitChats string // transit key name for chat/embed key wrapping
	VaultTransitFiles string // transit key name for upload-service envelope keys

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	S3Region    string

	UploadServiceURL  string // base URL cmd/core uses to reach cmd/uploadsvc internally
	UploadServicePort string // port cmd/uploadsvc listens on
	CoreInternalURL   string // base URL cmd/uploadsvc uses to reach cmd/core's /internal/* surface
	MaxUploadBytes   int64
	MaxPDFPages      int
	CreditsPerPDFPage float64

	RefreshTokenSecret string // HMAC secret the external identity provider signs refresh tokens with
	MalwareScannerAddr string // host:port of the local TCP malware scanner
	AIGenDetectorURL   string // external AI-generation-detection endpoint, best-effort

	ReconnectGrace     time.Duration
	FocusAutoConfirm   time.Duration
	RateLimitWindow    time.Duration
	BillingArchiveDay  int // day-of-month the monthly archival job runs
}

// Load reads configuration from the process environment. A .env file in the
// working directory is loaded first (if present) so local development does
// not require exporting every variable by hand; it never overrides
// variables already set in the real environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{
		Port:              k.String("PORT"),
		DatabaseURL:       k.String("DATABASE_URL"),
		RedisURL:          k.String("REDIS_URL"),
		MigrationsPath:    k.String("MIGRATIONS_PATH"),
		SkillsDir:         k.String("SKILLS_DIR"),
		InternalAPISecret: k.String("INTERNAL_API_SECRET"),

		VaultAddr:         k.String("VAULT_ADDR"),
		VaultToken:        k.String("VAULT_TOKEN"),
		VaultTransitChats: k.String("VAULT_TRANSIT_KEY_CHATS"),
		VaultTransitFiles: k.String("VAULT_TRANSIT_KEY_FILES"),

		S3Endpoint:  k.String("S3_ENDPOINT"),
		S3AccessKey: k.String("S3_ACCESS_KEY"),
		S3SecretKey: k.String("S3_SECRET_KEY"),
		S3Bucket:    k.String("S3_BUCKET"),
		S3UseSSL:    k.Bool("S3_USE_SSL"),
		S3Region:    k.String("S3_REGION"),

		UploadServiceURL:  k.String("UPLOAD_SERVICE_URL"),
		UploadServicePort: k.String("UPLOAD_SERVICE_PORT"),
		CoreInternalURL:   k.String("CORE_INTERNAL_URL"),

		RefreshTokenSecret: k.String("REFRESH_TOKEN_SECRET"),
		MalwareScannerAddr: k.String("MALWARE_SCANNER_ADDR"),
		AIGenDetectorURL:   k.String("AI_GEN_DETECTOR_URL"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}
	if cfg.SkillsDir == "" {
		cfg.SkillsDir = "skills"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.VaultTransitChats == "" {
		cfg.VaultTransitChats = "openmates-chats"
	}
	if cfg.VaultTransitFiles == "" {
		cfg.VaultTransitFiles = "openmates-files"
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}

	cfg.MaxUploadBytes = k.Int64("MAX_UPLOAD_BYTES")
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 100 * 1024 * 1024 // 100MB default
	}
	cfg.MaxPDFPages = k.Int("MAX_PDF_PAGES")
	if cfg.MaxPDFPages == 0 {
		cfg.MaxPDFPages = 1000
	}
	cfg.CreditsPerPDFPage = k.Float64("CREDITS_PER_PDF_PAGE")
	if cfg.CreditsPerPDFPage == 0 {
		cfg.CreditsPerPDFPage = 3
	}
	if cfg.MalwareScannerAddr == "" {
		cfg.MalwareScannerAddr = "localhost:3310"
	}
	if cfg.CoreInternalURL == "" {
		cfg.CoreInternalURL = "http://localhost:8080"
	}

	cfg.ReconnectGrace = durationOr(k, "RECONNECT_GRACE_SECONDS", 30*time.Second)
	cfg.FocusAutoConfirm = durationOr(k, "FOCUS_AUTO_CONFIRM_SECONDS", 20*time.Second)
	cfg.RateLimitWindow = durationOr(k, "RATE_LIMIT_WINDOW_SECONDS", 60*time.Second)

	cfg.BillingArchiveDay = k.Int("BILLING_ARCHIVE_DAY")
	if cfg.BillingArchiveDay == 0 {
		cfg.BillingArchiveDay = 1
	}

	return cfg, nil
}

func durationOr(k *koanf.Koanf, key string, fallback time.Duration) time.Duration {
	secs := k.Int(key)
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
