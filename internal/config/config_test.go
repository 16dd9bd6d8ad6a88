package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Error("Load should fail when DATABASE_URL is unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/core")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want default %q", cfg.Port, "8080")
	}
	if cfg.MigrationsPath != "migrations" {
		t.Errorf("MigrationsPath = %q, want default %q", cfg.MigrationsPath, "migrations")
	}
	if cfg.VaultTransitChats != "openmates-chats" {
		t.Errorf("VaultTransitChats = %q, want default", cfg.VaultTransitChats)
	}
	if cfg.MaxUploadBytes != 100*1024*1024 {
		t.Errorf("MaxUploadBytes = %d, want 100MB default", cfg.MaxUploadBytes)
	}
	if cfg.CreditsPerPDFPage != 3 {
		t.Errorf("CreditsPerPDFPage = %v, want default 3", cfg.CreditsPerPDFPage)
	}
	if cfg.CoreInternalURL != "http://localhost:8080" {
		t.Errorf("CoreInternalURL = %q, want default", cfg.CoreInternalURL)
	}
	if cfg.ReconnectGrace != 30*time.Second {
		t.Errorf("ReconnectGrace = %v, want default 30s", cfg.ReconnectGrace)
	}
	if cfg.BillingArchiveDay != 1 {
		t.Errorf("BillingArchiveDay = %d, want default 1", cfg.BillingArchiveDay)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/core")
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_PDF_PAGES", "50")
	t.Setenv("RECONNECT_GRACE_SECONDS", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9999")
	}
	if cfg.MaxPDFPages != 50 {
		t.Errorf("MaxPDFPages = %d, want 50", cfg.MaxPDFPages)
	}
	if cfg.ReconnectGrace != 90*time.Second {
		t.Errorf("ReconnectGrace = %v, want 90s", cfg.ReconnectGrace)
	}
}
