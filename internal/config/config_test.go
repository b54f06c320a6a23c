package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REPORT_TTL_SECONDS", "")
	t.Setenv("TIMEZONE", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ReportTTLSeconds != 30 {
		t.Fatalf("expected default report TTL 30, got %d", cfg.ReportTTLSeconds)
	}
	if cfg.Timezone != "Asia/Baghdad" {
		t.Fatalf("expected default timezone Asia/Baghdad, got %s", cfg.Timezone)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadRejectsBogusNumericValues(t *testing.T) {
	t.Setenv("REPORT_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "zero")

	cfg := Load()
	if cfg.ReportTTLSeconds != 30 {
		t.Fatalf("expected TTL fallback 30 on negative input, got %d", cfg.ReportTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token TTL fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
