package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("RELAYDESK_DB_DSN", "file:relaydesk.db")
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("RELAYDESK_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.UDPPortStart != 50000 || cfg.UDPPortEnd != 60000 {
		t.Fatalf("unexpected default port range [%d, %d)", cfg.UDPPortStart, cfg.UDPPortEnd)
	}
	if cfg.SessionCodeLength != 9 {
		t.Fatalf("expected 9 digit codes by default, got %d", cfg.SessionCodeLength)
	}
	if cfg.DefaultSessionQuota != 10 {
		t.Fatalf("expected default quota 10, got %d", cfg.DefaultSessionQuota)
	}
	if cfg.PortRangeSize() != 10000 {
		t.Fatalf("expected pool size 10000, got %d", cfg.PortRangeSize())
	}
}

func TestLoadRequiresSigningKey(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "")
	t.Setenv("RD_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a signing key")
	}
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")

	cases := []struct {
		name  string
		start string
		end   string
	}{
		{"inverted", "60000", "50000"},
		{"empty", "50000", "50000"},
		{"zero start", "0", "100"},
		{"beyond uint16", "65000", "70000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("RELAYDESK_UDP_PORT_START", tc.start)
			t.Setenv("RELAYDESK_UDP_PORT_END", tc.end)
			if _, err := Load(); err == nil {
				t.Fatalf("expected range [%s, %s) to be rejected", tc.start, tc.end)
			}
		})
	}
}

func TestLoadRejectsUnknownStrategyAndBackend(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")

	t.Setenv("RELAYDESK_PORT_STRATEGY", "random")
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown port strategy to be rejected")
	}

	t.Setenv("RELAYDESK_PORT_STRATEGY", "FIFO")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected fifo strategy to load: %v", err)
	}
	if cfg.PortStrategy != PortStrategyFIFO {
		t.Fatalf("expected strategy to be normalised, got %q", cfg.PortStrategy)
	}

	t.Setenv("RELAYDESK_DB_BACKEND", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}
}

func TestLoadBoundsDefaultSessionQuota(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")

	for _, raw := range []string{"0", "51", "-3"} {
		t.Setenv("RELAYDESK_DEFAULT_SESSION_QUOTA", raw)
		if _, err := Load(); err == nil {
			t.Errorf("expected default quota %s to be rejected", raw)
		}
	}

	t.Setenv("RELAYDESK_DEFAULT_SESSION_QUOTA", "50")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected upper bound to load: %v", err)
	}
	if cfg.DefaultSessionQuota != 50 {
		t.Fatalf("expected quota 50, got %d", cfg.DefaultSessionQuota)
	}
}

func TestLoadMemoryBackendNotAllowedInProduction(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("RELAYDESK_DB_BACKEND", "memory")

	if _, err := Load(); err != nil {
		t.Fatalf("expected memory backend in development to load: %v", err)
	}

	t.Setenv("RELAYDESK_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected memory backend to be rejected in production")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("RELAYDESK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("MAX_SESSIONS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) < 2 {
		t.Fatalf("expected legacy env warnings, got %v", cfg.LegacyEnvWarnings)
	}
}

func TestRetention(t *testing.T) {
	cfg := &Config{RetentionDays: 2}
	if got := cfg.Retention().Hours(); got != 48 {
		t.Fatalf("expected 48h retention, got %vh", got)
	}
	cfg.RetentionDays = 0
	if cfg.Retention() != 0 {
		t.Fatal("expected retention disabled")
	}
}
