package pubbleauth

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigHasNoHighWarnings(t *testing.T) {
	cfg := DefaultConfig()
	ws := cfg.Lint()

	if err := ws.AsError(LintHigh); err != nil {
		t.Fatalf("default config should not fail AsError(LintHigh): %v", err)
	}
	// Defaults sign with hs256 and leave audit off.
	for _, code := range []string{"signing_hs256", "audit_disabled"} {
		if !containsCode(ws.Codes(), code) {
			t.Errorf("expected %s in %v", code, ws.Codes())
		}
	}
}

func TestLint_Codes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"long access ttl", func(c *Config) { c.JWT.AccessTTL = 2 * time.Hour }, "access_ttl_long"},
		{"long refresh ttl", func(c *Config) { c.JWT.RefreshTTL = 90 * 24 * time.Hour }, "refresh_ttl_long"},
		{"large leeway", func(c *Config) { c.JWT.Leeway = 90 * time.Second }, "leeway_large"},
		{"no audience", func(c *Config) { c.JWT.Audience = "" }, "claims_unscoped"},
		{"throttle off", func(c *Config) { c.Security.EnableLoginThrottle = false }, "login_throttle_disabled"},
		{"many attempts", func(c *Config) { c.Security.MaxLoginAttempts = 50 }, "login_attempts_high"},
		{"reuse detection off", func(c *Config) { c.Refresh.RevokeFamilyOnReuse = false }, "reuse_detection_disabled"},
		{"weak bcrypt", func(c *Config) { c.Password.BcryptCost = 6 }, "bcrypt_cost_low"},
		{
			"weak argon2",
			func(c *Config) {
				c.Password.Algorithm = "argon2id"
				c.Password.Memory = 16 * 1024
			},
			"argon2_memory_low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if !containsCode(cfg.Lint().Codes(), tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, cfg.Lint().Codes())
			}
		})
	}
}

func TestLint_NoWarningForGoodArgon2(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password.Algorithm = "argon2id"
	cfg.Password.Memory = 64 * 1024
	if containsCode(cfg.Lint().Codes(), "argon2_memory_low") {
		t.Fatal("should not warn when memory == 64 MB")
	}
}

func TestLint_SeverityAndAsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.EnableLoginThrottle = false
	cfg.Refresh.RevokeFamilyOnReuse = false
	ws := cfg.Lint()

	high := ws.BySeverity(LintHigh)
	if len(high) != 2 {
		t.Fatalf("expected 2 HIGH warnings, got %v", high.Codes())
	}
	for _, w := range high {
		if w.Severity != LintHigh {
			t.Errorf("%s should be HIGH, got %s", w.Code, w.Severity)
		}
	}
	if err := ws.AsError(LintHigh); err == nil {
		t.Fatal("expected AsError(LintHigh) to fail")
	}
	if len(ws.BySeverity(LintInfo)) != len(ws) {
		t.Fatal("BySeverity(LintInfo) should return every warning")
	}
}

func TestLint_DoesNotMutate(t *testing.T) {
	cfg := DefaultConfig()
	before := cfg.JWT
	_ = cfg.Lint()
	if cfg.JWT.AccessTTL != before.AccessTTL || cfg.JWT.SigningMethod != before.SigningMethod {
		t.Fatal("Lint mutated the config")
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
