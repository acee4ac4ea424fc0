package pubbleauth

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with key", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "access ttl equal to refresh ttl",
			mutate:    func(c *Config) { c.JWT.AccessTTL = c.JWT.RefreshTTL },
			wantValid: false,
		},
		{
			name:      "access ttl longer than refresh ttl",
			mutate:    func(c *Config) { c.JWT.AccessTTL = 2 * c.JWT.RefreshTTL },
			wantValid: false,
		},
		{
			name:      "zero refresh ttl",
			mutate:    func(c *Config) { c.JWT.RefreshTTL = 0 },
			wantValid: false,
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "short hmac secret",
			mutate:    func(c *Config) { c.JWT.PrivateKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "unknown signing method",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name: "ed25519 with keys",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = priv
				c.JWT.PublicKey = pub
			},
			wantValid: true,
		},
		{
			name: "ed25519 without public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = priv
			},
			wantValid: false,
		},
		{
			name:      "bcrypt cost too low",
			mutate:    func(c *Config) { c.Password.BcryptCost = 3 },
			wantValid: false,
		},
		{
			name: "argon2id weak memory",
			mutate: func(c *Config) {
				c.Password.Algorithm = "argon2id"
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name:      "unknown password algorithm",
			mutate:    func(c *Config) { c.Password.Algorithm = "md5" },
			wantValid: false,
		},
		{
			name:      "throttle without attempts",
			mutate:    func(c *Config) { c.Security.MaxLoginAttempts = 0 },
			wantValid: false,
		},
		{
			name: "throttle disabled ignores attempts",
			mutate: func(c *Config) {
				c.Security.EnableLoginThrottle = false
				c.Security.MaxLoginAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultConfigNeedsKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected defaults without a signing key to be rejected")
	}
	if cfg.JWT.AccessTTL >= cfg.JWT.RefreshTTL {
		t.Fatalf("default access ttl must be shorter than refresh ttl")
	}
}

func TestCloneConfigCopiesKeyMaterial(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("abc")}

	clone := cloneConfig(cfg)
	clone.JWT.PrivateKey[0] = 'X'
	clone.JWT.VerifyKeys["k1"][0] = 'X'

	if cfg.JWT.PrivateKey[0] == 'X' || cfg.JWT.VerifyKeys["k1"][0] == 'X' {
		t.Fatalf("clone shares key material with the original")
	}
}
