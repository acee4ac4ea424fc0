package pubbleauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pubble-team/pubbleauth/password"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning describes a configuration that passes Validate but is risky.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings returned by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above minimum.
func (r LintResult) BySeverity(minimum LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= minimum {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above minimum into one error, or returns
// nil when there is none.
func (r LintResult) AsError(minimum LintSeverity) error {
	matched := r.BySeverity(minimum)
	if len(matched) == 0 {
		return nil
	}
	errs := make([]error, 0, len(matched))
	for _, w := range matched {
		errs = append(errs, fmt.Errorf("%s [%s]: %s", w.Code, w.Severity, w.Message))
	}
	return errors.Join(errs...)
}

// Lint inspects a configuration for settings that are legal but weaken the
// deployment. It never mutates c and does not repeat Validate's checks.
func (c *Config) Lint() LintResult {
	var out LintResult
	add := func(code string, sev LintSeverity, msg string) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if strings.EqualFold(c.JWT.SigningMethod, "hs256") {
		add("signing_hs256", LintInfo, "hs256 shares the signing secret with every verifier; prefer ed25519 across services")
	}
	if c.JWT.AccessTTL > time.Hour {
		add("access_ttl_long", LintWarn, "access tokens survive logout until they expire; keep AccessTTL at or below 1h")
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "RefreshTTL above 30 days")
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "Leeway above 1m widens the window for expired tokens")
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		add("claims_unscoped", LintWarn, "empty Issuer or Audience disables that claim check")
	}

	if !c.Security.EnableLoginThrottle {
		add("login_throttle_disabled", LintHigh, "sign-in attempts are not rate limited")
	} else if c.Security.MaxLoginAttempts > 20 {
		add("login_attempts_high", LintWarn, "MaxLoginAttempts above 20 makes throttling ineffective")
	}
	if !c.Refresh.RevokeFamilyOnReuse {
		add("reuse_detection_disabled", LintHigh, "a replayed refresh token does not revoke the subject's other tokens")
	}

	switch password.Algorithm(strings.ToLower(c.Password.Algorithm)) {
	case password.AlgorithmArgon2id:
		if c.Password.Memory < 64*1024 {
			add("argon2_memory_low", LintWarn, "argon2id Memory below 64 MB")
		}
	default:
		if c.Password.BcryptCost != 0 && c.Password.BcryptCost < 10 {
			add("bcrypt_cost_low", LintWarn, "BcryptCost below 10")
		}
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not recorded")
	}
	return out
}
