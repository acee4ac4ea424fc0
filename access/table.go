// Package access maps request paths to the authentication a route requires.
//
// A [Table] is an ordered list of rules evaluated first match wins, with a
// fallback requirement for paths no rule names. Patterns are either exact
// ("/admin"), a subtree ("/users/**" matches "/users" and everything below
// it) or contain single-segment wildcards ("/projects/*/members").
package access

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Kind classifies a Requirement.
type Kind uint8

const (
	// KindNone marks a public route; authentication is skipped entirely.
	KindNone Kind = iota
	// KindAuthenticated requires any principal.
	KindAuthenticated
	// KindRole requires a principal holding a specific role.
	KindRole
)

// Requirement is what a route demands of the caller.
type Requirement struct {
	Kind Kind
	Role string
}

var (
	Public        = Requirement{Kind: KindNone}
	Authenticated = Requirement{Kind: KindAuthenticated}
)

// RequireRole returns a Requirement for role.
func RequireRole(role string) Requirement {
	return Requirement{Kind: KindRole, Role: role}
}

func (r Requirement) String() string {
	switch r.Kind {
	case KindNone:
		return "none"
	case KindAuthenticated:
		return "any"
	default:
		return r.Role
	}
}

// Decision is the outcome of checking a caller against a Requirement.
type Decision uint8

const (
	Allow Decision = iota
	// Unauthenticated means the route needs a principal and there is none.
	Unauthenticated
	// Forbidden means the principal lacks the required role.
	Forbidden
)

// Check evaluates the requirement for a caller. role is ignored when
// authenticated is false.
func (r Requirement) Check(authenticated bool, role string) Decision {
	switch r.Kind {
	case KindNone:
		return Allow
	case KindAuthenticated:
		if !authenticated {
			return Unauthenticated
		}
		return Allow
	default:
		if !authenticated {
			return Unauthenticated
		}
		if role != r.Role {
			return Forbidden
		}
		return Allow
	}
}

// Rule binds a path pattern to a Requirement.
type Rule struct {
	Pattern string
	Require Requirement

	segments []string
	subtree  bool
}

// Table is an immutable, ordered rule set.
type Table struct {
	rules    []Rule
	fallback Requirement
}

// NewTable compiles rules. Every pattern must be absolute.
func NewTable(rules []Rule, fallback Requirement) (*Table, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		c, err := compile(r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return &Table{rules: compiled, fallback: fallback}, nil
}

// MustTable is NewTable that panics on error, for static rule sets.
func MustTable(rules []Rule, fallback Requirement) *Table {
	t, err := NewTable(rules, fallback)
	if err != nil {
		panic(err)
	}
	return t
}

func compile(r Rule) (Rule, error) {
	p := strings.TrimSpace(r.Pattern)
	if !strings.HasPrefix(p, "/") {
		return Rule{}, fmt.Errorf("access: pattern %q must start with /", r.Pattern)
	}
	if r.Require.Kind == KindRole && strings.TrimSpace(r.Require.Role) == "" {
		return Rule{}, fmt.Errorf("access: pattern %q has a role requirement without a role", r.Pattern)
	}
	if strings.HasSuffix(p, "/**") {
		r.subtree = true
		p = strings.TrimSuffix(p, "/**")
	}
	if strings.Contains(p, "**") {
		return Rule{}, fmt.Errorf("access: ** is only allowed as the final segment in %q", r.Pattern)
	}
	r.Pattern = strings.TrimSpace(r.Pattern)
	r.segments = splitPath(p)
	return r, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (r Rule) matches(segs []string) bool {
	if len(segs) < len(r.segments) {
		return false
	}
	if !r.subtree && len(segs) != len(r.segments) {
		return false
	}
	for i, want := range r.segments {
		if want != "*" && want != segs[i] {
			return false
		}
	}
	return true
}

// Match returns the requirement of the first rule matching requestPath, or
// the fallback.
func (t *Table) Match(requestPath string) Requirement {
	segs := splitPath(cleanPath(requestPath))
	for _, r := range t.rules {
		if r.matches(segs) {
			return r.Require
		}
	}
	return t.fallback
}

// IsPublic reports whether requestPath needs no authentication.
func (t *Table) IsPublic(requestPath string) bool {
	return t.Match(requestPath).Kind == KindNone
}

// Rules returns a copy of the compiled rules in evaluation order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Fallback returns the requirement for unmatched paths.
func (t *Table) Fallback() Requirement {
	return t.fallback
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// DefaultRules is the route policy of the pubble backend: sign-in, logout,
// refresh, health and API docs are public, /admin needs ADMIN, everything
// else needs a principal.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "/users/signin", Require: Public},
		{Pattern: "/users/logout", Require: Public},
		{Pattern: "/users/refresh", Require: Public},
		{Pattern: "/health", Require: Public},
		{Pattern: "/hash", Require: Public},
		{Pattern: "/api-docs/**", Require: Public},
		{Pattern: "/v3/**", Require: Public},
		{Pattern: "/admin", Require: RequireRole("ADMIN")},
		{Pattern: "/admin/metrics", Require: RequireRole("ADMIN")},
	}
}

// PublicRules turns a list of path patterns into public rules.
func PublicRules(patterns ...string) []Rule {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, Rule{Pattern: p, Require: Public})
		}
	}
	return out
}

// ParseRules reads a comma separated list of pattern=requirement pairs, where
// the requirement is "none", "any" or a role name, e.g.
//
//	/users/**=none,/admin=ADMIN,/reports/**=any
func ParseRules(raw string) ([]Rule, error) {
	var out []Rule
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pattern, req, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("access: rule %q is missing '='", item)
		}
		requirement, err := ParseRequirement(req)
		if err != nil {
			return nil, fmt.Errorf("access: rule %q: %w", item, err)
		}
		out = append(out, Rule{Pattern: strings.TrimSpace(pattern), Require: requirement})
	}
	return out, nil
}

// ParseRequirement parses "none", "any" or a role name.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Requirement{}, errors.New("empty requirement")
	case "none", "public", "permitall":
		return Public, nil
	case "any", "authenticated":
		return Authenticated, nil
	default:
		return RequireRole(strings.ToUpper(s)), nil
	}
}
