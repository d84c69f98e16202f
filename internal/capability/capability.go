// ABOUTME: Role to permission rules deciding which bootstrap topics a user may request
// ABOUTME: Rules load from YAML; a Checker answers all-of permission checks

package capability

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permission names checked by the console.
const (
	ContactsRead      = "contacts:read"
	DemographicsRead  = "demographics:read"
	CredentialsRead   = "credentials:read"
	PresentationsRead = "presentations:read"
	RolesRead         = "roles:read"
	SettingsUpdate    = "settings:update"
	UsersRead         = "users:read"
)

// RoleRule lists what a role grants.
type RoleRule struct {
	Static []string `yaml:"static"`
}

// Rules maps role names to their grants.
type Rules map[string]RoleRule

// DefaultRules returns the built-in role set used when no rules file is configured.
func DefaultRules() Rules {
	return Rules{
		"admin": {Static: []string{
			ContactsRead, DemographicsRead, CredentialsRead, PresentationsRead,
			RolesRead, SettingsUpdate, UsersRead,
			"contacts:update", "credentials:issue", "users:create", "users:update", "users:delete",
		}},
		"moderator": {Static: []string{
			ContactsRead, DemographicsRead, CredentialsRead, PresentationsRead,
		}},
	}
}

// LoadRules reads a YAML rules file of the form
//
//	admin:
//	  static: ["contacts:read", "users:read"]
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no roles", path)
	}
	for role, rule := range rules {
		for _, p := range rule.Static {
			if !strings.Contains(p, ":") {
				return nil, fmt.Errorf("role %q: permission %q is not resource:action", role, p)
			}
		}
	}
	return rules, nil
}

// Predicate reports whether the given roles hold every listed permission.
type Predicate func(roles []string, perms ...string) bool

// Checker answers permission checks against a rule set.
type Checker struct {
	rules  Rules
	logger *slog.Logger
}

// NewChecker creates a checker. Nil rules use DefaultRules.
func NewChecker(rules Rules, logger *slog.Logger) *Checker {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{rules: rules, logger: logger.With("component", "capability")}
}

// Can reports whether roles grant all of perms. No perms means allowed.
func (c *Checker) Can(roles []string, perms ...string) bool {
	for _, p := range perms {
		if !c.grants(roles, p) {
			c.logger.Debug("permission denied", "roles", roles, "permission", p)
			return false
		}
	}
	return true
}

// Predicate returns Can as an injectable function.
func (c *Checker) Predicate() Predicate {
	return c.Can
}

// Roles returns the configured role names, sorted.
func (c *Checker) Roles() []string {
	names := make([]string, 0, len(c.rules))
	for name := range c.rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Checker) grants(roles []string, perm string) bool {
	for _, r := range roles {
		if slices.Contains(c.rules[r].Static, perm) {
			return true
		}
	}
	return false
}
