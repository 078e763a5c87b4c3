// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// ProfileType is the proxy protocol a profile speaks.
type ProfileType string

const (
	ProfileHTTP   ProfileType = "HTTP"
	ProfileHTTPS  ProfileType = "HTTPS"
	ProfileSOCKS4 ProfileType = "SOCKS4"
	ProfileSOCKS5 ProfileType = "SOCKS5"
	ProfilePAC    ProfileType = "PAC"
)

// ProfileTypes lists every valid profile type in display order.
var ProfileTypes = []ProfileType{ProfileHTTP, ProfileHTTPS, ProfileSOCKS4, ProfileSOCKS5, ProfilePAC}

// Valid reports whether t is one of the known profile types.
func (t ProfileType) Valid() bool {
	for _, known := range ProfileTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsSOCKS reports whether t is a SOCKS variant.
func (t ProfileType) IsSOCKS() bool {
	return t == ProfileSOCKS4 || t == ProfileSOCKS5
}

// Profile is a named proxy endpoint configuration.
type Profile struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       ProfileType `json:"type"`
	Host       string      `json:"host"`
	Port       int         `json:"port"`
	Username   string      `json:"username,omitempty"`
	Password   string      `json:"password,omitempty"`
	BypassList []string    `json:"bypassList,omitempty"`
	PACURL     string      `json:"pacUrl,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// HasCredentials reports whether the profile carries a username.
func (p Profile) HasCredentials() bool {
	return p.Username != ""
}

// MatchType selects how a rule pattern is interpreted.
type MatchType string

const (
	MatchWildcard MatchType = "wildcard"
	MatchRegex    MatchType = "regex"
)

// Rule routes URLs matching Pattern to the profile ProfileID.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Pattern   string    `json:"pattern"`
	Type      MatchType `json:"type"`
	ProfileID string    `json:"profileId"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRule returns a wildcard rule with the documented defaults (enabled, priority 0).
func NewRule(pattern, profileID string) Rule {
	return Rule{
		Pattern:   pattern,
		Type:      MatchWildcard,
		ProfileID: profileID,
		Enabled:   true,
	}
}

// UnmarshalJSON treats a missing "enabled" field as true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type alias Rule
	decoded := alias{Enabled: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = Rule(decoded)
	return nil
}

// FirewallRule blocks (or, later, allows) outbound traffic for one executable.
type FirewallRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Enabled     bool      `json:"enabled"`
	Blocked     bool      `json:"blocked"`
	LogAttempts bool      `json:"logAttempts"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	AnchorFile  string    `json:"anchorFile,omitempty"`
	// OSRuleName is the Windows Firewall rule name last committed for this
	// record. It outlives renames so the committed rule can still be removed.
	OSRuleName  string    `json:"osRuleName,omitempty"`
}

// NewFirewallRule returns an enabled blocking rule.
func NewFirewallRule(name, path string) FirewallRule {
	return FirewallRule{
		Name:    name,
		Path:    path,
		Enabled: true,
		Blocked: true,
	}
}

// UnmarshalJSON treats missing "enabled" and "blocked" fields as true.
func (f *FirewallRule) UnmarshalJSON(data []byte) error {
	type alias FirewallRule
	decoded := alias{Enabled: true, Blocked: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*f = FirewallRule(decoded)
	return nil
}

// SystemState is the reconciled proxy state.
// Enabled implies ActiveProfile != nil.
type SystemState struct {
	ActiveProfile *Profile `json:"activeProfile"`
	Enabled       bool     `json:"enabled"`
}

// ActiveProfileID returns the active profile id or "".
func (s SystemState) ActiveProfileID() string {
	if s.ActiveProfile == nil {
		return ""
	}
	return s.ActiveProfile.ID
}

// StateChange is emitted to observers after every persisted transition.
type StateChange struct {
	Enabled       bool      `json:"enabled"`
	ActiveProfile *Profile  `json:"activeProfile"`
	Reason        string    `json:"reason"`
	At            time.Time `json:"at"`
}

// Settings holds user preferences.
type Settings struct {
	Theme              string `json:"theme"`
	AutoStart          bool   `json:"autoStart"`
	PasswordProtection bool   `json:"passwordProtection"`
	AutoProxy          bool   `json:"autoProxy"`
	MinimizeToTray     bool   `json:"minimizeToTray"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		Theme:          "light",
		MinimizeToTray: true,
	}
}

// ConfigDocument is the export/import format. Nil fields are absent.
type ConfigDocument struct {
	Profiles      *[]Profile      `json:"profiles,omitempty"`
	Rules         *[]Rule         `json:"rules,omitempty"`
	FirewallRules *[]FirewallRule `json:"firewallRules,omitempty"`
	Settings      *Settings       `json:"settings,omitempty"`
	ActiveProfile *Profile        `json:"activeProfile,omitempty"`
}

// Store keys.
const (
	KeyProfiles      = "profiles"
	KeyRules         = "rules"
	KeyFirewallRules = "firewallRules"
	KeyActiveProfile = "activeProfile"
	KeyEnabled       = "enabled"
	KeySettings      = "settings"
)
