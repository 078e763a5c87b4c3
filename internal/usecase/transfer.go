package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/policy"
)

// ConfigTransfer exports and imports the whole configuration as one document.
type ConfigTransfer struct {
	store     domain.Store
	snapshots domain.SnapshotStore
	orch      *Orchestrator
	logger    *zap.Logger
}

// NewConfigTransfer creates a config transfer. snapshots may be nil, in which
// case imports are not backed up first. orch turns the proxy off before an
// import replaces the active profile; without one such imports are refused
// while the proxy is enabled.
func NewConfigTransfer(store domain.Store, snapshots domain.SnapshotStore, orch *Orchestrator, logger *zap.Logger) *ConfigTransfer {
	return &ConfigTransfer{store: store, snapshots: snapshots, orch: orch, logger: logger}
}

// errProxyEnabled is returned when an import would replace the applied
// profile and nothing can turn the proxy off first.
var errProxyEnabled = errors.New("proxy is enabled; disable it before importing an active profile")

// Export reads every top-level field into a document.
func (t *ConfigTransfer) Export() (domain.ConfigDocument, error) {
	profiles, err := loadList[domain.Profile](t.store, domain.KeyProfiles)
	if err != nil {
		return domain.ConfigDocument{}, err
	}
	rules, err := loadList[domain.Rule](t.store, domain.KeyRules)
	if err != nil {
		return domain.ConfigDocument{}, err
	}
	fwRules, err := loadList[domain.FirewallRule](t.store, domain.KeyFirewallRules)
	if err != nil {
		return domain.ConfigDocument{}, err
	}
	settings := domain.DefaultSettings()
	if _, err := t.store.Get(domain.KeySettings, &settings); err != nil {
		return domain.ConfigDocument{}, fmt.Errorf("failed to load settings: %w", err)
	}
	state, err := loadState(t.store)
	if err != nil {
		return domain.ConfigDocument{}, err
	}

	return domain.ConfigDocument{
		Profiles:      nonNil(profiles),
		Rules:         nonNil(rules),
		FirewallRules: nonNil(fwRules),
		Settings:      &settings,
		ActiveProfile: state.ActiveProfile,
	}, nil
}

// ExportJSON renders Export as indented JSON.
func (t *ConfigTransfer) ExportJSON() ([]byte, error) {
	doc, err := t.Export()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Import overwrites every field present in doc in a single store write and
// leaves absent fields untouched. Importing an active profile never turns
// the proxy on: if it is enabled it is disabled first, and the imported
// state is stored as disabled.
func (t *ConfigTransfer) Import(ctx context.Context, doc domain.ConfigDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	disable := false
	if doc.ActiveProfile != nil {
		state, err := loadState(t.store)
		if err != nil {
			return err
		}
		if state.Enabled && t.orch == nil {
			return errProxyEnabled
		}
		disable = state.Enabled
	}

	values := make(map[string]any)
	if doc.Profiles != nil {
		values[domain.KeyProfiles] = *doc.Profiles
	}
	if doc.Rules != nil {
		values[domain.KeyRules] = *doc.Rules
	}
	if doc.FirewallRules != nil {
		values[domain.KeyFirewallRules] = *doc.FirewallRules
	}
	if doc.Settings != nil {
		values[domain.KeySettings] = *doc.Settings
	}
	if doc.ActiveProfile != nil {
		values[domain.KeyActiveProfile] = *doc.ActiveProfile
		values[domain.KeyEnabled] = false
	}
	if len(values) == 0 {
		return nil
	}

	if t.snapshots != nil {
		current, err := t.ExportJSON()
		if err != nil {
			return err
		}
		snap, err := t.snapshots.Save(current)
		if err != nil {
			return fmt.Errorf("failed to back up config before import: %w", err)
		}
		t.logger.Info("config backed up before import", zap.String("snapshot", snap.Name))
	}

	if disable {
		if _, err := t.orch.Disable(ctx); err != nil {
			return fmt.Errorf("failed to disable proxy before import: %w", err)
		}
	}

	if err := t.store.SetMany(values); err != nil {
		return fmt.Errorf("failed to import config: %w", err)
	}
	t.logger.Info("config imported", zap.Int("fields", len(values)))
	return nil
}

// ImportJSON decodes and imports a document.
func (t *ConfigTransfer) ImportJSON(ctx context.Context, data []byte) error {
	var doc domain.ConfigDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.NewValidationError("document", fmt.Sprintf("not valid JSON: %v", err))
	}
	return t.Import(ctx, doc)
}

// Restore imports a saved snapshot; an empty name restores the newest.
func (t *ConfigTransfer) Restore(ctx context.Context, name string) error {
	if t.snapshots == nil {
		return fmt.Errorf("no snapshot store configured")
	}
	data, err := t.snapshots.Load(name)
	if err != nil {
		return err
	}
	return t.ImportJSON(ctx, data)
}

func validateDocument(doc domain.ConfigDocument) error {
	if doc.Profiles != nil {
		for i, p := range *doc.Profiles {
			if p.ID == "" {
				return domain.NewValidationError(fmt.Sprintf("profiles[%d].id", i), "must not be empty")
			}
			if err := ValidateProfile(p); err != nil {
				return fmt.Errorf("profiles[%d]: %w", i, err)
			}
		}
	}
	if doc.Rules != nil {
		registry := policy.DefaultRegistry()
		for i, r := range *doc.Rules {
			if r.ID == "" || r.Pattern == "" {
				return domain.NewValidationError(fmt.Sprintf("rules[%d]", i), "id and pattern must not be empty")
			}
			typ := r.Type
			if typ == "" {
				typ = domain.MatchWildcard
			}
			if err := registry.Validate(typ, r.Pattern); err != nil {
				return fmt.Errorf("rules[%d]: %w", i, err)
			}
		}
	}
	if doc.FirewallRules != nil {
		for i, r := range *doc.FirewallRules {
			if r.ID == "" || r.Path == "" {
				return domain.NewValidationError(fmt.Sprintf("firewallRules[%d]", i), "id and path must not be empty")
			}
			if strings.TrimSpace(r.Name) == "" {
				return domain.NewValidationError(fmt.Sprintf("firewallRules[%d].name", i), "must not be empty")
			}
		}
	}
	return nil
}

func nonNil[T any](items []T) *[]T {
	if items == nil {
		items = []T{}
	}
	return &items
}
