package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	Theme              *string `json:"theme,omitempty"`
	AutoStart          *bool   `json:"autoStart,omitempty"`
	PasswordProtection *bool   `json:"passwordProtection,omitempty"`
	AutoProxy          *bool   `json:"autoProxy,omitempty"`
	MinimizeToTray     *bool   `json:"minimizeToTray,omitempty"`
}

// SettingsService reads and updates the settings record.
type SettingsService struct {
	store  domain.Store
	logger *zap.Logger
}

func NewSettingsService(store domain.Store, logger *zap.Logger) *SettingsService {
	return &SettingsService{store: store, logger: logger}
}

// Get returns the stored settings, or the defaults before the first update.
func (s *SettingsService) Get() (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if _, err := s.store.Get(domain.KeySettings, &settings); err != nil {
		return settings, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// Update merges patch into the stored settings.
func (s *SettingsService) Update(patch SettingsPatch) (domain.Settings, error) {
	settings, err := s.Get()
	if err != nil {
		return settings, err
	}

	if patch.Theme != nil {
		switch *patch.Theme {
		case "light", "dark", "system":
			settings.Theme = *patch.Theme
		default:
			return settings, domain.NewValidationError("theme", fmt.Sprintf("%q is not one of light, dark, system", *patch.Theme))
		}
	}
	if patch.AutoStart != nil {
		settings.AutoStart = *patch.AutoStart
	}
	if patch.PasswordProtection != nil {
		settings.PasswordProtection = *patch.PasswordProtection
	}
	if patch.AutoProxy != nil {
		settings.AutoProxy = *patch.AutoProxy
	}
	if patch.MinimizeToTray != nil {
		settings.MinimizeToTray = *patch.MinimizeToTray
	}

	if err := s.store.Set(domain.KeySettings, settings); err != nil {
		return settings, fmt.Errorf("failed to save settings: %w", err)
	}
	s.logger.Info("settings updated",
		zap.String("theme", settings.Theme),
		zap.Bool("auto_start", settings.AutoStart),
		zap.Bool("auto_proxy", settings.AutoProxy))
	return settings, nil
}
