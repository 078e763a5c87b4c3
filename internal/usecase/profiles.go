package usecase

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// ProfileRegistry manages proxy profiles and the active-profile pointer.
type ProfileRegistry struct {
	store  domain.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewProfileRegistry creates a profile registry over store.
func NewProfileRegistry(store domain.Store, logger *zap.Logger) *ProfileRegistry {
	return &ProfileRegistry{
		store:  store,
		logger: logger,
		now:    nowUTC,
		newID:  newID,
	}
}

var hostnamePattern = regexp.MustCompile(`(?i)^[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?(\.[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?)*\.?$`)

// validHost accepts an IP literal or a DNS hostname. The host reaches PAC
// scripts and networksetup/netsh arguments, so nothing else is allowed.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	return len(host) <= 253 && hostnamePattern.MatchString(host)
}

// ValidateProfile checks the fields every profile must carry.
func ValidateProfile(p domain.Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return domain.NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(p.Host) == "" {
		return domain.NewValidationError("host", "must not be empty")
	}
	if !validHost(p.Host) {
		return domain.NewValidationError("host", fmt.Sprintf("%q is not a hostname or IP address", p.Host))
	}
	if !p.Type.Valid() {
		return domain.NewValidationError("type", fmt.Sprintf("%q is not one of HTTP, HTTPS, SOCKS4, SOCKS5, PAC", p.Type))
	}
	if p.Port < 1 || p.Port > 65535 {
		return domain.NewValidationError("port", fmt.Sprintf("%d is outside 1..65535", p.Port))
	}
	if p.Type == domain.ProfilePAC {
		if p.PACURL == "" {
			return domain.NewValidationError("pacUrl", "required for PAC profiles")
		}
		if u, err := url.Parse(p.PACURL); err != nil || u.Scheme == "" || u.Host == "" {
			return domain.NewValidationError("pacUrl", fmt.Sprintf("%q is not an absolute URL", p.PACURL))
		}
	}
	if p.Password != "" && p.Username == "" {
		return domain.NewValidationError("username", "required when a password is set")
	}
	for _, entry := range p.BypassList {
		if strings.TrimSpace(entry) == "" {
			return domain.NewValidationError("bypassList", "entries must not be empty")
		}
	}
	return nil
}

// List returns every profile in insertion order.
func (r *ProfileRegistry) List() ([]domain.Profile, error) {
	return loadList[domain.Profile](r.store, domain.KeyProfiles)
}

// Get returns one profile.
func (r *ProfileRegistry) Get(id string) (domain.Profile, error) {
	profiles, err := r.List()
	if err != nil {
		return domain.Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Profile{}, &domain.NotFoundError{Kind: "profile", ID: id}
}

// Add validates p, assigns an id and creation time, and appends it.
func (r *ProfileRegistry) Add(p domain.Profile) (domain.Profile, error) {
	if err := ValidateProfile(p); err != nil {
		return domain.Profile{}, err
	}
	profiles, err := r.List()
	if err != nil {
		return domain.Profile{}, err
	}

	p.ID = r.newID()
	p.CreatedAt = r.now()
	p.UpdatedAt = p.CreatedAt
	profiles = append(profiles, p)
	if err := r.store.Set(domain.KeyProfiles, profiles); err != nil {
		return domain.Profile{}, fmt.Errorf("failed to save profiles: %w", err)
	}

	r.logger.Info("profile added", zap.String("profile", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Update replaces the profile with p.ID. The id and creation time are kept.
// When p is the active profile its snapshot is refreshed in the same write.
func (r *ProfileRegistry) Update(p domain.Profile) (domain.Profile, error) {
	profiles, err := r.List()
	if err != nil {
		return domain.Profile{}, err
	}
	index := -1
	for i := range profiles {
		if profiles[i].ID == p.ID {
			index = i
			break
		}
	}
	if index == -1 {
		return domain.Profile{}, &domain.NotFoundError{Kind: "profile", ID: p.ID}
	}
	if err := ValidateProfile(p); err != nil {
		return domain.Profile{}, err
	}

	p.CreatedAt = profiles[index].CreatedAt
	p.UpdatedAt = r.now()
	profiles[index] = p

	values := map[string]any{domain.KeyProfiles: profiles}
	state, err := loadState(r.store)
	if err != nil {
		return domain.Profile{}, err
	}
	if state.ActiveProfileID() == p.ID {
		values[domain.KeyActiveProfile] = p
	}
	if err := r.store.SetMany(values); err != nil {
		return domain.Profile{}, fmt.Errorf("failed to save profiles: %w", err)
	}

	r.logger.Info("profile updated", zap.String("profile", p.ID))
	return p, nil
}

// Delete removes a profile. Unknown ids succeed. Deleting the active profile
// clears the active pointer and the enabled flag in the same write.
func (r *ProfileRegistry) Delete(id string) error {
	profiles, err := r.List()
	if err != nil {
		return err
	}
	kept := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}

	values := map[string]any{domain.KeyProfiles: kept}
	state, err := loadState(r.store)
	if err != nil {
		return err
	}
	wasActive := state.ActiveProfileID() == id
	if wasActive {
		values[domain.KeyActiveProfile] = nil
		values[domain.KeyEnabled] = false
	}
	if err := r.store.SetMany(values); err != nil {
		return fmt.Errorf("failed to save profiles: %w", err)
	}

	if len(kept) != len(profiles) {
		r.logger.Info("profile deleted", zap.String("profile", id), zap.Bool("was_active", wasActive))
	}
	return nil
}

// SetActive stores a snapshot of profile id as the active profile and clears
// the enabled flag in the same write, since the new profile is not applied.
// It never touches the OS; use Orchestrator.SwitchProfile to move an enabled
// proxy to another profile.
func (r *ProfileRegistry) SetActive(id string) (domain.Profile, error) {
	p, err := r.Get(id)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := r.store.SetMany(map[string]any{
		domain.KeyActiveProfile: p,
		domain.KeyEnabled:       false,
	}); err != nil {
		return domain.Profile{}, fmt.Errorf("failed to save active profile: %w", err)
	}
	return p, nil
}

// GetActive returns the active profile snapshot, or nil.
func (r *ProfileRegistry) GetActive() (*domain.Profile, error) {
	state, err := loadState(r.store)
	if err != nil {
		return nil, err
	}
	return state.ActiveProfile, nil
}

// State returns the persisted system state.
func (r *ProfileRegistry) State() (domain.SystemState, error) {
	return loadState(r.store)
}
