package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// Orchestrator is the enable/disable/switch state machine. The active
// profile and enabled flag are always written together, and observers hear
// about a transition only after it is persisted.
type Orchestrator struct {
	store    domain.Store
	profiles *ProfileRegistry
	adapter  domain.ProxyAdapter
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	observers []domain.StateObserver
}

// NewOrchestrator creates the reconciliation orchestrator.
func NewOrchestrator(
	store domain.Store,
	profiles *ProfileRegistry,
	adapter domain.ProxyAdapter,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		profiles: profiles,
		adapter:  adapter,
		logger:   logger,
		now:      nowUTC,
	}
}

// Subscribe registers an observer for state changes.
func (o *Orchestrator) Subscribe(obs domain.StateObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) notify(state domain.SystemState, reason string) {
	o.mu.RLock()
	observers := append([]domain.StateObserver(nil), o.observers...)
	o.mu.RUnlock()

	change := domain.StateChange{
		Enabled:       state.Enabled,
		ActiveProfile: state.ActiveProfile,
		Reason:        reason,
		At:            o.now(),
	}
	for _, obs := range observers {
		obs.OnStateChange(change)
	}
}

// persist writes the state as one store write and then notifies.
func (o *Orchestrator) persist(state domain.SystemState, reason string) error {
	if state.ActiveProfile == nil {
		state.Enabled = false
	}
	var active any
	if state.ActiveProfile != nil {
		active = *state.ActiveProfile
	}
	if err := o.store.SetMany(map[string]any{
		domain.KeyActiveProfile: active,
		domain.KeyEnabled:       state.Enabled,
	}); err != nil {
		return fmt.Errorf("failed to save proxy state: %w", err)
	}
	o.notify(state, reason)
	return nil
}

// State returns the persisted system state.
func (o *Orchestrator) State() (domain.SystemState, error) {
	return loadState(o.store)
}

// Enable applies the active profile. Applied and PartiallyApplied both leave
// the proxy enabled; Failed leaves it disabled and returns *ApplyFailedError.
func (o *Orchestrator) Enable(ctx context.Context) (*domain.ApplyResult, error) {
	state, err := loadState(o.store)
	if err != nil {
		return nil, err
	}
	if state.ActiveProfile == nil {
		return nil, domain.ErrNoActiveProfile
	}
	return o.enable(ctx, *state.ActiveProfile, "enable")
}

func (o *Orchestrator) enable(ctx context.Context, profile domain.Profile, reason string) (*domain.ApplyResult, error) {
	result := o.adapter.Apply(ctx, profile)

	if result.Outcome == domain.OutcomeFailed {
		o.logger.Error("failed to enable proxy",
			zap.String("profile", profile.ID),
			zap.Int("failed_steps", len(result.Failures())),
			zap.Error(result.Err))
		if err := o.persist(domain.SystemState{ActiveProfile: &profile, Enabled: false}, reason); err != nil {
			return result, err
		}
		return result, &domain.ApplyFailedError{Result: result}
	}

	if result.Outcome == domain.OutcomePartiallyApplied {
		o.logger.Warn("proxy partially applied",
			zap.String("profile", profile.ID),
			zap.Int("failed_steps", len(result.Failures())))
	}
	if err := o.persist(domain.SystemState{ActiveProfile: &profile, Enabled: true}, reason); err != nil {
		return result, err
	}
	o.logger.Info("proxy enabled",
		zap.String("profile", profile.ID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// Disable turns the system proxy off. The enabled flag is cleared whatever
// the adapter reports.
func (o *Orchestrator) Disable(ctx context.Context) (*domain.ApplyResult, error) {
	state, err := loadState(o.store)
	if err != nil {
		return nil, err
	}
	return o.disable(ctx, state.ActiveProfile, "disable")
}

func (o *Orchestrator) disable(ctx context.Context, active *domain.Profile, reason string) (*domain.ApplyResult, error) {
	result := o.adapter.Disable(ctx)
	if result.Outcome != domain.OutcomeApplied {
		o.logger.Warn("proxy disable incomplete",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("failed_steps", len(result.Failures())),
			zap.Error(result.Err))
	}
	if err := o.persist(domain.SystemState{ActiveProfile: active, Enabled: false}, reason); err != nil {
		return result, err
	}
	o.logger.Info("proxy disabled")
	return result, nil
}

// SwitchProfile makes id the active profile. When disabled only the pointer
// moves. When enabled the sequence is disable, set active, enable; if the
// final enable fails the new profile stays active and the proxy disabled.
func (o *Orchestrator) SwitchProfile(ctx context.Context, id string) (*domain.ApplyResult, error) {
	next, err := o.profiles.Get(id)
	if err != nil {
		return nil, err
	}
	state, err := loadState(o.store)
	if err != nil {
		return nil, err
	}

	if !state.Enabled {
		if err := o.persist(domain.SystemState{ActiveProfile: &next, Enabled: false}, "switch"); err != nil {
			return nil, err
		}
		o.logger.Info("active profile switched", zap.String("profile", id))
		return nil, nil
	}

	if _, err := o.disable(ctx, state.ActiveProfile, "switch"); err != nil {
		return nil, err
	}
	if err := o.persist(domain.SystemState{ActiveProfile: &next, Enabled: false}, "switch"); err != nil {
		return nil, err
	}
	return o.enable(ctx, next, "switch")
}

// Verify re-queries the OS for the active profile. It returns nil when the
// proxy is disabled.
func (o *Orchestrator) Verify(ctx context.Context) (*domain.Verification, error) {
	state, err := loadState(o.store)
	if err != nil {
		return nil, err
	}
	if !state.Enabled {
		return nil, nil
	}
	return o.adapter.Verify(ctx, *state.ActiveProfile)
}

// Reconcile re-applies the active profile when the stored state says the
// proxy is enabled and the OS disagrees. It is run at login and by the
// drift watcher. A nil result means nothing needed doing.
func (o *Orchestrator) Reconcile(ctx context.Context) (*domain.ApplyResult, error) {
	state, err := loadState(o.store)
	if err != nil {
		return nil, err
	}
	if !state.Enabled {
		return nil, nil
	}

	v, err := o.adapter.Verify(ctx, *state.ActiveProfile)
	if err == nil && v != nil && v.Matches {
		return nil, nil
	}
	if err != nil {
		o.logger.Warn("verification failed, re-applying", zap.Error(err))
	} else {
		o.logger.Info("proxy drift detected, re-applying",
			zap.String("profile", state.ActiveProfileID()),
			zap.String("detail", detailOf(v)))
	}
	return o.enable(ctx, *state.ActiveProfile, "reconcile")
}

// DeleteProfile removes a profile. Deleting the active profile while enabled
// turns the system proxy off first.
func (o *Orchestrator) DeleteProfile(ctx context.Context, id string) error {
	state, err := loadState(o.store)
	if err != nil {
		return err
	}
	wasActive := state.ActiveProfileID() == id
	if wasActive && state.Enabled {
		result := o.adapter.Disable(ctx)
		if result.Outcome != domain.OutcomeApplied {
			o.logger.Warn("proxy disable incomplete while deleting active profile",
				zap.String("profile", id),
				zap.String("outcome", string(result.Outcome)))
		}
	}
	if err := o.profiles.Delete(id); err != nil {
		return err
	}
	if wasActive {
		o.notify(domain.SystemState{}, "profile deleted")
	}
	return nil
}

// UpdateProfile updates a profile and, when it is the applied profile,
// re-applies it so the OS matches the new settings.
func (o *Orchestrator) UpdateProfile(ctx context.Context, p domain.Profile) (domain.Profile, *domain.ApplyResult, error) {
	updated, err := o.profiles.Update(p)
	if err != nil {
		return domain.Profile{}, nil, err
	}
	state, err := loadState(o.store)
	if err != nil {
		return updated, nil, err
	}
	if !state.Enabled || state.ActiveProfileID() != updated.ID {
		return updated, nil, nil
	}
	result, err := o.enable(ctx, updated, "profile updated")
	return updated, result, err
}

func detailOf(v *domain.Verification) string {
	if v == nil {
		return ""
	}
	return v.Detail
}

// Ensure Orchestrator implements domain.Reconciler.
var _ domain.Reconciler = (*Orchestrator)(nil)
