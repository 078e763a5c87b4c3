// Package usecase contains application business logic: profile, rule and
// firewall-rule management, and the enable/disable/switch reconciliation.
//
// Components are not internally locked. Mutating calls must be serialized by
// the caller (the CLI runs one per process, the API holds a single mutex).
package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// loadList reads a collection key, treating an absent key as empty.
func loadList[T any](store domain.Store, key string) ([]T, error) {
	var items []T
	if _, err := store.Get(key, &items); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return items, nil
}

// loadState reads the active profile snapshot and enabled flag together.
func loadState(store domain.Store) (domain.SystemState, error) {
	var state domain.SystemState
	if _, err := store.Get(domain.KeyActiveProfile, &state.ActiveProfile); err != nil {
		return state, fmt.Errorf("failed to load active profile: %w", err)
	}
	if _, err := store.Get(domain.KeyEnabled, &state.Enabled); err != nil {
		return state, fmt.Errorf("failed to load enabled flag: %w", err)
	}
	// A stored enabled flag without a profile is never served.
	if state.ActiveProfile == nil {
		state.Enabled = false
	}
	return state, nil
}

func newID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
