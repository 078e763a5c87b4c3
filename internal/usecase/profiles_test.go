package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

func newTestRegistry() (*ProfileRegistry, *memStore) {
	store := newMemStore()
	return NewProfileRegistry(store, zap.NewNop()), store
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *domain.Profile)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(p *domain.Profile) {}},
		{name: "port 1", mutate: func(p *domain.Profile) { p.Port = 1 }},
		{name: "port 65535", mutate: func(p *domain.Profile) { p.Port = 65535 }},
		{name: "port 0", mutate: func(p *domain.Profile) { p.Port = 0 }, field: "port", wantErr: true},
		{name: "port 65536", mutate: func(p *domain.Profile) { p.Port = 65536 }, field: "port", wantErr: true},
		{name: "empty name", mutate: func(p *domain.Profile) { p.Name = " " }, field: "name", wantErr: true},
		{name: "empty host", mutate: func(p *domain.Profile) { p.Host = "" }, field: "host", wantErr: true},
		{name: "hostname", mutate: func(p *domain.Profile) { p.Host = "proxy-1.corp.example.com" }},
		{name: "ipv6 literal", mutate: func(p *domain.Profile) { p.Host = "2001:db8::1" }},
		{name: "host with quote", mutate: func(p *domain.Profile) { p.Host = `evil"; } return "PROXY 6.6.6.6:1"; { "` }, field: "host", wantErr: true},
		{name: "host with space", mutate: func(p *domain.Profile) { p.Host = "proxy corp" }, field: "host", wantErr: true},
		{name: "host with port", mutate: func(p *domain.Profile) { p.Host = "proxy:8080" }, field: "host", wantErr: true},
		{name: "host with scheme", mutate: func(p *domain.Profile) { p.Host = "http://proxy" }, field: "host", wantErr: true},
		{name: "unknown type", mutate: func(p *domain.Profile) { p.Type = "FTP" }, field: "type", wantErr: true},
		{name: "PAC without url", mutate: func(p *domain.Profile) { p.Type = domain.ProfilePAC }, field: "pacUrl", wantErr: true},
		{name: "PAC relative url", mutate: func(p *domain.Profile) {
			p.Type = domain.ProfilePAC
			p.PACURL = "proxy.pac"
		}, field: "pacUrl", wantErr: true},
		{name: "PAC with url", mutate: func(p *domain.Profile) {
			p.Type = domain.ProfilePAC
			p.PACURL = "http://corp/proxy.pac"
		}},
		{name: "password without username", mutate: func(p *domain.Profile) { p.Password = "secret" }, field: "username", wantErr: true},
		{name: "empty bypass entry", mutate: func(p *domain.Profile) { p.BypassList = []string{"localhost", ""} }, field: "bypassList", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := httpProfile("work", 8080)
			tt.mutate(&p)
			err := ValidateProfile(p)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestProfileRegistry_AddAssignsIDAndTimestamps(t *testing.T) {
	reg, _ := newTestRegistry()

	a, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)
	b, err := reg.Add(httpProfile("b", 8081))
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())

	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
}

func TestProfileRegistry_AddRejectsInvalidWithoutWriting(t *testing.T) {
	reg, store := newTestRegistry()

	_, err := reg.Add(httpProfile("bad", 0))
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 0, store.writes)
}

func TestProfileRegistry_UpdateKeepsCreatedAtAndRefreshesActive(t *testing.T) {
	reg, _ := newTestRegistry()
	p, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)
	_, err = reg.SetActive(p.ID)
	require.NoError(t, err)

	p.Port = 9090
	updated, err := reg.Update(p)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)

	active, err := reg.GetActive()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 9090, active.Port)
}

func TestProfileRegistry_UpdateUnknown(t *testing.T) {
	reg, _ := newTestRegistry()
	p := httpProfile("ghost", 8080)
	p.ID = "missing"

	_, err := reg.Update(p)
	assert.True(t, domain.IsNotFound(err))
}

func TestProfileRegistry_DeleteActiveClearsState(t *testing.T) {
	reg, store := newTestRegistry()
	p, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)
	_, err = reg.SetActive(p.ID)
	require.NoError(t, err)
	require.NoError(t, store.Set(domain.KeyEnabled, true))

	require.NoError(t, reg.Delete(p.ID))

	state, err := reg.State()
	require.NoError(t, err)
	assert.Nil(t, state.ActiveProfile)
	assert.False(t, state.Enabled)
	assert.Contains(t, store.lastMany, domain.KeyEnabled)
	assert.Contains(t, store.lastMany, domain.KeyActiveProfile)
}

func TestProfileRegistry_DeleteUnknownSucceeds(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)

	assert.NoError(t, reg.Delete("nope"))
	list, _ := reg.List()
	assert.Len(t, list, 1)
}

func TestProfileRegistry_SetActiveUnknown(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.SetActive("nope")
	assert.True(t, domain.IsNotFound(err))
}

func TestProfileRegistry_SetActiveDoesNotEnable(t *testing.T) {
	reg, _ := newTestRegistry()
	p, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)

	_, err = reg.SetActive(p.ID)
	require.NoError(t, err)

	state, err := reg.State()
	require.NoError(t, err)
	assert.Equal(t, p.ID, state.ActiveProfileID())
	assert.False(t, state.Enabled)
}

func TestProfileRegistry_SetActiveClearsEnabled(t *testing.T) {
	reg, store := newTestRegistry()
	a, err := reg.Add(httpProfile("a", 8080))
	require.NoError(t, err)
	b, err := reg.Add(httpProfile("b", 9090))
	require.NoError(t, err)
	_, err = reg.SetActive(a.ID)
	require.NoError(t, err)
	require.NoError(t, store.Set(domain.KeyEnabled, true))
	writesBefore := store.writes

	_, err = reg.SetActive(b.ID)
	require.NoError(t, err)

	state, err := reg.State()
	require.NoError(t, err)
	assert.Equal(t, b.ID, state.ActiveProfileID())
	assert.False(t, state.Enabled, "b was never applied")
	assert.Equal(t, writesBefore+1, store.writes)
	assert.Contains(t, store.lastMany, domain.KeyEnabled)
}

func TestLoadState_EnabledWithoutProfileIsDisabled(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(domain.KeyEnabled, true))

	state, err := loadState(store)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
}
