package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const servicesOutput = `An asterisk (*) denotes that a network service is disabled.
Wi-Fi
*Bluetooth PAN
USB 10/100/1000 LAN
`

func workProfile() domain.Profile {
	return domain.Profile{ID: "work", Name: "Work", Type: domain.ProfileHTTP, Host: "10.1.1.1", Port: 8080}
}

func TestNewProxyAdapter_SelectsPlatform(t *testing.T) {
	r := newFakeRunner()
	assert.IsType(t, &NetworkSetupAdapter{}, NewProxyAdapter("darwin", r, 0, nil))
	assert.IsType(t, &NetshProxyAdapter{}, NewProxyAdapter("windows", r, 0, nil))
	assert.IsType(t, &UnsupportedProxyAdapter{}, NewProxyAdapter("linux", r, 0, nil))
}

func TestParseNetworkServices(t *testing.T) {
	assert.Equal(t, []string{"Wi-Fi", "USB 10/100/1000 LAN"}, parseNetworkServices(servicesOutput))
	assert.Empty(t, parseNetworkServices("An asterisk (*) denotes that a network service is disabled.\n"))
}

func TestNetworkSetup_ApplyHTTP(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok(servicesOutput)).
		on("networksetup -getwebproxy", ok("Enabled: Yes\nServer: 10.1.1.1\nPort: 8080\nAuthenticated Proxy Enabled: 0\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	p := workProfile()
	p.BypassList = []string{"*.local", "169.254/16"}
	result := a.Apply(context.Background(), p)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, []string{"Wi-Fi", "USB 10/100/1000 LAN"}, result.Targets)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.Matches)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, []string{
		"networksetup -listallnetworkservices",
		"networksetup -setwebproxy Wi-Fi 10.1.1.1 8080",
		"networksetup -setwebproxystate Wi-Fi on",
		"networksetup -setsecurewebproxy Wi-Fi 10.1.1.1 8080",
		"networksetup -setsecurewebproxystate Wi-Fi on",
		"networksetup -setproxybypassdomains Wi-Fi *.local 169.254/16",
		"networksetup -setwebproxy USB 10/100/1000 LAN 10.1.1.1 8080",
		"networksetup -setwebproxystate USB 10/100/1000 LAN on",
		"networksetup -setsecurewebproxy USB 10/100/1000 LAN 10.1.1.1 8080",
		"networksetup -setsecurewebproxystate USB 10/100/1000 LAN on",
		"networksetup -setproxybypassdomains USB 10/100/1000 LAN *.local 169.254/16",
		"networksetup -getwebproxy Wi-Fi",
	}, r.lines())
	for _, timeout := range r.timeouts {
		assert.Equal(t, time.Second, timeout)
	}
}

func TestNetworkSetup_ApplySOCKSWithCredentialsRedacted(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok("header\nWi-Fi\n")).
		on("networksetup -getsocksfirewallproxy", ok("Enabled: Yes\nServer: 127.0.0.1\nPort: 1080\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	p := domain.Profile{ID: "s", Type: domain.ProfileSOCKS5, Host: "127.0.0.1", Port: 1080, Username: "alice", Password: "hunter2"}
	result := a.Apply(context.Background(), p)

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "networksetup -setsocksfirewallproxy Wi-Fi 127.0.0.1 1080 on alice ********", result.Steps[0].Command)
	assert.Contains(t, r.lines()[1], "hunter2")
	for _, s := range result.Steps {
		assert.NotContains(t, s.Command, "hunter2")
	}
}

func TestNetworkSetup_EmptyDiscoveryFallsBack(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok("An asterisk (*) denotes that a network service is disabled.\n*Wi-Fi\n")).
		on("networksetup -getwebproxy", ok("Enabled: Yes\nServer: 10.1.1.1\nPort: 8080\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, []string{"Wi-Fi", "Ethernet"}, result.Targets)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "falling back")
}

func TestNetworkSetup_DiscoveryFailureIsFailed(t *testing.T) {
	r := newFakeRunner().on("networksetup -listallnetworkservices", exit(1, "boom"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.Error(t, result.Err)
	assert.Len(t, r.lines(), 1)
}

func TestNetworkSetup_PartialFailureContinues(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok(servicesOutput)).
		on("networksetup -setwebproxy USB", ok("** Error: The parameters were not valid.")).
		on("networksetup -getwebproxy", ok("Enabled: Yes\nServer: 10.1.1.1\nPort: 8080\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomePartiallyApplied, result.Outcome)
	assert.Len(t, result.Steps, 8)
	failures := result.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "USB 10/100/1000 LAN", failures[0].Target)
	assert.Contains(t, failures[0].Error, "** Error")
}

func TestNetworkSetup_AllStepsFailIsFailed(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok(servicesOutput)).
		on("networksetup -set", domain.CommandResult{ExitStatus: -1, TimedOut: true, Err: errors.New("timed out after 1s")})
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.Len(t, result.Steps, 8, "every planned step is attempted")
	assert.Nil(t, result.Verification)
}

func TestNetworkSetup_VerificationMismatchIsWarning(t *testing.T) {
	r := newFakeRunner().
		on("networksetup -listallnetworkservices", ok("header\nWi-Fi\n")).
		on("networksetup -getwebproxy", ok("garbled"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "verification mismatch")
}

func TestNetworkSetup_PACRequiresURL(t *testing.T) {
	r := newFakeRunner().on("networksetup -listallnetworkservices", ok("header\nWi-Fi\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), domain.Profile{Type: domain.ProfilePAC, Host: "h", Port: 80})
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.True(t, domain.IsValidation(result.Err))

	r2 := newFakeRunner().
		on("networksetup -listallnetworkservices", ok("header\nWi-Fi\n")).
		on("networksetup -getautoproxyurl", ok("URL: http://pac.corp/proxy.pac\nEnabled: Yes\n"))
	a2 := NewNetworkSetupAdapter(r2, time.Second, zap.NewNop())
	result = a2.Apply(context.Background(), domain.Profile{Type: domain.ProfilePAC, Host: "h", Port: 80, PACURL: "http://pac.corp/proxy.pac"})
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.Matches)
}

func TestNetworkSetup_Disable(t *testing.T) {
	r := newFakeRunner().on("networksetup -listallnetworkservices", ok("header\nWi-Fi\n"))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Disable(context.Background())

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, []string{
		"networksetup -listallnetworkservices",
		"networksetup -setwebproxystate Wi-Fi off",
		"networksetup -setsecurewebproxystate Wi-Fi off",
		"networksetup -setsocksfirewallproxystate Wi-Fi off",
		"networksetup -setautoproxystate Wi-Fi off",
	}, r.lines())
}

func TestNetworkSetup_DisableFallsBackWhenDiscoveryFails(t *testing.T) {
	r := newFakeRunner().on("networksetup -listallnetworkservices", exit(1, ""))
	a := NewNetworkSetupAdapter(r, time.Second, zap.NewNop())

	result := a.Disable(context.Background())

	assert.Equal(t, []string{"Wi-Fi", "Ethernet"}, result.Targets)
	assert.Len(t, result.Steps, 8)
	assert.NotEmpty(t, result.Warnings)
}

func TestNetsh_ApplyHTTP(t *testing.T) {
	r := newFakeRunner().
		on("netsh winhttp show proxy", ok("Current WinHTTP proxy settings:\n\n    Proxy Server(s) :  10.1.1.1:8080\n    Bypass List     :  *.local\n"))
	a := NewNetshProxyAdapter(r, time.Second, zap.NewNop())

	p := workProfile()
	p.BypassList = []string{"*.local", "<local>"}
	result := a.Apply(context.Background(), p)

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, []string{targetWinHTTP, targetWinINet}, result.Targets)
	assert.Equal(t, []string{
		"netsh winhttp set proxy proxy-server=10.1.1.1:8080 bypass-list=*.local;<local>",
		`reg add ` + internetSettingsKey + ` /v ProxyServer /t REG_SZ /d 10.1.1.1:8080 /f`,
		`reg add ` + internetSettingsKey + ` /v ProxyEnable /t REG_DWORD /d 1 /f`,
		`reg add ` + internetSettingsKey + ` /v ProxyOverride /t REG_SZ /d *.local;<local> /f`,
		"netsh winhttp show proxy",
	}, r.lines())
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.Matches)
}

func TestNetsh_SOCKSDegradesWithWarning(t *testing.T) {
	r := newFakeRunner().on("netsh winhttp show proxy", ok("Proxy Server(s) :  127.0.0.1:1080"))
	a := NewNetshProxyAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), domain.Profile{Type: domain.ProfileSOCKS5, Host: "127.0.0.1", Port: 1080})

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "applied as an HTTP proxy")
	assert.True(t, strings.HasPrefix(r.lines()[0], "netsh winhttp set proxy proxy-server=127.0.0.1:1080"))
}

func TestNetsh_PACUnsupported(t *testing.T) {
	r := newFakeRunner()
	a := NewNetshProxyAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), domain.Profile{Type: domain.ProfilePAC, Host: "h", Port: 80, PACURL: "http://x"})

	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	var unsupported *domain.UnsupportedPlatformError
	assert.ErrorAs(t, result.Err, &unsupported)
	assert.Empty(t, r.lines())
}

func TestNetsh_PermissionDenied(t *testing.T) {
	r := newFakeRunner().
		on("netsh", exit(1, "The requested operation requires elevation (Run as administrator).")).
		on("reg", exit(1, "ERROR: Access is denied."))
	a := NewNetshProxyAdapter(r, time.Second, zap.NewNop())

	result := a.Apply(context.Background(), workProfile())

	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	var perm *domain.PermissionError
	assert.ErrorAs(t, result.Err, &perm)
}

func TestNetsh_Disable(t *testing.T) {
	r := newFakeRunner()
	a := NewNetshProxyAdapter(r, time.Second, zap.NewNop())

	result := a.Disable(context.Background())

	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, []string{
		"netsh winhttp reset proxy",
		`reg add ` + internetSettingsKey + ` /v ProxyEnable /t REG_DWORD /d 0 /f`,
	}, r.lines())
}

func TestUnsupportedAdapter(t *testing.T) {
	a := NewUnsupportedProxyAdapter("plan9", zap.NewNop())

	result := a.Apply(context.Background(), workProfile())
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	var unsupported *domain.UnsupportedPlatformError
	assert.ErrorAs(t, result.Err, &unsupported)
	assert.Equal(t, "plan9", unsupported.Platform)

	_, err := a.ListManagedTargets(context.Background())
	assert.Error(t, err)
	assert.Equal(t, domain.OutcomeFailed, a.Disable(context.Background()).Outcome)
}
