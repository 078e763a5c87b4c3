// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// ProxySetting is one proxy category of a simulated network service.
type ProxySetting struct {
	Enabled bool
	Server  string
	Port    int
	URL     string
}

// ServiceState holds every proxy category of one network service.
type ServiceState struct {
	Web      ProxySetting
	Secure   ProxySetting
	Socks    ProxySetting
	Auto     ProxySetting
	Bypass   []string
	Disabled bool
}

// FakeNetworkSetup simulates the macOS networksetup tool as a
// domain.CommandRunner, keeping proxy state in memory.
type FakeNetworkSetup struct {
	mu       sync.Mutex
	order    []string
	services map[string]*ServiceState
	// failing makes every mutation on a service report an error.
	failing map[string]bool
	calls   []string
}

// NewFakeNetworkSetup creates a simulator with the given enabled services.
func NewFakeNetworkSetup(services ...string) *FakeNetworkSetup {
	f := &FakeNetworkSetup{
		services: make(map[string]*ServiceState),
		failing:  make(map[string]bool),
	}
	for _, s := range services {
		f.order = append(f.order, s)
		f.services[s] = &ServiceState{}
	}
	return f
}

// FailService makes mutations on service fail like a rejected argument.
func (f *FakeNetworkSetup) FailService(service string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[service] = true
}

// Service returns a copy of one service's state.
func (f *FakeNetworkSetup) Service(name string) ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.services[name]
	if s == nil {
		return ServiceState{}
	}
	return *s
}

// TurnOffWebProxy simulates the user or another tool disabling the proxy.
func (f *FakeNetworkSetup) TurnOffWebProxy(service string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.services[service]; s != nil {
		s.Web.Enabled = false
		s.Secure.Enabled = false
	}
}

// Calls returns every command line run so far.
func (f *FakeNetworkSetup) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Run implements domain.CommandRunner.
func (f *FakeNetworkSetup) Run(ctx context.Context, cmd domain.Command, timeout time.Duration) domain.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd.String())

	if cmd.Name != "networksetup" {
		return domain.CommandResult{ExitStatus: 127, Stderr: cmd.Name + ": command not found"}
	}
	if len(cmd.Args) == 0 {
		return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: no arguments"}
	}

	flag, args := cmd.Args[0], cmd.Args[1:]
	if flag == "-listallnetworkservices" {
		return domain.CommandResult{Stdout: f.listServices()}
	}
	if len(args) == 0 {
		return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: missing service"}
	}
	svc := f.services[args[0]]
	if svc == nil {
		return domain.CommandResult{Stdout: fmt.Sprintf("%s is not a recognized network service.", args[0])}
	}
	if strings.HasPrefix(flag, "-set") && f.failing[args[0]] {
		return domain.CommandResult{Stdout: "** Error: The parameters were not valid."}
	}

	switch flag {
	case "-setwebproxy":
		return setServer(&svc.Web, args)
	case "-setsecurewebproxy":
		return setServer(&svc.Secure, args)
	case "-setsocksfirewallproxy":
		return setServer(&svc.Socks, args)
	case "-setautoproxyurl":
		if len(args) < 2 {
			return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: missing url"}
		}
		svc.Auto.URL = args[1]
		return domain.CommandResult{}
	case "-setwebproxystate":
		return setState(&svc.Web, args)
	case "-setsecurewebproxystate":
		return setState(&svc.Secure, args)
	case "-setsocksfirewallproxystate":
		return setState(&svc.Socks, args)
	case "-setautoproxystate":
		return setState(&svc.Auto, args)
	case "-setproxybypassdomains":
		svc.Bypass = append([]string(nil), args[1:]...)
		return domain.CommandResult{}
	case "-getwebproxy":
		return getServer(svc.Web)
	case "-getsecurewebproxy":
		return getServer(svc.Secure)
	case "-getsocksfirewallproxy":
		return getServer(svc.Socks)
	case "-getautoproxyurl":
		return domain.CommandResult{Stdout: fmt.Sprintf("URL: %s\nEnabled: %s\n", svc.Auto.URL, yesNo(svc.Auto.Enabled))}
	}
	return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: unknown flag " + flag}
}

func (f *FakeNetworkSetup) listServices() string {
	var b strings.Builder
	b.WriteString("An asterisk (*) denotes that a network service is disabled.\n")
	for _, name := range f.order {
		if f.services[name].Disabled {
			b.WriteString("*")
		}
		b.WriteString(name)
		b.WriteString("\n")
	}
	return b.String()
}

func setServer(s *ProxySetting, args []string) domain.CommandResult {
	if len(args) < 3 {
		return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: missing host or port"}
	}
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return domain.CommandResult{Stdout: "** Error: invalid port " + args[2]}
	}
	s.Server = args[1]
	s.Port = port
	// networksetup turns the category on when a server is set.
	s.Enabled = true
	return domain.CommandResult{}
}

func setState(s *ProxySetting, args []string) domain.CommandResult {
	if len(args) < 2 {
		return domain.CommandResult{ExitStatus: 1, Stdout: "** Error: missing state"}
	}
	switch args[1] {
	case "on":
		s.Enabled = true
	case "off":
		s.Enabled = false
	default:
		return domain.CommandResult{Stdout: "** Error: invalid state " + args[1]}
	}
	return domain.CommandResult{}
}

func getServer(s ProxySetting) domain.CommandResult {
	return domain.CommandResult{Stdout: fmt.Sprintf(
		"Enabled: %s\nServer: %s\nPort: %d\nAuthenticated Proxy Enabled: 0\n",
		yesNo(s.Enabled), s.Server, s.Port)}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Ensure FakeNetworkSetup implements domain.CommandRunner.
var _ domain.CommandRunner = (*FakeNetworkSetup)(nil)
