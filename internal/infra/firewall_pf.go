package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const (
	pfctlBin     = "pfctl"
	pfAnchorRoot = "zayproxy"
)

// pf anchor rule template. pf cannot match on the originating executable, so
// the anchor blocks all outbound traffic while it is loaded; it is meant to be
// loaded and flushed around the blocked application's use.
const pfAnchorTemplate = `# zayproxy firewall rule: {{.Name}}
# target: {{.Executable}}
# load:   {{.Instruction}}
# unload: sudo pfctl -a {{.Anchor}} -F all
{{.Action}} out {{if .Log}}log {{end}}quick proto { tcp, udp } from any to any
`

var pfAnchorTmpl = template.Must(template.New("pf").Parse(pfAnchorTemplate))

type pfAnchorConfig struct {
	Name        string
	Executable  string
	Anchor      string
	Instruction string
	Action      string
	Log         bool
}

// PFAnchorBackend implements domain.FirewallBackend on macOS. Enforcing a pf
// rule needs root, so Apply writes an anchor file and returns the pfctl
// command the user must run.
type PFAnchorBackend struct {
	anchorDir string
	runner    domain.CommandRunner
	fs        domain.FileSystemManager
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPFAnchorBackend creates the macOS firewall backend writing into anchorDir.
func NewPFAnchorBackend(anchorDir string, runner domain.CommandRunner, fs domain.FileSystemManager, timeout time.Duration, logger *zap.Logger) *PFAnchorBackend {
	return &PFAnchorBackend{
		anchorDir: anchorDir,
		runner:    runner,
		fs:        fs,
		timeout:   timeout,
		logger:    logger,
	}
}

func (b *PFAnchorBackend) Platform() string {
	return "darwin"
}

// AnchorName returns the pf anchor name of a rule.
func AnchorName(rule domain.FirewallRule) string {
	return "zayproxy_" + strings.ReplaceAll(rule.ID, "-", "_")
}

func (b *PFAnchorBackend) anchorPath(rule domain.FirewallRule) string {
	return filepath.Join(b.anchorDir, AnchorName(rule)+".pf")
}

func qualifiedAnchor(rule domain.FirewallRule) string {
	return pfAnchorRoot + "/" + AnchorName(rule)
}

// ResolveExecutable maps an .app bundle to its main binary under
// Contents/MacOS. Other paths are returned unchanged.
func ResolveExecutable(fs domain.FileSystemManager, path string) string {
	path = fs.ExpandHome(path)
	if !strings.HasSuffix(strings.TrimSuffix(path, "/"), ".app") {
		return path
	}
	bundle := strings.TrimSuffix(path, "/")
	name := strings.TrimSuffix(filepath.Base(bundle), ".app")
	candidates := []string{
		filepath.Join(bundle, "Contents", "MacOS", name),
		filepath.Join(bundle, "Contents", "MacOS", strings.ReplaceAll(name, " ", "")),
	}
	for _, c := range candidates {
		if fs.Exists(c) {
			return c
		}
	}
	return path
}

// Apply writes the anchor file and reports the manual pfctl step.
func (b *PFAnchorBackend) Apply(ctx context.Context, rule domain.FirewallRule) (domain.FirewallRule, error) {
	path := b.anchorPath(rule)
	instruction := fmt.Sprintf("sudo pfctl -a %s -f %s", qualifiedAnchor(rule), path)

	action := "block"
	if !rule.Blocked {
		action = "pass"
	}
	cfg := pfAnchorConfig{
		Name:        rule.Name,
		Executable:  ResolveExecutable(b.fs, rule.Path),
		Anchor:      qualifiedAnchor(rule),
		Instruction: instruction,
		Action:      action,
		Log:         rule.LogAttempts,
	}

	var buf bytes.Buffer
	if err := pfAnchorTmpl.Execute(&buf, cfg); err != nil {
		return rule, fmt.Errorf("failed to execute anchor template: %w", err)
	}
	if err := os.MkdirAll(b.anchorDir, 0700); err != nil {
		return rule, fmt.Errorf("failed to create anchor directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return rule, fmt.Errorf("failed to write anchor file: %w", err)
	}

	rule.AnchorFile = path
	b.logger.Info("firewall anchor written",
		zap.String("rule", rule.ID),
		zap.String("anchor", cfg.Anchor),
		zap.String("file", path))

	return rule, &domain.RequiresManualActionError{Artifact: path, Instruction: instruction}
}

// Remove deletes the anchor file and flushes the anchor if pf lets us.
func (b *PFAnchorBackend) Remove(ctx context.Context, rule domain.FirewallRule) error {
	var errs []string
	for _, path := range uniquePaths(rule.AnchorFile, b.anchorPath(rule)) {
		if err := b.fs.Delete(path); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Best effort: without root this fails and the anchor stays loaded until reboot.
	res := b.runner.Run(ctx, domain.Command{
		Name: pfctlBin,
		Args: []string{"-a", qualifiedAnchor(rule), "-F", "all"},
	}, b.timeout)
	if !res.Succeeded() {
		b.logger.Debug("pf anchor flush skipped",
			zap.String("anchor", qualifiedAnchor(rule)),
			zap.String("error", describeFailure(res)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to remove anchor file: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Status is enforced when pf lists rules under the anchor, pending when only
// the anchor file exists.
func (b *PFAnchorBackend) Status(ctx context.Context, rule domain.FirewallRule) domain.FirewallStatusKind {
	path := rule.AnchorFile
	if path == "" {
		path = b.anchorPath(rule)
	}
	if !b.fs.Exists(path) {
		return domain.FirewallNotApplied
	}

	res := b.runner.Run(ctx, domain.Command{
		Name: pfctlBin,
		Args: []string{"-a", qualifiedAnchor(rule), "-s", "rules"},
	}, b.timeout)
	if res.Succeeded() && strings.TrimSpace(res.Stdout) != "" {
		return domain.FirewallEnforced
	}
	return domain.FirewallPendingManual
}

func uniquePaths(paths ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Ensure PFAnchorBackend implements domain.FirewallBackend.
var _ domain.FirewallBackend = (*PFAnchorBackend)(nil)
