package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// FirewallController manages per-application firewall rules. CRUD and the
// enabled flags describe the desired state; only ApplyAll, RemoveAll and
// Delete touch the OS.
type FirewallController struct {
	store   domain.Store
	backend domain.FirewallBackend
	fs      domain.FileSystemManager
	pm      domain.ProcessManager
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	// resolve maps a rule path to the executable to look for in the process table.
	resolve func(path string) string
}

// NewFirewallController creates a firewall controller.
func NewFirewallController(
	store domain.Store,
	backend domain.FirewallBackend,
	fs domain.FileSystemManager,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *FirewallController {
	return &FirewallController{
		store:   store,
		backend: backend,
		fs:      fs,
		pm:      pm,
		logger:  logger,
		now:     nowUTC,
		newID:   newID,
		resolve: fs.ExpandHome,
	}
}

// WithExecutableResolver sets how rule paths map to running executables
// (for example .app bundles to their main binary).
func (c *FirewallController) WithExecutableResolver(resolve func(string) string) *FirewallController {
	c.resolve = resolve
	return c
}

func (c *FirewallController) validate(r domain.FirewallRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return domain.NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(r.Path) == "" {
		return domain.NewValidationError("path", "must not be empty")
	}
	if !c.fs.Exists(r.Path) {
		return domain.NewValidationError("path", fmt.Sprintf("%s does not exist", r.Path))
	}
	return nil
}

func (c *FirewallController) List() ([]domain.FirewallRule, error) {
	return loadList[domain.FirewallRule](c.store, domain.KeyFirewallRules)
}

func (c *FirewallController) save(rules []domain.FirewallRule) error {
	if err := c.store.Set(domain.KeyFirewallRules, rules); err != nil {
		return fmt.Errorf("failed to save firewall rules: %w", err)
	}
	return nil
}

func (c *FirewallController) find(rules []domain.FirewallRule, id string) (int, error) {
	for i := range rules {
		if rules[i].ID == id {
			return i, nil
		}
	}
	return -1, &domain.NotFoundError{Kind: "firewall rule", ID: id}
}

func (c *FirewallController) Get(id string) (domain.FirewallRule, error) {
	rules, err := c.List()
	if err != nil {
		return domain.FirewallRule{}, err
	}
	i, err := c.find(rules, id)
	if err != nil {
		return domain.FirewallRule{}, err
	}
	return rules[i], nil
}

// Add validates and stores a rule. It does not apply it.
func (c *FirewallController) Add(r domain.FirewallRule) (domain.FirewallRule, error) {
	if err := c.validate(r); err != nil {
		return domain.FirewallRule{}, err
	}
	rules, err := c.List()
	if err != nil {
		return domain.FirewallRule{}, err
	}

	r.ID = c.newID()
	r.CreatedAt = c.now()
	r.UpdatedAt = r.CreatedAt
	r.AnchorFile = ""
	r.OSRuleName = ""
	rules = append(rules, r)
	if err := c.save(rules); err != nil {
		return domain.FirewallRule{}, err
	}

	c.logger.Info("firewall rule added", zap.String("rule", r.ID), zap.String("name", r.Name))
	return r, nil
}

// Update replaces a rule, keeping its creation time and committed OS
// artifacts. A rename takes effect in the OS on the next ApplyAll.
func (c *FirewallController) Update(r domain.FirewallRule) (domain.FirewallRule, error) {
	rules, err := c.List()
	if err != nil {
		return domain.FirewallRule{}, err
	}
	i, err := c.find(rules, r.ID)
	if err != nil {
		return domain.FirewallRule{}, err
	}
	if err := c.validate(r); err != nil {
		return domain.FirewallRule{}, err
	}

	r.CreatedAt = rules[i].CreatedAt
	if r.AnchorFile == "" {
		r.AnchorFile = rules[i].AnchorFile
	}
	if r.OSRuleName == "" {
		r.OSRuleName = rules[i].OSRuleName
	}
	r.UpdatedAt = c.now()
	rules[i] = r
	if err := c.save(rules); err != nil {
		return domain.FirewallRule{}, err
	}

	c.logger.Info("firewall rule updated", zap.String("rule", r.ID))
	return r, nil
}

// Delete removes the OS artifact best-effort, then the record. Unknown ids succeed.
func (c *FirewallController) Delete(ctx context.Context, id string) error {
	rules, err := c.List()
	if err != nil {
		return err
	}
	i, err := c.find(rules, id)
	if err != nil {
		return nil
	}

	if err := c.backend.Remove(ctx, rules[i]); err != nil {
		c.logger.Warn("failed to remove firewall rule from OS",
			zap.String("rule", id),
			zap.Error(err))
	}

	rules = append(rules[:i], rules[i+1:]...)
	if err := c.save(rules); err != nil {
		return err
	}
	c.logger.Info("firewall rule deleted", zap.String("rule", id))
	return nil
}

// Toggle flips the stored enabled flag of one rule.
func (c *FirewallController) Toggle(id string) (domain.FirewallRule, error) {
	rules, err := c.List()
	if err != nil {
		return domain.FirewallRule{}, err
	}
	i, err := c.find(rules, id)
	if err != nil {
		return domain.FirewallRule{}, err
	}
	rules[i].Enabled = !rules[i].Enabled
	rules[i].UpdatedAt = c.now()
	if err := c.save(rules); err != nil {
		return domain.FirewallRule{}, err
	}
	c.logger.Info("firewall rule toggled",
		zap.String("rule", id),
		zap.Bool("enabled", rules[i].Enabled))
	return rules[i], nil
}

// EnableAll marks every rule enabled.
func (c *FirewallController) EnableAll() (int, error) {
	return c.setAll(true)
}

// DisableAll marks every rule disabled.
func (c *FirewallController) DisableAll() (int, error) {
	return c.setAll(false)
}

func (c *FirewallController) setAll(enabled bool) (int, error) {
	rules, err := c.List()
	if err != nil {
		return 0, err
	}
	changed := 0
	now := c.now()
	for i := range rules {
		if rules[i].Enabled != enabled {
			rules[i].Enabled = enabled
			rules[i].UpdatedAt = now
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := c.save(rules); err != nil {
		return 0, err
	}
	c.logger.Info("firewall rules updated", zap.Bool("enabled", enabled), zap.Int("changed", changed))
	return changed, nil
}

// ApplyAll applies every enabled rule independently. One rule failing does
// not stop the others. Artifacts recorded by the backend are persisted.
func (c *FirewallController) ApplyAll(ctx context.Context) (*domain.FirewallApplyResult, error) {
	rules, err := c.List()
	if err != nil {
		return nil, err
	}

	result := &domain.FirewallApplyResult{}
	dirty := false
	for i := range rules {
		if !rules[i].Enabled {
			continue
		}
		result.TotalCount++
		rr, updated := c.applyOne(ctx, rules[i])
		if updated.AnchorFile != rules[i].AnchorFile || updated.OSRuleName != rules[i].OSRuleName {
			rules[i].AnchorFile = updated.AnchorFile
			rules[i].OSRuleName = updated.OSRuleName
			dirty = true
		}
		if rr.Success {
			result.AppliedCount++
		}
		if rr.Status == string(domain.FirewallPendingManual) {
			result.ManualCount++
		}
		result.Results = append(result.Results, rr)
	}

	if dirty {
		if err := c.save(rules); err != nil {
			return result, err
		}
	}

	c.logger.Info("firewall rules applied",
		zap.Int("applied", result.AppliedCount),
		zap.Int("total", result.TotalCount),
		zap.Int("manual", result.ManualCount))
	return result, nil
}

func (c *FirewallController) applyOne(ctx context.Context, rule domain.FirewallRule) (domain.FirewallRuleResult, domain.FirewallRule) {
	rr := domain.FirewallRuleResult{RuleID: rule.ID, Name: rule.Name}

	// Targets can disappear after validation.
	if !c.fs.Exists(rule.Path) {
		rr.Status = string(domain.FirewallNotApplied)
		rr.Error = fmt.Sprintf("executable not found: %s", rule.Path)
		c.logger.Warn("firewall rule target missing", zap.String("rule", rule.ID), zap.String("path", rule.Path))
		return rr, rule
	}

	updated, err := c.backend.Apply(ctx, rule)
	rr.Artifact = updated.AnchorFile

	var manual *domain.RequiresManualActionError
	var perm *domain.PermissionError
	switch {
	case err == nil:
		rr.Success = true
		rr.Status = string(domain.FirewallEnforced)
	case errors.As(err, &manual):
		rr.Success = true
		rr.Status = string(domain.FirewallPendingManual)
		rr.Instruction = manual.Instruction
		rr.Artifact = manual.Artifact
	case errors.As(err, &perm):
		rr.Status = string(domain.FirewallNotApplied)
		rr.Error = err.Error()
		rr.NeedsElevation = true
	default:
		rr.Status = string(domain.FirewallNotApplied)
		rr.Error = err.Error()
	}
	if !rr.Success {
		c.logger.Warn("failed to apply firewall rule",
			zap.String("rule", rule.ID),
			zap.Error(err))
	}
	return rr, updated
}

// RemoveAll removes the OS artifacts of every rule. Records are kept.
func (c *FirewallController) RemoveAll(ctx context.Context) (*domain.FirewallApplyResult, error) {
	rules, err := c.List()
	if err != nil {
		return nil, err
	}

	result := &domain.FirewallApplyResult{TotalCount: len(rules)}
	dirty := false
	for i := range rules {
		rr := domain.FirewallRuleResult{RuleID: rules[i].ID, Name: rules[i].Name, Status: string(domain.FirewallNotApplied)}
		if err := c.backend.Remove(ctx, rules[i]); err != nil {
			rr.Error = err.Error()
			var perm *domain.PermissionError
			rr.NeedsElevation = errors.As(err, &perm)
		} else {
			rr.Success = true
			result.AppliedCount++
			if rules[i].AnchorFile != "" || rules[i].OSRuleName != "" {
				rules[i].AnchorFile = ""
				rules[i].OSRuleName = ""
				dirty = true
			}
		}
		result.Results = append(result.Results, rr)
	}

	if dirty {
		if err := c.save(rules); err != nil {
			return result, err
		}
	}
	c.logger.Info("firewall rules removed",
		zap.Int("removed", result.AppliedCount),
		zap.Int("total", result.TotalCount))
	return result, nil
}

// Status reports the enforcement state of every rule and whether its target
// is currently running.
func (c *FirewallController) Status(ctx context.Context) (*domain.FirewallStatus, error) {
	rules, err := c.List()
	if err != nil {
		return nil, err
	}

	status := &domain.FirewallStatus{
		Platform: c.backend.Platform(),
		Total:    len(rules),
		Rules:    make([]domain.FirewallRuleStatus, 0, len(rules)),
	}
	for _, r := range rules {
		row := domain.FirewallRuleStatus{
			RuleID:     r.ID,
			Name:       r.Name,
			Path:       r.Path,
			Enabled:    r.Enabled,
			Blocked:    r.Blocked,
			PathExists: c.fs.Exists(r.Path),
			Artifact:   r.AnchorFile,
		}
		if r.Enabled {
			status.Active++
			if r.Blocked {
				status.Blocked++
			}
			row.Status = c.backend.Status(ctx, r)
		} else {
			row.Status = domain.FirewallDisabled
		}
		switch row.Status {
		case domain.FirewallEnforced:
			status.Enforced++
		case domain.FirewallPendingManual:
			status.Pending++
		}

		if row.PathExists && c.pm != nil {
			pids, err := c.pm.FindByExecutable(c.resolve(r.Path))
			if err != nil {
				c.logger.Debug("process lookup failed", zap.String("path", r.Path), zap.Error(err))
			}
			row.RunningPIDs = pids
		}
		status.Rules = append(status.Rules, row)
	}
	return status, nil
}
