package domain

import (
	"strings"
	"time"
)

// Command is one external process invocation.
type Command struct {
	Name string
	Args []string
	// Secret holds argument indexes that must not appear in logs or results.
	Secret []int
}

// String renders the command line with secret arguments masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for i, arg := range c.Args {
		if c.isSecret(i) {
			parts = append(parts, "********")
			continue
		}
		if strings.ContainsAny(arg, " \t") || arg == "" {
			arg = `"` + arg + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

func (c Command) isSecret(i int) bool {
	for _, s := range c.Secret {
		if s == i {
			return true
		}
	}
	return false
}

// CommandResult is what the process runner reports. A nonzero exit is not an error.
type CommandResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	TimedOut   bool
	// Err is set when the process could not be started or was killed.
	Err error
}

// Succeeded reports a clean zero exit.
func (r CommandResult) Succeeded() bool {
	return r.Err == nil && !r.TimedOut && r.ExitStatus == 0
}

// Output returns stdout and stderr joined.
func (r CommandResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ApplyOutcome classifies a multi-target OS mutation.
type ApplyOutcome string

const (
	OutcomeApplied          ApplyOutcome = "applied"
	OutcomePartiallyApplied ApplyOutcome = "partially_applied"
	OutcomeFailed           ApplyOutcome = "failed"
)

// StepResult records one executed mutation command.
type StepResult struct {
	Target   string        `json:"target"`
	Command  string        `json:"command"`
	Success  bool          `json:"success"`
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Verification is the post-apply re-query of one target.
type Verification struct {
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Matches bool   `json:"matches"`
	Detail  string `json:"detail,omitempty"`
}

// ApplyResult is returned by every proxy adapter apply/disable call.
// Outcome PartiallyApplied is the PartialFailure variant.
type ApplyResult struct {
	Outcome      ApplyOutcome  `json:"outcome"`
	Platform     string        `json:"platform"`
	Targets      []string      `json:"targets"`
	Steps        []StepResult  `json:"steps"`
	Warnings     []string      `json:"warnings,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
	// Err carries the classified cause when Outcome is Failed.
	Err error `json:"-"`
}

// Failures returns the failed steps in execution order.
func (r *ApplyResult) Failures() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if !s.Success {
			failed = append(failed, s)
		}
	}
	return failed
}

// AddWarning appends a warning message.
func (r *ApplyResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Classify sets Outcome from the recorded steps.
// A target fails when every one of its steps failed.
func (r *ApplyResult) Classify() {
	if r.Err != nil {
		r.Outcome = OutcomeFailed
		return
	}
	if len(r.Steps) == 0 {
		r.Outcome = OutcomeApplied
		return
	}

	type tally struct{ ok, failed int }
	perTarget := make(map[string]*tally)
	failures := 0
	for _, s := range r.Steps {
		t := perTarget[s.Target]
		if t == nil {
			t = &tally{}
			perTarget[s.Target] = t
		}
		if s.Success {
			t.ok++
		} else {
			t.failed++
			failures++
		}
	}

	if failures == 0 {
		r.Outcome = OutcomeApplied
		return
	}
	for _, t := range perTarget {
		if t.ok > 0 {
			r.Outcome = OutcomePartiallyApplied
			return
		}
	}
	r.Outcome = OutcomeFailed
}

// FirewallStatusKind describes whether a firewall rule is enforced by the OS.
type FirewallStatusKind string

const (
	FirewallEnforced      FirewallStatusKind = "enforced"
	FirewallPendingManual FirewallStatusKind = "pending_manual_action"
	FirewallNotApplied    FirewallStatusKind = "not_applied"
	FirewallDisabled      FirewallStatusKind = "disabled"
)

// FirewallRuleResult is the per-rule detail of applyAll.
type FirewallRuleResult struct {
	RuleID      string `json:"ruleId"`
	Name        string `json:"name"`
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
	// NeedsElevation is set when the OS refused the change for lack of privilege.
	NeedsElevation bool `json:"needsElevation,omitempty"`
}

// FirewallApplyResult aggregates applyAll.
type FirewallApplyResult struct {
	AppliedCount int                  `json:"appliedCount"`
	TotalCount   int                  `json:"totalCount"`
	ManualCount  int                  `json:"manualCount"`
	Results      []FirewallRuleResult `json:"results"`
}

// Success reports whether every rule applied.
func (r *FirewallApplyResult) Success() bool {
	return r.AppliedCount == r.TotalCount
}

// FirewallRuleStatus is one row of the firewall status report.
type FirewallRuleStatus struct {
	RuleID      string             `json:"ruleId"`
	Name        string             `json:"name"`
	Path        string             `json:"path"`
	Enabled     bool               `json:"enabled"`
	Blocked     bool               `json:"blocked"`
	Status      FirewallStatusKind `json:"status"`
	PathExists  bool               `json:"pathExists"`
	RunningPIDs []int              `json:"runningPids,omitempty"`
	Artifact    string             `json:"artifact,omitempty"`
}

// FirewallStatus summarizes all firewall rules.
type FirewallStatus struct {
	Platform string               `json:"platform"`
	Total    int                  `json:"total"`
	Active   int                  `json:"active"`
	Blocked  int                  `json:"blocked"`
	Enforced int                  `json:"enforced"`
	Pending  int                  `json:"pending"`
	Rules    []FirewallRuleStatus `json:"rules"`
}

// ConnectivityResult reports a profile reachability check.
type ConnectivityResult struct {
	ProfileID string `json:"profileId"`
	Success   bool   `json:"success"`
	EgressIP  string `json:"egressIp,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// MatchResult is the outcome of testing a URL against the rule set.
type MatchResult struct {
	URL       string   `json:"url"`
	Matched   bool     `json:"matched"`
	RuleID    string   `json:"ruleId,omitempty"`
	ProfileID string   `json:"profileId,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
	// ProxyURL is empty when the request goes direct.
	ProxyURL string `json:"proxyUrl,omitempty"`
}

// Snapshot describes one saved configuration backup.
type Snapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
