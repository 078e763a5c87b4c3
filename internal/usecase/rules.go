package usecase

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/policy"
)

// RuleBook manages URL routing rules. Rules may reference profiles that do
// not exist; such rules are ignored at match time.
type RuleBook struct {
	store    domain.Store
	patterns *policy.Registry
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewRuleBook creates a rule book over store using the default pattern types.
func NewRuleBook(store domain.Store, logger *zap.Logger) *RuleBook {
	return &RuleBook{
		store:    store,
		patterns: policy.DefaultRegistry(),
		logger:   logger,
		now:      nowUTC,
		newID:    newID,
	}
}

func (b *RuleBook) validate(r *domain.Rule) error {
	if strings.TrimSpace(r.Pattern) == "" {
		return domain.NewValidationError("pattern", "must not be empty")
	}
	if strings.TrimSpace(r.ProfileID) == "" {
		return domain.NewValidationError("profileId", "must not be empty")
	}
	if r.Type == "" {
		r.Type = domain.MatchWildcard
	}
	return b.patterns.Validate(r.Type, r.Pattern)
}

func (b *RuleBook) List() ([]domain.Rule, error) {
	return loadList[domain.Rule](b.store, domain.KeyRules)
}

func (b *RuleBook) Get(id string) (domain.Rule, error) {
	rules, err := b.List()
	if err != nil {
		return domain.Rule{}, err
	}
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Rule{}, &domain.NotFoundError{Kind: "rule", ID: id}
}

// Add validates and appends a rule. Registration order breaks priority ties.
func (b *RuleBook) Add(r domain.Rule) (domain.Rule, error) {
	if err := b.validate(&r); err != nil {
		return domain.Rule{}, err
	}
	rules, err := b.List()
	if err != nil {
		return domain.Rule{}, err
	}

	r.ID = b.newID()
	r.CreatedAt = b.now()
	r.UpdatedAt = r.CreatedAt
	rules = append(rules, r)
	if err := b.store.Set(domain.KeyRules, rules); err != nil {
		return domain.Rule{}, fmt.Errorf("failed to save rules: %w", err)
	}

	b.logger.Info("rule added",
		zap.String("rule", r.ID),
		zap.String("pattern", r.Pattern),
		zap.String("profile", r.ProfileID))
	return r, nil
}

// Update replaces a rule in place, keeping its position.
func (b *RuleBook) Update(r domain.Rule) (domain.Rule, error) {
	rules, err := b.List()
	if err != nil {
		return domain.Rule{}, err
	}
	index := -1
	for i := range rules {
		if rules[i].ID == r.ID {
			index = i
			break
		}
	}
	if index == -1 {
		return domain.Rule{}, &domain.NotFoundError{Kind: "rule", ID: r.ID}
	}
	if err := b.validate(&r); err != nil {
		return domain.Rule{}, err
	}

	r.CreatedAt = rules[index].CreatedAt
	r.UpdatedAt = b.now()
	rules[index] = r
	if err := b.store.Set(domain.KeyRules, rules); err != nil {
		return domain.Rule{}, fmt.Errorf("failed to save rules: %w", err)
	}

	b.logger.Info("rule updated", zap.String("rule", r.ID))
	return r, nil
}

// Delete removes a rule. Unknown ids succeed.
func (b *RuleBook) Delete(id string) error {
	rules, err := b.List()
	if err != nil {
		return err
	}
	kept := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rules) {
		return nil
	}
	if err := b.store.Set(domain.KeyRules, kept); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}
	b.logger.Info("rule deleted", zap.String("rule", id))
	return nil
}

// ForProfile returns the rules routing to profileID.
func (b *RuleBook) ForProfile(profileID string) ([]domain.Rule, error) {
	rules, err := b.List()
	if err != nil {
		return nil, err
	}
	var out []domain.Rule
	for _, r := range rules {
		if r.ProfileID == profileID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Snapshot compiles the current rules against the current profiles.
func (b *RuleBook) Snapshot() (*policy.RuleSet, map[string]domain.Profile, error) {
	rules, err := b.List()
	if err != nil {
		return nil, nil, err
	}
	profiles, err := loadList[domain.Profile](b.store, domain.KeyProfiles)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]domain.Profile, len(profiles))
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	set := policy.NewRuleSet(rules,
		policy.WithRegistry(b.patterns),
		policy.WithKnownProfiles(ids))
	return set, byID, nil
}

// Test routes rawURL through the current rules.
func (b *RuleBook) Test(rawURL string) (domain.MatchResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return domain.MatchResult{}, domain.NewValidationError("url", "must not be empty")
	}
	set, profiles, err := b.Snapshot()
	if err != nil {
		return domain.MatchResult{}, err
	}
	return policy.Route(set, profiles, rawURL), nil
}

// PAC renders the current rules as a proxy auto-config script.
func (b *RuleBook) PAC() (string, error) {
	rules, err := b.List()
	if err != nil {
		return "", err
	}
	profiles, err := loadList[domain.Profile](b.store, domain.KeyProfiles)
	if err != nil {
		return "", err
	}
	return policy.GeneratePAC(rules, profiles)
}
