package usecase

import (
	"time"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/infra/config"
)

// PolicyContext carries the per-attempt inputs shared by every authentication check.
type PolicyContext struct {
	Now              time.Time
	CredentialsValid bool
}

// PolicyResult is the decision of a single check. Mutated reports whether the check
// changed persisted account fields.
type PolicyResult struct {
	Allowed    bool
	Reason     domain.FailureReason
	JustLocked bool
	Mutated    bool
	Policy     string
}

// PolicyCheck is implemented by the policies that gate authentication. Checks mutate the
// in-memory account; persisting it is the caller's job.
type PolicyCheck interface {
	Name() string
	Evaluate(account *domain.Account, pc PolicyContext) PolicyResult
}

// PolicyFinalizer is implemented by checks that persist state only for accepted attempts.
type PolicyFinalizer interface {
	Finalize(account *domain.Account, pc PolicyContext) bool
}

// Policies bundles the configured policy engines.
type Policies struct {
	Lockout    *LockoutPolicy
	Aging      *AgingPolicy
	FirstLogin *FirstLoginPolicy

	HistoryWindow           int
	EnforceFirstLoginChange bool
}

// NewPolicies builds the policy engines from static settings, rejecting misconfiguration.
func NewPolicies(settings config.PolicySettings) (*Policies, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Policies{
		Lockout:                 NewLockoutPolicy(settings.MaxLoginAttempts, settings.LockExpiration),
		Aging:                   NewAgingPolicy(settings.PasswordChangeInterval),
		FirstLogin:              NewFirstLoginPolicy(),
		HistoryWindow:           settings.LastPasswordChangesCount,
		EnforceFirstLoginChange: settings.EnforceFirstLoginChange,
	}, nil
}

// AuthenticationChecks returns the checks in evaluation order: lockout, aging, first login.
func (p *Policies) AuthenticationChecks() []PolicyCheck {
	checks := []PolicyCheck{p.Lockout, p.Aging}
	if p.EnforceFirstLoginChange {
		checks = append(checks, p.FirstLogin)
	}
	return checks
}

// runChecks evaluates checks in order and stops at the first rejection. Finalizers run only
// when every check allowed the attempt.
func runChecks(checks []PolicyCheck, account *domain.Account, pc PolicyContext) PolicyResult {
	mutated := false
	for _, check := range checks {
		res := check.Evaluate(account, pc)
		mutated = mutated || res.Mutated
		if !res.Allowed {
			res.Mutated = mutated
			res.Policy = check.Name()
			return res
		}
	}
	for _, check := range checks {
		if f, ok := check.(PolicyFinalizer); ok && f.Finalize(account, pc) {
			mutated = true
		}
	}
	return PolicyResult{Allowed: true, Mutated: mutated}
}
