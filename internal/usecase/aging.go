package usecase

import (
	"time"

	"github.com/arklim/credential-policy/internal/core/domain"
)

// AgingPolicy blocks authentication once a password is older than the change interval.
// A zero interval disables aging.
type AgingPolicy struct {
	interval time.Duration
}

// NewAgingPolicy constructs an AgingPolicy.
func NewAgingPolicy(interval time.Duration) *AgingPolicy {
	return &AgingPolicy{interval: interval}
}

// Interval returns the maximum password age.
func (p *AgingPolicy) Interval() time.Duration { return p.interval }

// CheckAge reports whether the password is still young enough to authenticate with. A
// missing change time passes; Finalize stamps it once the login is accepted.
func (p *AgingPolicy) CheckAge(account *domain.Account, now time.Time) bool {
	if p.interval <= 0 || account.PasswordChangedAt == nil {
		return true
	}
	return now.Sub(*account.PasswordChangedAt) <= p.interval
}

// StampMissing records now as the change time of accounts that never carried one, such as
// imported accounts. It reports whether the account was modified.
func (p *AgingPolicy) StampMissing(account *domain.Account, now time.Time) bool {
	if p.interval <= 0 || account.PasswordChangedAt != nil {
		return false
	}
	stamped := now
	account.PasswordChangedAt = &stamped
	return true
}

// ExpiresAt returns when the current password expires, or nil when unknown or disabled.
func (p *AgingPolicy) ExpiresAt(account *domain.Account) *time.Time {
	if p.interval <= 0 || account.PasswordChangedAt == nil {
		return nil
	}
	at := account.PasswordChangedAt.Add(p.interval)
	return &at
}

// Name implements PolicyCheck.
func (p *AgingPolicy) Name() string { return "aging" }

// Evaluate implements PolicyCheck. Only meaningful after credentials were verified.
func (p *AgingPolicy) Evaluate(account *domain.Account, pc PolicyContext) PolicyResult {
	if !pc.CredentialsValid {
		return PolicyResult{Reason: domain.ReasonInvalidCredentials}
	}
	if !p.CheckAge(account, pc.Now) {
		return PolicyResult{Reason: domain.ReasonPasswordExpired}
	}
	return PolicyResult{Allowed: true}
}

// Finalize implements PolicyFinalizer.
func (p *AgingPolicy) Finalize(account *domain.Account, pc PolicyContext) bool {
	return p.StampMissing(account, pc.Now)
}
