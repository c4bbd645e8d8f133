package usecase

import (
	"time"

	"github.com/arklim/credential-policy/internal/core/domain"
)

// LockoutPolicy counts consecutive failed logins and enforces a timed lock once the
// threshold is reached. Expired locks are cleared lazily on the next attempt.
type LockoutPolicy struct {
	maxAttempts    int
	lockExpiration time.Duration
}

// LockoutOutcome is the result of recording a single login attempt.
type LockoutOutcome struct {
	Allowed    bool
	Reason     domain.FailureReason
	JustLocked bool
	Mutated    bool
}

// NewLockoutPolicy constructs a LockoutPolicy.
func NewLockoutPolicy(maxAttempts int, lockExpiration time.Duration) *LockoutPolicy {
	return &LockoutPolicy{maxAttempts: maxAttempts, lockExpiration: lockExpiration}
}

// MaxAttempts returns the failure threshold.
func (p *LockoutPolicy) MaxAttempts() int { return p.maxAttempts }

// LockExpiration returns how long a lock lasts.
func (p *LockoutPolicy) LockExpiration() time.Duration { return p.lockExpiration }

// IsLocked reports whether the account holds an unexpired lock at now.
func (p *LockoutPolicy) IsLocked(account *domain.Account, now time.Time) bool {
	return account.LockedUntil != nil && now.Before(*account.LockedUntil)
}

// RemainingLock returns the time left on an active lock, or zero.
func (p *LockoutPolicy) RemainingLock(account *domain.Account, now time.Time) time.Duration {
	if !p.IsLocked(account, now) {
		return 0
	}
	return account.LockedUntil.Sub(now)
}

// RecordAttempt applies one login attempt to the account.
func (p *LockoutPolicy) RecordAttempt(account *domain.Account, success bool, now time.Time) LockoutOutcome {
	if p.IsLocked(account, now) {
		return LockoutOutcome{Reason: domain.ReasonLockedOut}
	}

	mutated := false
	if account.LockedUntil != nil {
		account.LockedUntil = nil
		account.LoginAttempts = 0
		mutated = true
	}

	if success {
		if account.LoginAttempts != 0 {
			account.LoginAttempts = 0
			mutated = true
		}
		return LockoutOutcome{Allowed: true, Mutated: mutated}
	}

	account.LoginAttempts++
	if account.LoginAttempts >= p.maxAttempts {
		until := now.Add(p.lockExpiration)
		account.LockedUntil = &until
		return LockoutOutcome{Reason: domain.ReasonLockedOut, JustLocked: true, Mutated: true}
	}

	return LockoutOutcome{Reason: domain.ReasonInvalidCredentials, Mutated: true}
}

// Name implements PolicyCheck.
func (p *LockoutPolicy) Name() string { return "lockout" }

// Evaluate implements PolicyCheck.
func (p *LockoutPolicy) Evaluate(account *domain.Account, pc PolicyContext) PolicyResult {
	out := p.RecordAttempt(account, pc.CredentialsValid, pc.Now)
	return PolicyResult{
		Allowed:    out.Allowed,
		Reason:     out.Reason,
		JustLocked: out.JustLocked,
		Mutated:    out.Mutated,
	}
}
