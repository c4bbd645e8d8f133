package usecase

import "github.com/arklim/credential-policy/internal/core/domain"

// FirstLoginPolicy denies authentication until a newly created account has replaced its
// initial password. The flag is cleared only by a successful password change.
type FirstLoginPolicy struct{}

// NewFirstLoginPolicy constructs a FirstLoginPolicy.
func NewFirstLoginPolicy() *FirstLoginPolicy {
	return &FirstLoginPolicy{}
}

// CheckForcedChange reports whether the account may authenticate.
func (p *FirstLoginPolicy) CheckForcedChange(account *domain.Account) bool {
	return !account.RequirePasswordChange
}

// Name implements PolicyCheck.
func (p *FirstLoginPolicy) Name() string { return "first_login" }

// Evaluate implements PolicyCheck.
func (p *FirstLoginPolicy) Evaluate(account *domain.Account, pc PolicyContext) PolicyResult {
	if !pc.CredentialsValid {
		return PolicyResult{Reason: domain.ReasonInvalidCredentials}
	}
	if !p.CheckForcedChange(account) {
		return PolicyResult{Reason: domain.ReasonPasswordChangeRequired}
	}
	return PolicyResult{Allowed: true}
}
