package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
)

// HistoryPolicy prevents reuse of the current password and of the window passwords held
// before it.
type HistoryPolicy struct {
	hasher port.PasswordHasher
	store  port.AccountRepository
	window int
}

// NewHistoryPolicy constructs a HistoryPolicy consulting the newest window entries.
func NewHistoryPolicy(hasher port.PasswordHasher, store port.AccountRepository, window int) *HistoryPolicy {
	if window < 0 {
		window = 0
	}
	return &HistoryPolicy{hasher: hasher, store: store, window: window}
}

// Window returns how many history entries are consulted.
func (p *HistoryPolicy) Window() int { return p.window }

// AttemptChange validates a password change request against the current hash and recent
// history. On acceptance it returns the change to commit; rejections come back as a reason
// with a nil change.
func (p *HistoryPolicy) AttemptChange(ctx context.Context, account *domain.Account, oldPassword, newPassword string, now time.Time) (*domain.PasswordChange, domain.FailureReason, error) {
	ok, err := p.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return nil, domain.ReasonNone, fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return nil, domain.ReasonInvalidOldPassword, nil
	}

	same, err := p.hasher.Verify(newPassword, account.PasswordHash)
	if err != nil {
		return nil, domain.ReasonNone, fmt.Errorf("compare with current password: %w", err)
	}
	if same {
		return nil, domain.ReasonSamePasswords, nil
	}

	var recent []string
	if p.window > 0 {
		recent, err = p.store.ListRecentHistory(ctx, account.ID, p.window+1)
		if err != nil {
			return nil, domain.ReasonNone, fmt.Errorf("load password history: %w", err)
		}
		for _, previous := range priorHashes(recent, account.PasswordHash, p.window) {
			reused, err := p.hasher.Verify(newPassword, previous)
			if err != nil {
				return nil, domain.ReasonNone, fmt.Errorf("compare with password history: %w", err)
			}
			if reused {
				return nil, domain.ReasonSamePreviousPasswords, nil
			}
		}
	}

	seed := len(recent) == 0
	if p.window == 0 {
		count, err := p.store.CountHistory(ctx, account.ID)
		if err != nil {
			return nil, domain.ReasonNone, fmt.Errorf("count password history: %w", err)
		}
		seed = count == 0
	}

	newHash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return nil, domain.ReasonNone, fmt.Errorf("hash new password: %w", err)
	}

	return &domain.PasswordChange{
		AccountID:    account.ID,
		PreviousHash: account.PasswordHash,
		NewHash:      newHash,
		SeedPrevious: seed,
		ChangedAt:    now,
	}, domain.ReasonNone, nil
}

// priorHashes drops the newest entry when it is the current hash, which every committed
// change appends, and keeps at most window of the remaining entries.
func priorHashes(recent []string, current string, window int) []string {
	if len(recent) > 0 && recent[0] == current {
		recent = recent[1:]
	}
	if len(recent) > window {
		recent = recent[:window]
	}
	return recent
}

// Record commits an accepted change. The store applies it in one transaction.
func (p *HistoryPolicy) Record(ctx context.Context, change domain.PasswordChange) error {
	if err := p.store.CommitPasswordChange(ctx, change); err != nil {
		return fmt.Errorf("commit password change: %w", err)
	}
	return nil
}

// Appended returns the number of history rows a change adds.
func Appended(change domain.PasswordChange) int {
	if change.SeedPrevious {
		return 2
	}
	return 1
}
