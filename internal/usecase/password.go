package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/infra/logger"
	"github.com/arklim/credential-policy/internal/repository"
)

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNewPasswordRequired indicates the change request carried an empty new password.
	ErrNewPasswordRequired = errors.New("new password is required")
)

// ChangePasswordInput captures a password change request for an authenticated account.
type ChangePasswordInput struct {
	AccountID         string
	OldPassword       string
	NewPassword       string
	NewPasswordRepeat string
}

// ChangePasswordResult summarizes the outcome of a password change.
type ChangePasswordResult struct {
	Success         bool
	Reason          domain.FailureReason
	ChangedAt       time.Time
	HistoryAppended int
}

// PasswordService validates and applies password changes.
type PasswordService struct {
	accounts port.AccountRepository
	history  *HistoryPolicy
	lockout  *LockoutPolicy
	strength port.PasswordStrengthChecker
	events   port.EventPublisher
	metrics  port.PolicyMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPasswordService constructs a PasswordService. A nil strength checker disables the
// strength requirement; a nil lockout policy stops wrong current passwords from counting
// toward the account lock.
func NewPasswordService(accounts port.AccountRepository, history *HistoryPolicy, lockout *LockoutPolicy, strength port.PasswordStrengthChecker, events port.EventPublisher, metrics port.PolicyMetrics, logger *zap.Logger) *PasswordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordService{
		accounts: accounts,
		history:  history,
		lockout:  lockout,
		strength: strength,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *PasswordService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ChangePassword checks the confirmation, lock, strength and history rules and commits the
// new password. A wrong current password counts as a failed attempt against the lockout
// policy; every other rejection leaves the account untouched.
func (s *PasswordService) ChangePassword(ctx context.Context, input ChangePasswordInput) (*ChangePasswordResult, error) {
	accountID := strings.TrimSpace(input.AccountID)
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if input.NewPassword == "" {
		return nil, ErrNewPasswordRequired
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("account_id", accountID))

	if input.NewPassword != input.NewPasswordRepeat {
		return s.reject(log, domain.ReasonConfirmationMismatch), nil
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()
	if s.lockout != nil && s.lockout.IsLocked(account, now) {
		log.Debug("account locked", zap.Duration("remaining", s.lockout.RemainingLock(account, now)))
		return s.reject(log, domain.ReasonLockedOut), nil
	}

	if s.strength != nil {
		if err := s.strength.Check(input.NewPassword, account.Username, account.Email); err != nil {
			log.Debug("password strength rejected", zap.Error(err))
			return s.reject(log, domain.ReasonWeakPassword), nil
		}
	}

	change, reason, err := s.history.AttemptChange(ctx, account, input.OldPassword, input.NewPassword, now)
	if err != nil {
		return nil, err
	}
	if reason == domain.ReasonInvalidOldPassword && s.lockout != nil {
		return s.recordFailedAttempt(ctx, log, account.ID, now)
	}
	if reason != domain.ReasonNone {
		return s.reject(log, reason), nil
	}

	if err := s.history.Record(ctx, *change); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrAccountNotFound
		case errors.Is(err, repository.ErrStalePassword):
			log.Warn("password changed concurrently")
			return s.reject(log, domain.ReasonInvalidOldPassword), nil
		}
		return nil, err
	}

	appended := Appended(*change)
	if s.events != nil {
		event := domain.PasswordChangedEvent{
			EventID:         uuid.NewString(),
			AccountID:       account.ID,
			ChangedAt:       now,
			ForcedChange:    account.RequirePasswordChange,
			HistoryAppended: appended,
		}
		if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
			log.Warn("failed to publish password changed event", zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.ObservePasswordChange(domain.ReasonNone)
	}
	log.Info("password changed", zap.Bool("forced", account.RequirePasswordChange), zap.Int("history_appended", appended))

	return &ChangePasswordResult{
		Success:         true,
		ChangedAt:       now,
		HistoryAppended: appended,
	}, nil
}

// recordFailedAttempt counts a wrong current password against the lockout policy and
// publishes the lock when this attempt tripped it.
func (s *PasswordService) recordFailedAttempt(ctx context.Context, log *zap.Logger, accountID string, now time.Time) (*ChangePasswordResult, error) {
	var outcome LockoutOutcome
	updated, err := s.accounts.UpdateLoginState(ctx, accountID, func(fresh *domain.Account) error {
		outcome = s.lockout.RecordAttempt(fresh, false, now)
		if !outcome.Mutated {
			return port.ErrNoChange
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}

	if outcome.JustLocked && s.events != nil && updated.LockedUntil != nil {
		event := newLockedEvent(updated, now, map[string]any{"source": "password_change"})
		if err := s.events.PublishAccountLocked(ctx, event); err != nil {
			log.Warn("failed to publish account locked event", zap.Error(err))
		}
	}
	if outcome.Reason == domain.ReasonLockedOut {
		return s.reject(log, domain.ReasonLockedOut), nil
	}
	return s.reject(log, domain.ReasonInvalidOldPassword), nil
}

func (s *PasswordService) reject(log *zap.Logger, reason domain.FailureReason) *ChangePasswordResult {
	if s.metrics != nil {
		s.metrics.ObservePasswordChange(reason)
	}
	log.Info("password change rejected", zap.String("reason", string(reason)))
	return &ChangePasswordResult{Reason: reason}
}
