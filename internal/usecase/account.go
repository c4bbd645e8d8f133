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
	// ErrAccountExists indicates the username or email is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotLocked indicates an unlock was requested for an account without an active lock.
	ErrAccountNotLocked = errors.New("account is not locked")
	// ErrWeakPassword indicates the initial password failed the strength requirement.
	ErrWeakPassword = errors.New("password too weak")
	// ErrUsernameRequired indicates the account was submitted without a username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrEmailRequired indicates the account was submitted without an email.
	ErrEmailRequired = errors.New("email is required")
	// ErrAccountIDRequired indicates the request did not reference an account.
	ErrAccountIDRequired = errors.New("account id is required")
)

// CreateAccountInput carries the fields required to provision an account.
type CreateAccountInput struct {
	Username string
	Email    string
	Password string
}

// AccountStatus is a read-only view of the policy state of an account.
type AccountStatus struct {
	AccountID             string
	Username              string
	LoginAttempts         int
	MaxLoginAttempts      int
	Locked                bool
	LockedUntil           *time.Time
	LockRemaining         time.Duration
	PasswordChangedAt     *time.Time
	PasswordExpiresAt     *time.Time
	PasswordExpired       bool
	RequirePasswordChange bool
	HistoryEntries        int
}

// AccountService provisions accounts and exposes administrative policy operations.
type AccountService struct {
	accounts port.AccountRepository
	hasher   port.PasswordHasher
	strength port.PasswordStrengthChecker
	policies *Policies
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewAccountService constructs an AccountService.
func NewAccountService(accounts port.AccountRepository, hasher port.PasswordHasher, strength port.PasswordStrengthChecker, policies *Policies, events port.EventPublisher, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		accounts: accounts,
		hasher:   hasher,
		strength: strength,
		policies: policies,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AccountService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateAccount hashes the initial password and stores a fresh account. The forced change
// flag follows the first-login configuration.
func (s *AccountService) CreateAccount(ctx context.Context, input CreateAccountInput) (*domain.Account, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	if input.Password == "" {
		return nil, ErrPasswordRequired
	}

	if s.strength != nil {
		if err := s.strength.Check(input.Password, username, email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
		}
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := domain.Account{
		ID:                    uuid.NewString(),
		Username:              username,
		Email:                 email,
		PasswordHash:          hash,
		RequirePasswordChange: s.policies.EnforceFirstLoginChange,
		CreatedAt:             s.now().UTC(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	logger.WithContext(ctx, s.logger).Info("account created",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(email)),
	)

	sanitized := account.Sanitized()
	return &sanitized, nil
}

// Status reports the policy state without mutating the account. Expired locks are shown as
// unlocked even though the stored fields are only cleared on the next login.
func (s *AccountService) Status(ctx context.Context, accountID string) (*AccountStatus, error) {
	account, err := s.lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}

	count, err := s.accounts.CountHistory(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("count password history: %w", err)
	}

	now := s.now().UTC()
	lockout := s.policies.Lockout
	locked := lockout.IsLocked(account, now)

	status := &AccountStatus{
		AccountID:             account.ID,
		Username:              account.Username,
		LoginAttempts:         account.LoginAttempts,
		MaxLoginAttempts:      lockout.MaxAttempts(),
		Locked:                locked,
		LockRemaining:         lockout.RemainingLock(account, now),
		PasswordChangedAt:     account.PasswordChangedAt,
		PasswordExpiresAt:     s.policies.Aging.ExpiresAt(account),
		RequirePasswordChange: account.RequirePasswordChange,
		HistoryEntries:        count,
	}
	if locked {
		status.LockedUntil = account.LockedUntil
	} else if account.LockedUntil != nil {
		status.LoginAttempts = 0
	}
	if status.PasswordExpiresAt != nil {
		status.PasswordExpired = now.After(*status.PasswordExpiresAt)
	}

	return status, nil
}

// Unlock clears an active lock and the failure counter.
func (s *AccountService) Unlock(ctx context.Context, accountID, actor string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	now := s.now().UTC()
	wasLocked := false
	updated, err := s.accounts.UpdateLoginState(ctx, accountID, func(account *domain.Account) error {
		wasLocked = s.policies.Lockout.IsLocked(account, now)
		if !wasLocked {
			return port.ErrNoChange
		}
		account.LockedUntil = nil
		account.LoginAttempts = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("unlock account: %w", err)
	}
	if !wasLocked {
		return nil, ErrAccountNotLocked
	}

	log := logger.WithContext(ctx, s.logger)
	if s.events != nil {
		event := domain.AccountUnlockedEvent{
			EventID:    uuid.NewString(),
			AccountID:  updated.ID,
			UnlockedAt: now,
			UnlockedBy: actor,
		}
		if err := s.events.PublishAccountUnlocked(ctx, event); err != nil {
			log.Warn("failed to publish account unlocked event", zap.String("account_id", updated.ID), zap.Error(err))
		}
	}
	log.Info("account unlocked", zap.String("account_id", updated.ID), zap.String("actor", actor))

	sanitized := updated.Sanitized()
	return &sanitized, nil
}

func (s *AccountService) lookup(ctx context.Context, accountID string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}
