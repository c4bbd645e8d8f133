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
	// ErrIdentifierRequired indicates the login request carried no username or email.
	ErrIdentifierRequired = errors.New("identifier is required")
	// ErrPasswordRequired indicates the login request carried no password.
	ErrPasswordRequired = errors.New("password is required")
)

// LoginInput carries the credentials submitted by a login request.
type LoginInput struct {
	Identifier string
	Password   string
	IP         string
	UserAgent  string
}

// LoginResult describes the policy decision for a login attempt. Account is sanitized and
// only set when the account was resolved.
type LoginResult struct {
	Success    bool
	Reason     domain.FailureReason
	JustLocked bool
	Account    *domain.Account
}

// AuthService runs the authentication pipeline: lockout gate, credential verification,
// then the lockout, aging and first-login checks against the stored account.
type AuthService struct {
	accounts port.AccountRepository
	hasher   port.PasswordHasher
	policies *Policies
	events   port.EventPublisher
	metrics  port.PolicyMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(accounts port.AccountRepository, hasher port.PasswordHasher, policies *Policies, events port.EventPublisher, metrics port.PolicyMetrics, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		policies: policies,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login evaluates a login attempt. Policy rejections are reported through the result;
// the error is reserved for store and hasher failures.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return nil, ErrIdentifierRequired
	}
	if input.Password == "" {
		return nil, ErrPasswordRequired
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("identifier", logger.MaskIdentifier(identifier)))

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.observe(domain.ReasonInvalidCredentials, false)
			log.Info("login rejected", zap.String("reason", string(domain.ReasonInvalidCredentials)))
			return &LoginResult{Reason: domain.ReasonInvalidCredentials}, nil
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()
	if s.policies.Lockout.IsLocked(account, now) {
		s.observe(domain.ReasonLockedOut, false)
		log.Info("login rejected",
			zap.String("account_id", account.ID),
			zap.String("reason", string(domain.ReasonLockedOut)),
			zap.Duration("remaining", s.policies.Lockout.RemainingLock(account, now)),
		)
		sanitized := account.Sanitized()
		return &LoginResult{Reason: domain.ReasonLockedOut, Account: &sanitized}, nil
	}

	valid, err := s.hasher.Verify(input.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	pc := PolicyContext{Now: now, CredentialsValid: valid}
	checks := s.policies.AuthenticationChecks()

	var decision PolicyResult
	updated, err := s.accounts.UpdateLoginState(ctx, account.ID, func(fresh *domain.Account) error {
		decision = runChecks(checks, fresh, pc)
		if !decision.Mutated {
			return port.ErrNoChange
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.observe(domain.ReasonInvalidCredentials, false)
			return &LoginResult{Reason: domain.ReasonInvalidCredentials}, nil
		}
		return nil, fmt.Errorf("update login state: %w", err)
	}

	sanitized := updated.Sanitized()
	result := &LoginResult{
		Success:    decision.Allowed,
		Reason:     decision.Reason,
		JustLocked: decision.JustLocked,
		Account:    &sanitized,
	}

	if result.JustLocked {
		s.publishLocked(ctx, log, updated, now, input)
	}

	s.observe(result.Reason, result.JustLocked)
	if result.Success {
		log.Info("login accepted", zap.String("account_id", updated.ID))
	} else {
		log.Info("login rejected",
			zap.String("account_id", updated.ID),
			zap.String("reason", string(result.Reason)),
			zap.String("policy", decision.Policy),
			zap.Int("login_attempts", updated.LoginAttempts),
		)
	}

	return result, nil
}

func (s *AuthService) publishLocked(ctx context.Context, log *zap.Logger, account *domain.Account, now time.Time, input LoginInput) {
	if s.events == nil || account.LockedUntil == nil {
		return
	}

	metadata := map[string]any{}
	if ip := strings.TrimSpace(input.IP); ip != "" {
		metadata["ip"] = logger.MaskIP(ip)
	}
	if ua := strings.TrimSpace(input.UserAgent); ua != "" {
		metadata["user_agent"] = ua
	}

	if err := s.events.PublishAccountLocked(ctx, newLockedEvent(account, now, metadata)); err != nil {
		log.Warn("failed to publish account locked event", zap.String("account_id", account.ID), zap.Error(err))
	}
}

// newLockedEvent describes a lock that was just applied. account.LockedUntil must be set.
func newLockedEvent(account *domain.Account, now time.Time, metadata map[string]any) domain.AccountLockedEvent {
	return domain.AccountLockedEvent{
		EventID:       uuid.NewString(),
		AccountID:     account.ID,
		LoginAttempts: account.LoginAttempts,
		LockedAt:      now,
		LockedUntil:   *account.LockedUntil,
		Metadata:      metadata,
	}
}

func (s *AuthService) observe(reason domain.FailureReason, justLocked bool) {
	if s.metrics != nil {
		s.metrics.ObserveLogin(reason, justLocked)
	}
}
