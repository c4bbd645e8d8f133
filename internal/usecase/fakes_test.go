package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/infra/config"
	"github.com/arklim/credential-policy/internal/repository"
)

type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	history  map[string][]string

	updateCalls int
	writes      int
	commitErr   error
}

var _ port.AccountRepository = (*memAccountStore)(nil)

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{
		accounts: make(map[string]domain.Account),
		history:  make(map[string][]string),
	}
}

func (m *memAccountStore) Create(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Username == account.Username || existing.Email == account.Email {
			return repository.ErrAlreadyExists
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memAccountStore) GetByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (m *memAccountStore) GetByIdentifier(_ context.Context, identifier string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Username == identifier || strings.EqualFold(account.Email, identifier) {
			return cloneAccount(account), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAccountStore) Save(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return repository.ErrNotFound
	}
	m.accounts[account.ID] = account
	m.writes++
	return nil
}

func (m *memAccountStore) AppendHistory(_ context.Context, accountID string, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[accountID] = append(m.history[accountID], passwordHash)
	return nil
}

func (m *memAccountStore) ListRecentHistory(_ context.Context, accountID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[accountID]
	out := make([]string, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *memAccountStore) CountHistory(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history[accountID]), nil
}

func (m *memAccountStore) UpdateLoginState(_ context.Context, accountID string, mutate port.LoginStateMutator) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	stored, ok := m.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	account := cloneAccount(stored)
	if err := mutate(account); err != nil {
		if errors.Is(err, port.ErrNoChange) {
			return cloneAccount(stored), nil
		}
		return nil, err
	}
	m.accounts[accountID] = *account
	m.writes++
	return cloneAccount(*account), nil
}

func (m *memAccountStore) CommitPasswordChange(_ context.Context, change domain.PasswordChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	account, ok := m.accounts[change.AccountID]
	if !ok {
		return repository.ErrNotFound
	}
	if account.PasswordHash != change.PreviousHash {
		return repository.ErrStalePassword
	}
	if change.SeedPrevious {
		m.history[change.AccountID] = append(m.history[change.AccountID], change.PreviousHash)
	}
	m.history[change.AccountID] = append(m.history[change.AccountID], change.NewHash)
	changedAt := change.ChangedAt
	account.PasswordHash = change.NewHash
	account.PasswordChangedAt = &changedAt
	account.RequirePasswordChange = false
	m.accounts[change.AccountID] = account
	return nil
}

func (m *memAccountStore) get(id string) domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id]
}

func cloneAccount(a domain.Account) *domain.Account {
	if a.LockedUntil != nil {
		v := *a.LockedUntil
		a.LockedUntil = &v
	}
	if a.PasswordChangedAt != nil {
		v := *a.PasswordChangedAt
		a.PasswordChangedAt = &v
	}
	return &a
}

// plainHasher keeps test hashes readable; production hashing is covered in the security package.
type plainHasher struct {
	verifyErr error
}

func (h plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (h plainHasher) Verify(password string, encoded string) (bool, error) {
	if h.verifyErr != nil {
		return false, h.verifyErr
	}
	return encoded == "plain$"+password, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	locked   []domain.AccountLockedEvent
	unlocked []domain.AccountUnlockedEvent
	changed  []domain.PasswordChangedEvent
	err      error
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, event)
	return p.err
}

func (p *recordingPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = append(p.unlocked, event)
	return p.err
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return p.err
}

type recordingMetrics struct {
	logins  []domain.FailureReason
	locks   int
	changes []domain.FailureReason
}

func (m *recordingMetrics) ObserveLogin(reason domain.FailureReason, justLocked bool) {
	m.logins = append(m.logins, reason)
	if justLocked {
		m.locks++
	}
}

func (m *recordingMetrics) ObservePasswordChange(reason domain.FailureReason) {
	m.changes = append(m.changes, reason)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	store     *memAccountStore
	clock     *fakeClock
	events    *recordingPublisher
	metrics   *recordingMetrics
	policies  *Policies
	auth      *AuthService
	passwords *PasswordService
	accounts  *AccountService
}

func newHarness(settings config.PolicySettings) *harness {
	policies, err := NewPolicies(settings)
	if err != nil {
		panic(err)
	}

	h := &harness{
		store:    newMemAccountStore(),
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:   &recordingPublisher{},
		metrics:  &recordingMetrics{},
		policies: policies,
	}
	hasher := plainHasher{}

	h.auth = NewAuthService(h.store, hasher, policies, h.events, h.metrics, nil)
	h.auth.WithClock(h.clock.Now)

	history := NewHistoryPolicy(hasher, h.store, policies.HistoryWindow)
	h.passwords = NewPasswordService(h.store, history, policies.Lockout, nil, h.events, h.metrics, nil)
	h.passwords.WithClock(h.clock.Now)

	h.accounts = NewAccountService(h.store, hasher, nil, policies, h.events, nil)
	h.accounts.WithClock(h.clock.Now)

	return h
}

// seed stores an account that has already completed its first login flow.
func (h *harness) seed(id, username, password string) domain.Account {
	changedAt := h.clock.Now()
	account := domain.Account{
		ID:                id,
		Username:          username,
		Email:             username + "@example.com",
		PasswordHash:      "plain$" + password,
		PasswordChangedAt: &changedAt,
		CreatedAt:         h.clock.Now(),
	}
	if err := h.store.Create(context.Background(), account); err != nil {
		panic(err)
	}
	return account
}
