package port

import (
	"context"
	"errors"

	"github.com/arklim/credential-policy/internal/core/domain"
)

// LoginStateMutator mutates an account inside the store's per-row read-modify-write.
// Returning an error aborts the update without persisting.
type LoginStateMutator func(account *domain.Account) error

// AccountRepository exposes persistence behavior for accounts and their password history.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	Save(ctx context.Context, account domain.Account) error

	AppendHistory(ctx context.Context, accountID string, passwordHash string) error
	// ListRecentHistory returns at most limit hashes, newest first.
	ListRecentHistory(ctx context.Context, accountID string, limit int) ([]string, error)
	CountHistory(ctx context.Context, accountID string) (int, error)

	// UpdateLoginState loads the account row under a per-account lock (or optimistic
	// equivalent), applies mutate and persists the result.
	UpdateLoginState(ctx context.Context, accountID string, mutate LoginStateMutator) (*domain.Account, error)
	// CommitPasswordChange persists the new hash, history rows, aging timestamp and clears
	// the forced-change flag in a single transaction. It returns
	// repository.ErrStalePassword when the stored hash is no longer change.PreviousHash.
	CommitPasswordChange(ctx context.Context, change domain.PasswordChange) error
}

// ErrNoChange is returned by a LoginStateMutator to signal that the account was not
// modified; adapters then skip the write and return the loaded account.
var ErrNoChange = errors.New("port: no change")
