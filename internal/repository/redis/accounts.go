package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/repository"
)

const (
	defaultAccountPrefix = "credpol"
	defaultMaxTxRetries  = 5
)

const (
	fieldID                    = "id"
	fieldUsername              = "username"
	fieldEmail                 = "email"
	fieldPasswordHash          = "password_hash"
	fieldLoginAttempts         = "login_attempts"
	fieldLockedUntil           = "locked_until"
	fieldPasswordChangedAt     = "password_changed_at"
	fieldRequirePasswordChange = "require_password_change"
	fieldCreatedAt             = "created_at"
)

// AccountRepository stores accounts as hashes and password history as lists. Per-account
// read-modify-write uses WATCH/MULTI and is retried when a concurrent writer wins.
type AccountRepository struct {
	client     *red.Client
	prefix     string
	maxRetries int
}

var _ port.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository constructs a Redis-backed account repository.
func NewAccountRepository(client *red.Client, keyPrefix string, maxRetries int) *AccountRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultAccountPrefix
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxTxRetries
	}
	return &AccountRepository{client: client, prefix: prefix, maxRetries: maxRetries}
}

func (r *AccountRepository) accountKey(id string) string {
	return r.prefix + ":account:" + id
}

func (r *AccountRepository) historyKey(id string) string {
	return r.prefix + ":account:" + id + ":history"
}

func (r *AccountRepository) usernameKey(username string) string {
	return r.prefix + ":username:" + username
}

func (r *AccountRepository) emailKey(email string) string {
	return r.prefix + ":email:" + strings.ToLower(email)
}

// Create stores the account and its username and email indexes.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	key := r.accountKey(account.ID)
	usernameKey := r.usernameKey(account.Username)
	emailKey := r.emailKey(account.Email)

	return r.watch(ctx, func(tx *red.Tx) error {
		taken, err := tx.Exists(ctx, key, usernameKey, emailKey).Result()
		if err != nil {
			return fmt.Errorf("redis check account uniqueness: %w", err)
		}
		if taken > 0 {
			return repository.ErrAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAccount(account))
			pipe.Set(ctx, usernameKey, account.ID, 0)
			pipe.Set(ctx, emailKey, account.ID, 0)
			return nil
		})
		return err
	}, key, usernameKey, emailKey)
}

// GetByID loads an account by id.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.load(ctx, r.client, id)
}

// GetByIdentifier resolves a username or email through the index keys.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	id, err := r.client.Get(ctx, r.usernameKey(identifier)).Result()
	if errors.Is(err, red.Nil) {
		id, err = r.client.Get(ctx, r.emailKey(identifier)).Result()
	}
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis resolve identifier: %w", err)
	}
	return r.load(ctx, r.client, id)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *red.MapStringStringCmd
}

func (r *AccountRepository) load(ctx context.Context, reader hashReader, id string) (*domain.Account, error) {
	values, err := reader.HGetAll(ctx, r.accountKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load account: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}
	return decodeAccount(values)
}

// Save overwrites the mutable policy fields of an existing account.
func (r *AccountRepository) Save(ctx context.Context, account domain.Account) error {
	key := r.accountKey(account.ID)
	return r.watch(ctx, func(tx *red.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis check account: %w", err)
		}
		if exists == 0 {
			return repository.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, encodeLoginState(account))
			return nil
		})
		return err
	}, key)
}

// AppendHistory records a password hash in the account's history.
func (r *AccountRepository) AppendHistory(ctx context.Context, accountID string, passwordHash string) error {
	if err := r.client.RPush(ctx, r.historyKey(accountID), passwordHash).Err(); err != nil {
		return fmt.Errorf("redis append password history: %w", err)
	}
	return nil
}

// ListRecentHistory returns up to limit hashes, newest first.
func (r *AccountRepository) ListRecentHistory(ctx context.Context, accountID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	values, err := r.client.LRange(ctx, r.historyKey(accountID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list password history: %w", err)
	}
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}

// CountHistory returns the number of stored history entries.
func (r *AccountRepository) CountHistory(ctx context.Context, accountID string) (int, error) {
	count, err := r.client.LLen(ctx, r.historyKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count password history: %w", err)
	}
	return int(count), nil
}

// UpdateLoginState applies mutate under WATCH on the account key.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, accountID string, mutate port.LoginStateMutator) (*domain.Account, error) {
	key := r.accountKey(accountID)

	var result *domain.Account
	err := r.watch(ctx, func(tx *red.Tx) error {
		account, err := r.load(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := mutate(account); err != nil {
			if errors.Is(err, port.ErrNoChange) {
				result = account
				return nil
			}
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, encodeLoginState(*account))
			return nil
		})
		if err != nil {
			return err
		}
		result = account
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommitPasswordChange updates the hash and aging fields and appends history in one MULTI block.
func (r *AccountRepository) CommitPasswordChange(ctx context.Context, change domain.PasswordChange) error {
	key := r.accountKey(change.AccountID)
	historyKey := r.historyKey(change.AccountID)

	return r.watch(ctx, func(tx *red.Tx) error {
		current, err := tx.HGet(ctx, key, fieldPasswordHash).Result()
		if err != nil {
			if errors.Is(err, red.Nil) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("redis load password hash: %w", err)
		}
		if current != change.PreviousHash {
			return repository.ErrStalePassword
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				fieldPasswordHash:          change.NewHash,
				fieldPasswordChangedAt:     formatTime(&change.ChangedAt),
				fieldRequirePasswordChange: formatBool(false),
			})
			if change.SeedPrevious {
				pipe.RPush(ctx, historyKey, change.PreviousHash)
			}
			pipe.RPush(ctx, historyKey, change.NewHash)
			return nil
		})
		return err
	}, key, historyKey)
}

// watch runs fn in an optimistic transaction, retrying when a watched key changes.
func (r *AccountRepository) watch(ctx context.Context, fn func(tx *red.Tx) error, keys ...string) error {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrAlreadyExists) || errors.Is(err, repository.ErrStalePassword) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("redis transaction: %w", err)
	}
	return repository.ErrConflict
}

func encodeAccount(account domain.Account) map[string]any {
	values := encodeLoginState(account)
	values[fieldID] = account.ID
	values[fieldUsername] = account.Username
	values[fieldEmail] = account.Email
	values[fieldCreatedAt] = formatTime(&account.CreatedAt)
	return values
}

func encodeLoginState(account domain.Account) map[string]any {
	return map[string]any{
		fieldPasswordHash:          account.PasswordHash,
		fieldLoginAttempts:         strconv.Itoa(account.LoginAttempts),
		fieldLockedUntil:           formatTime(account.LockedUntil),
		fieldPasswordChangedAt:     formatTime(account.PasswordChangedAt),
		fieldRequirePasswordChange: formatBool(account.RequirePasswordChange),
	}
}

func decodeAccount(values map[string]string) (*domain.Account, error) {
	attempts, err := strconv.Atoi(values[fieldLoginAttempts])
	if err != nil {
		return nil, fmt.Errorf("parse login attempts: %w", err)
	}
	lockedUntil, err := parseTime(values[fieldLockedUntil])
	if err != nil {
		return nil, fmt.Errorf("parse locked until: %w", err)
	}
	changedAt, err := parseTime(values[fieldPasswordChangedAt])
	if err != nil {
		return nil, fmt.Errorf("parse password changed at: %w", err)
	}
	createdAt, err := parseTime(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created at: %w", err)
	}

	account := &domain.Account{
		ID:                    values[fieldID],
		Username:              values[fieldUsername],
		Email:                 values[fieldEmail],
		PasswordHash:          values[fieldPasswordHash],
		LoginAttempts:         attempts,
		LockedUntil:           lockedUntil,
		PasswordChangedAt:     changedAt,
		RequirePasswordChange: values[fieldRequirePasswordChange] == "1",
	}
	if createdAt != nil {
		account.CreatedAt = *createdAt
	}
	return account, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
