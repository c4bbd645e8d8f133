package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/repository"
)

var accountColumns = []string{
	"id",
	"username",
	"email",
	"password_hash",
	"login_attempts",
	"locked_until",
	"password_changed_at",
	"require_password_change",
	"created_at",
}

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AccountRepository implements port.AccountRepository on an embedded SQLite database.
// The database must be opened with _txlock=immediate so read-modify-write transactions
// hold the write lock from their first statement.
type AccountRepository struct {
	db      *sql.DB
	exec    sqlExecutor
	builder squirrel.StatementBuilderType
}

var _ port.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository constructs a SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{
		db:      db,
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (r *AccountRepository) withTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{db: r.db, exec: tx, builder: r.builder}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert("accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Username,
			account.Email,
			account.PasswordHash,
			account.LoginAttempts,
			nullTime(account.LockedUntil),
			nullTime(account.PasswordChangedAt),
			account.RequirePasswordChange,
			account.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.ExecContext(ctx, stmt, args...); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by primary key.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByIdentifier retrieves an account by username or email. Email comparison is case
// insensitive through the column collation.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Or{
		squirrel.Eq{"username": identifier},
		squirrel.Eq{"email": identifier},
	})
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("accounts").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var (
		account           domain.Account
		lockedUntil       sql.NullTime
		passwordChangedAt sql.NullTime
	)
	if err := r.exec.QueryRowContext(ctx, stmt, args...).Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.LoginAttempts,
		&lockedUntil,
		&passwordChangedAt,
		&account.RequirePasswordChange,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	account.LockedUntil = timePtr(lockedUntil)
	account.PasswordChangedAt = timePtr(passwordChangedAt)
	return &account, nil
}

// Save overwrites the mutable policy fields of an account.
func (r *AccountRepository) Save(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Update("accounts").
		Set("password_hash", account.PasswordHash).
		Set("login_attempts", account.LoginAttempts).
		Set("locked_until", nullTime(account.LockedUntil)).
		Set("password_changed_at", nullTime(account.PasswordChangedAt)).
		Set("require_password_change", account.RequirePasswordChange).
		Where(squirrel.Eq{"id": account.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	res, err := r.exec.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendHistory records a password hash in the account's history.
func (r *AccountRepository) AppendHistory(ctx context.Context, accountID string, passwordHash string) error {
	stmt, args, err := r.builder.Insert("password_history").
		Columns("account_id", "password_hash").
		Values(accountID, passwordHash).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password history sql: %w", err)
	}
	if _, err := r.exec.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}
	return nil
}

// ListRecentHistory returns up to limit hashes, newest first.
func (r *AccountRepository) ListRecentHistory(ctx context.Context, accountID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	stmt, args, err := r.builder.
		Select("password_hash").
		From("password_history").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password history sql: %w", err)
	}

	rows, err := r.exec.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	hashes := make([]string, 0, limit)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password history: %w", err)
	}
	return hashes, nil
}

// CountHistory returns the number of stored history entries.
func (r *AccountRepository) CountHistory(ctx context.Context, accountID string) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("password_history").
		Where(squirrel.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count password history sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count password history: %w", err)
	}
	return count, nil
}

// UpdateLoginState applies mutate inside an immediate write transaction.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, accountID string, mutate port.LoginStateMutator) (*domain.Account, error) {
	var result *domain.Account
	err := r.inTx(ctx, func(txRepo *AccountRepository) error {
		account, err := txRepo.GetByID(ctx, accountID)
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
		if err := txRepo.Save(ctx, *account); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommitPasswordChange stores the new hash, appends history and resets the aging and
// forced-change fields in one transaction. The update only applies while the stored hash
// is still PreviousHash.
func (r *AccountRepository) CommitPasswordChange(ctx context.Context, change domain.PasswordChange) error {
	return r.inTx(ctx, func(txRepo *AccountRepository) error {
		stmt, args, err := txRepo.builder.Update("accounts").
			Set("password_hash", change.NewHash).
			Set("password_changed_at", change.ChangedAt.UTC()).
			Set("require_password_change", false).
			Where(squirrel.Eq{"id": change.AccountID}).
			Where(squirrel.Eq{"password_hash": change.PreviousHash}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update password sql: %w", err)
		}
		res, err := txRepo.exec.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update password rows affected: %w", err)
		} else if affected == 0 {
			if _, err := txRepo.GetByID(ctx, change.AccountID); err != nil {
				return err
			}
			return repository.ErrStalePassword
		}

		if change.SeedPrevious {
			if err := txRepo.AppendHistory(ctx, change.AccountID, change.PreviousHash); err != nil {
				return err
			}
		}
		return txRepo.AppendHistory(ctx, change.AccountID, change.NewHash)
	})
}

func (r *AccountRepository) inTx(ctx context.Context, fn func(txRepo *AccountRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite transaction: %w", err)
	}
	if err := fn(r.withTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
