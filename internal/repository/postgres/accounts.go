package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/repository"
)

const (
	accountsTable = "credpol.accounts"
	historyTable  = "credpol.password_history"

	uniqueViolation = "23505"
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

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgDB is satisfied by *pgxpool.Pool and by pgxmock pools.
type pgDB interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db      pgDB
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository constructs a repository backed by any pool that satisfies pgDB.
func NewAccountRepository(db pgDB) *AccountRepository {
	return &AccountRepository{
		db:      db,
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// NewAccountRepositoryFromPool wires the repository to a pgx pool.
func NewAccountRepositoryFromPool(pool *pgxpool.Pool) *AccountRepository {
	return NewAccountRepository(pool)
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		db:      r.db,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Username,
			account.Email,
			account.PasswordHash,
			account.LoginAttempts,
			account.LockedUntil,
			account.PasswordChangedAt,
			account.RequirePasswordChange,
			account.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by primary key.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, false)
}

// GetByIdentifier retrieves an account by username or email.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Or{
		squirrel.Eq{"username": identifier},
		squirrel.Expr("lower(email) = lower(?)", identifier),
	}, false)
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer, forUpdate bool) (*domain.Account, error) {
	query := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1)
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var account domain.Account
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.LoginAttempts,
		&account.LockedUntil,
		&account.PasswordChangedAt,
		&account.RequirePasswordChange,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

// Save overwrites the mutable policy fields of an account.
func (r *AccountRepository) Save(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("password_hash", account.PasswordHash).
		Set("login_attempts", account.LoginAttempts).
		Set("locked_until", account.LockedUntil).
		Set("password_changed_at", account.PasswordChangedAt).
		Set("require_password_change", account.RequirePasswordChange).
		Where(squirrel.Eq{"id": account.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendHistory records a password hash in the account's history.
func (r *AccountRepository) AppendHistory(ctx context.Context, accountID string, passwordHash string) error {
	stmt, args, err := r.builder.Insert(historyTable).
		Columns("account_id", "password_hash").
		Values(accountID, passwordHash).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password history sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
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
		From(historyTable).
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password history sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
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
		From(historyTable).
		Where(squirrel.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count password history sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count password history: %w", err)
	}
	return count, nil
}

// UpdateLoginState locks the account row with SELECT ... FOR UPDATE, applies mutate and
// writes the result back before committing.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, accountID string, mutate port.LoginStateMutator) (*domain.Account, error) {
	var result *domain.Account
	err := r.inTx(ctx, func(txRepo *AccountRepository) error {
		account, err := txRepo.getOne(ctx, squirrel.Eq{"id": accountID}, true)
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
		stmt, args, err := txRepo.builder.Update(accountsTable).
			Set("password_hash", change.NewHash).
			Set("password_changed_at", change.ChangedAt).
			Set("require_password_change", false).
			Where(squirrel.Eq{"id": change.AccountID}).
			Where(squirrel.Eq{"password_hash": change.PreviousHash}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update password sql: %w", err)
		}
		tag, err := txRepo.exec.Exec(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := txRepo.getOne(ctx, squirrel.Eq{"id": change.AccountID}, false); err != nil {
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
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.WithTx(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
