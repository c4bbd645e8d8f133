package domain

import "time"

// Account mirrors the persisted representation in the accounts table, limited to the
// fields the credential policies read and write.
type Account struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	LoginAttempts         int
	LockedUntil           *time.Time
	PasswordChangedAt     *time.Time
	RequirePasswordChange bool
	CreatedAt             time.Time
}

// Sanitized returns a copy of the account without the password hash.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	return a
}

// PasswordHistoryEntry is an append-only record of a password hash previously held by an account.
type PasswordHistoryEntry struct {
	ID           string
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}

// PasswordChange describes an accepted password rotation that the store must commit atomically.
type PasswordChange struct {
	AccountID string
	// PreviousHash is moved into history first when SeedPrevious is set.
	PreviousHash string
	NewHash      string
	SeedPrevious bool
	ChangedAt    time.Time
}
