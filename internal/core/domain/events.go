package domain

import "time"

// AccountLockedEvent represents the payload for credpol.account.locked messages.
type AccountLockedEvent struct {
	EventID       string
	AccountID     string
	LoginAttempts int
	LockedAt      time.Time
	LockedUntil   time.Time
	Metadata      map[string]any
}

// AccountUnlockedEvent represents the payload for credpol.account.unlocked messages.
type AccountUnlockedEvent struct {
	EventID    string
	AccountID  string
	UnlockedAt time.Time
	UnlockedBy string
	Metadata   map[string]any
}

// PasswordChangedEvent represents the payload for credpol.account.password.changed messages.
type PasswordChangedEvent struct {
	EventID         string
	AccountID       string
	ChangedAt       time.Time
	ForcedChange    bool
	HistoryAppended int
	Metadata        map[string]any
}
