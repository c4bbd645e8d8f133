package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

var _ port.EventPublisher = (*StubPublisher)(nil)

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("Stub event published", append(base, fields...)...)
}

// PublishAccountLocked logs account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(EventAccountLocked, event.AccountID, event.LockedAt,
		zap.Int("login_attempts", event.LoginAttempts),
		zap.Time("locked_until", event.LockedUntil),
	)
	return nil
}

// PublishAccountUnlocked logs account.unlocked events.
func (p *StubPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.logEvent(EventAccountUnlocked, event.AccountID, event.UnlockedAt, zap.String("unlocked_by", event.UnlockedBy))
	return nil
}

// PublishPasswordChanged logs account.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.AccountID, event.ChangedAt,
		zap.Bool("forced_change", event.ForcedChange),
		zap.Int("history_appended", event.HistoryAppended),
	)
	return nil
}
