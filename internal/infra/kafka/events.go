package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types; the producer prefixes them with the configured topic prefix.
const (
	EventAccountLocked   = "account.locked"
	EventAccountUnlocked = "account.unlocked"
	EventPasswordChanged = "account.password.changed"
)

// EventPublisher implements port.EventPublisher using Kafka. Messages are keyed by account
// id so per-account events stay ordered within a partition.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

var _ port.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(accountID),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAccountLocked publishes account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		AccountID     string         `json:"account_id"`
		LoginAttempts int            `json:"login_attempts"`
		LockedAt      time.Time      `json:"locked_at"`
		LockedUntil   time.Time      `json:"locked_until"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:     event.AccountID,
		LoginAttempts: event.LoginAttempts,
		LockedAt:      event.LockedAt.UTC(),
		LockedUntil:   event.LockedUntil.UTC(),
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventAccountLocked, event.AccountID, event.LockedAt, payload)
}

// PublishAccountUnlocked publishes account.unlocked events.
func (p *EventPublisher) PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error {
	payload := struct {
		AccountID  string         `json:"account_id"`
		UnlockedAt time.Time      `json:"unlocked_at"`
		UnlockedBy string         `json:"unlocked_by,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:  event.AccountID,
		UnlockedAt: event.UnlockedAt.UTC(),
		UnlockedBy: event.UnlockedBy,
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventAccountUnlocked, event.AccountID, event.UnlockedAt, payload)
}

// PublishPasswordChanged publishes account.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		AccountID       string         `json:"account_id"`
		ChangedAt       time.Time      `json:"changed_at"`
		ForcedChange    bool           `json:"forced_change"`
		HistoryAppended int            `json:"history_appended"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:       event.AccountID,
		ChangedAt:       event.ChangedAt.UTC(),
		ForcedChange:    event.ForcedChange,
		HistoryAppended: event.HistoryAppended,
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.AccountID, event.ChangedAt, payload)
}
