package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "credpol"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "credential-policy",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, asyncProducer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-asyncProducer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatalf("expected message to be published")
	}
	return nil, nil
}

func TestPublishAccountLocked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	lockedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	event := domain.AccountLockedEvent{
		EventID:       "event-123",
		AccountID:     "acc-1",
		LoginAttempts: 5,
		LockedAt:      lockedAt,
		LockedUntil:   lockedAt.Add(time.Hour),
		Metadata:      map[string]any{"ip": "10.0.*.*"},
	}

	if err := publisher.PublishAccountLocked(context.Background(), event); err != nil {
		t.Fatalf("PublishAccountLocked returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "credpol.account.locked" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != "acc-1" {
		t.Fatalf("expected message keyed by account id, got %q err=%v", key, err)
	}
	if got := envelope["event_id"]; got != "event-123" {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["event_type"]; got != EventAccountLocked {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["timestamp"]; got != lockedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing: %v", envelope)
	}
	if got := payload["login_attempts"]; got != float64(5) {
		t.Fatalf("unexpected login_attempts: %v", got)
	}
	if got := payload["locked_until"]; got != lockedAt.Add(time.Hour).Format(time.RFC3339Nano) {
		t.Fatalf("unexpected locked_until: %v", got)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok || metadata["service"] != "credential-policy" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", envelope["metadata"])
	}
}

func TestPublishPasswordChanged(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	changedAt := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := publisher.PublishPasswordChanged(context.Background(), domain.PasswordChangedEvent{
		AccountID:       "acc-1",
		ChangedAt:       changedAt,
		ForcedChange:    true,
		HistoryAppended: 2,
	}); err != nil {
		t.Fatalf("PublishPasswordChanged returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "credpol.account.password.changed" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatalf("expected generated event id")
	}
	payload := envelope["payload"].(map[string]any)
	if payload["forced_change"] != true || payload["history_appended"] != float64(2) {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishAccountUnlocked_RespectsContext(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishAccountUnlocked(ctx, domain.AccountUnlockedEvent{AccountID: "acc-1", UnlockedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected context error when the producer is saturated")
	}
}

func TestTopicName(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "credpol"}}

	if got := producer.TopicName("account.locked"); got != "credpol.account.locked" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := producer.TopicName("credpol.account.locked"); got != "credpol.account.locked" {
		t.Fatalf("prefix must not be applied twice, got %s", got)
	}

	producer.cfg.TopicPrefix = ""
	if got := producer.TopicName("account.locked"); got != "account.locked" {
		t.Fatalf("unexpected topic %s", got)
	}
}

func TestStubPublisher(t *testing.T) {
	stub := NewStubPublisher(zaptest.NewLogger(t))
	ctx := context.Background()

	if err := stub.PublishAccountLocked(ctx, domain.AccountLockedEvent{AccountID: "acc-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stub.PublishAccountUnlocked(ctx, domain.AccountUnlockedEvent{AccountID: "acc-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stub.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{AccountID: "acc-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
