package events

import (
	"context"
	"encoding/json"
	"fmt"

	"bank-service/internal/config"
)

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher sends committed transactions and security events to their
// topics, keyed by account number.
type KafkaPublisher struct {
	producer          MessageProducer
	transactionsTopic string
	securityTopic     string
}

var _ Sink = (*KafkaPublisher)(nil)

func NewKafkaPublisher(p MessageProducer, cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		producer:          p,
		transactionsTopic: cfg.TransactionsTopic,
		securityTopic:     cfg.SecurityTopic,
	}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Handle(ctx context.Context, ev Event) error {
	var topic string
	switch ev.Kind {
	case KindTransaction:
		topic = k.transactionsTopic
	case KindSecurity:
		topic = k.securityTopic
	default:
		return nil
	}
	if topic == "" {
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ev.Kind, err)
	}
	headers := map[string]string{
		"event_kind":  string(ev.Kind),
		"occurred_at": ev.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	return k.producer.ProduceMessage(ctx, topic, []byte(ev.AccountNo), value, headers)
}
