package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

// EventMessage turns an outbox row into the message the relay writes. Topic and key
// come from the row, so one writer serves every topic.
func EventMessage(ev groupbuy.OutboxEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev.Envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope %s: %w", ev.Envelope.EventID, err)
	}
	return kafka.Message{
		Topic: ev.Topic,
		Key:   groupbuy.PartitionKey(ev.Key),
		Value: b,
		Time:  ev.Envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(ev.Envelope.EventType)},
			{Key: headerEventID, Value: []byte(ev.Envelope.EventID)},
		},
	}, nil
}

func DecodeEnvelope(m kafka.Message) (groupbuy.Envelope, error) {
	var env groupbuy.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope at %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return env, fmt.Errorf("envelope at %s/%d@%d: missing event_id or event_type", m.Topic, m.Partition, m.Offset)
	}
	return env, nil
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
