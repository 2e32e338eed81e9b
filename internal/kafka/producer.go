package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes to any topic; each message carries its own Topic.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
		},
	}
}

// Send writes synchronously. On partial failure the error is a kafka.WriteErrors
// aligned with msgs.
func (p *Producer) Send(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		var werr kafka.WriteErrors
		if errors.As(err, &werr) {
			return werr
		}
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
