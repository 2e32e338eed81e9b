// Package outbox delivers events that core transactions appended to the outbox.
// Rows are marked sent only after the broker acknowledged them; anything else stays
// pending for the next round, so delivery is at-least-once and consumers dedup by
// event_id.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	gbkafka "github.com/ariefcatur/go-groupbuy/internal/kafka"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Send(ctx context.Context, msgs ...kafka.Message) error
}

// Source is the slice of store.Store the relay needs.
type Source interface {
	PendingOutbox(ctx context.Context, limit int) ([]groupbuy.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, ids []int64) error
}

var _ Source = store.Store(nil)

type Relay struct {
	Source  Source
	Pub     Publisher
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Batch   int
}

func NewRelay(src Source, pub Publisher, log *zap.Logger, m *metrics.Metrics, batch int) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{Source: src, Pub: pub, Log: log, Metrics: m, Batch: batch}
}

// RunOnce publishes one batch and returns how many rows it retired: the ones the
// broker acknowledged plus the ones that could not be encoded at all.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.Source.PendingOutbox(ctx, r.Batch)
	if err != nil {
		return 0, fmt.Errorf("load pending outbox: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]int64, 0, len(events))
	var dropped []int64
	for _, ev := range events {
		m, err := gbkafka.EventMessage(ev)
		if err != nil {
			// an envelope that cannot be encoded never will be; retire the row
			r.Log.Error("dropping undeliverable event", zap.Int64("outbox_id", ev.ID), zap.Error(err))
			dropped = append(dropped, ev.ID)
			continue
		}
		msgs = append(msgs, m)
		ids = append(ids, ev.ID)
	}

	sent := ids
	var pubErr error
	if len(msgs) > 0 {
		pubErr = r.Pub.Send(ctx, msgs...)
	}
	if pubErr != nil {
		sent = nil
		var werr kafka.WriteErrors
		if errors.As(pubErr, &werr) && len(werr) == len(ids) {
			for i, e := range werr {
				if e == nil {
					sent = append(sent, ids[i])
				}
			}
		}
		r.Metrics.Published("error", len(ids)-len(sent))
		r.Log.Warn("outbox publish failed",
			zap.Int("batch", len(ids)),
			zap.Int("delivered", len(sent)),
			zap.Error(pubErr))
	}

	done := append(append([]int64(nil), sent...), dropped...)
	if len(done) == 0 {
		return 0, pubErr
	}
	if err := r.Source.MarkOutboxSent(ctx, done); err != nil {
		// already on the broker; they will be published again and deduped downstream
		return 0, fmt.Errorf("mark %d outbox rows sent: %w", len(done), err)
	}
	r.Metrics.Published("ok", len(sent))
	r.Metrics.Published("dropped", len(dropped))
	return len(done), pubErr
}

// Run drains the outbox on every tick until ctx is done. A full batch is followed
// immediately by another round.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("relay interval must be positive, got %s", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.Log.Warn("relay round failed", zap.Error(err))
			}
			if err != nil || n < r.Batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
