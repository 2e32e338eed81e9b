// Package notify consumes domain events and hands them to a notification sink.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	kafkax "github.com/ariefcatur/go-groupbuy/internal/kafka"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink delivers one event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, env groupbuy.Envelope) error
}

// Cache is the subset of *redisx.Cache the service needs.
type Cache interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Service struct {
	Cache       Cache
	Sink        Sink
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	ServiceName string
}

func NewService(cache Cache, sink Sink, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Cache: cache, Sink: sink, Log: log, Metrics: m, ServiceName: "notifier"}
}

// Handle is installed as the consumer handler. Returning an error leaves the offset
// uncommitted so the event is redelivered.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope; a poison message is logged and skipped
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		s.Log.Error("dropping undecodable event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		s.Metrics.Notified("unknown", "invalid")
		return nil
	}

	// 2) dedup by event_id
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Cache != nil {
		seen, err := s.Cache.Exists(ctx, dkey)
		if err != nil {
			s.Log.Warn("dedup lookup failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
		if seen {
			s.Metrics.Notified(env.EventType, "duplicate")
			return nil
		}
	}

	// 3) campaign events make the cached view stale
	if groupbuy.TopicFor(env.EventType) == groupbuy.TopicCampaign {
		p, err := kafkax.UnwrapPayload[groupbuy.CampaignStatusPayload](env.Payload)
		if err != nil {
			s.Log.Warn("campaign payload undecodable", zap.String("event_id", env.EventID), zap.Error(err))
		} else {
			s.invalidate(ctx, p.CampaignID)
		}
	}

	// 4) deliver
	if err := s.Sink.Deliver(ctx, env); err != nil {
		s.Metrics.Notified(env.EventType, "error")
		return fmt.Errorf("deliver %s %s: %w", env.EventType, env.EventID, err)
	}
	s.Metrics.Notified(env.EventType, "delivered")

	// mark only after delivery, so a failed attempt is retried
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, dkey, []byte("1"), redisx.TTLDedup); err != nil {
			s.Log.Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, campaignID string) {
	if s.Cache == nil || campaignID == "" {
		return
	}
	if err := s.Cache.Del(ctx, fmt.Sprintf(redisx.KeyCampaignView, campaignID)); err != nil {
		s.Log.Warn("campaign cache invalidate failed", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}
