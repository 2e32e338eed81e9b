package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/memstore"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	got  []kafka.Message
	fail func(msgs []kafka.Message) error
}

func (f *fakePublisher) Send(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(msgs); err != nil {
			var werr kafka.WriteErrors
			if errors.As(err, &werr) {
				for i, m := range msgs {
					if werr[i] == nil {
						f.got = append(f.got, m)
					}
				}
			}
			return err
		}
	}
	f.got = append(f.got, msgs...)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func seed(t *testing.T, s *memstore.Store, n int) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < n; i++ {
			ev, err := groupbuy.NewEvent("test", groupbuy.EventOrderCanceled, "order-1",
				groupbuy.OrderStatusPayload{OrderID: "order-1", NewStatus: groupbuy.OrderCanceled}, time.Now())
			if err != nil {
				return err
			}
			if err := tx.AppendOutbox(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}))
}

func pending(t *testing.T, s *memstore.Store) int {
	t.Helper()
	evs, err := s.PendingOutbox(context.Background(), 1000)
	require.NoError(t, err)
	return len(evs)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks sent", func(t *testing.T) {
		s := memstore.New()
		seed(t, s, 3)
		pub := &fakePublisher{}
		r := NewRelay(s, pub, nil, nil, 10)

		n, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 0, pending(t, s))
		require.Equal(t, 3, pub.count())
		assert.Equal(t, groupbuy.TopicOrder, pub.got[0].Topic)

		n, err = r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("broker failure keeps rows pending", func(t *testing.T) {
		s := memstore.New()
		seed(t, s, 2)
		pub := &fakePublisher{fail: func([]kafka.Message) error { return errors.New("broker down") }}
		r := NewRelay(s, pub, nil, nil, 10)

		_, err := r.RunOnce(ctx)
		require.Error(t, err)
		assert.Equal(t, 2, pending(t, s))

		pub.fail = nil
		n, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("partial failure marks only acknowledged rows", func(t *testing.T) {
		s := memstore.New()
		seed(t, s, 3)
		pub := &fakePublisher{fail: func(msgs []kafka.Message) error {
			werr := make(kafka.WriteErrors, len(msgs))
			werr[1] = errors.New("leader not available")
			return werr
		}}
		r := NewRelay(s, pub, nil, nil, 10)

		n, err := r.RunOnce(ctx)
		require.Error(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, pending(t, s))
	})

	t.Run("undecodable envelope is retired, not retried", func(t *testing.T) {
		s := memstore.New()
		seed(t, s, 1)
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.AppendOutbox(ctx, groupbuy.OutboxEvent{
				Topic: groupbuy.TopicOrder,
				Key:   "order-2",
				Envelope: groupbuy.Envelope{
					EventID:   "ev-broken",
					EventType: groupbuy.EventOrderCanceled,
					Payload:   json.RawMessage(`{"order_id":`),
				},
			})
		}))
		pub := &fakePublisher{}
		r := NewRelay(s, pub, nil, nil, 10)

		n, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, pub.count())
		assert.Equal(t, 0, pending(t, s))

		n, err = r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("batch limits one round", func(t *testing.T) {
		s := memstore.New()
		seed(t, s, 5)
		r := NewRelay(s, &fakePublisher{}, nil, nil, 2)

		n, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 3, pending(t, s))
	})
}

func TestRunDrains(t *testing.T) {
	s := memstore.New()
	seed(t, s, 7)
	pub := &fakePublisher{}
	r := NewRelay(s, pub, nil, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Hour) }()

	assert.Eventually(t, func() bool { return pub.count() == 7 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, pending(t, s))
}
