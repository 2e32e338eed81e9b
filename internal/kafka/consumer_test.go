package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.committed))
	for _, m := range f.committed {
		out = append(out, m.Offset)
	}
	return out
}

func msgs(partition int, offsets ...int64) []kafka.Message {
	out := make([]kafka.Message, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, kafka.Message{Topic: "groupbuy.order", Partition: partition, Offset: o})
	}
	return out
}

func startConsumer(t *testing.T, c *Consumer, h Handler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestConsumerRetriesFailedMessageBeforeLaterOffsets(t *testing.T) {
	r := &fakeReader{queue: msgs(0, 5, 6, 7)}
	c := newConsumer(r, 4, nil)
	c.retryBase = time.Millisecond

	var mu sync.Mutex
	var calls []int64
	failures := 2
	stop := startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, m.Offset)
		if m.Offset == 5 && failures > 0 {
			failures--
			return errors.New("webhook down")
		}
		return nil
	})

	assert.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []int64{5, 6, 7}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{5, 5, 5, 6, 7}, calls)
}

func TestConsumerLeavesFailingMessageUncommittedOnShutdown(t *testing.T) {
	r := &fakeReader{queue: msgs(0, 1, 2)}
	c := newConsumer(r, 2, nil)
	c.retryBase = time.Millisecond

	var mu sync.Mutex
	attempts := map[int64]int{}
	stop := startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 1 {
			return errors.New("still down")
		}
		return nil
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts[1] >= 3
	}, time.Second, time.Millisecond)
	stop()

	assert.Empty(t, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, attempts[2])
}

func TestConsumerPartitionsProgressIndependently(t *testing.T) {
	r := &fakeReader{queue: append(msgs(0, 10), msgs(1, 20, 21)...)}
	c := newConsumer(r, 2, nil)
	c.retryBase = time.Millisecond

	stop := startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Partition == 0 {
			return errors.New("blocked")
		}
		return nil
	})

	assert.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, time.Millisecond)
	stop()
	assert.Equal(t, []int64{20, 21}, r.commits())
}
