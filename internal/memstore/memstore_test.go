package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectWritesAreVisible(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, err := s.CreateProduct(ctx, groupbuy.Product{Name: "salak", Stock: 3, Price: decimal.NewFromInt(5)})
	require.NoError(t, err)
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	require.NoError(t, s.UpsertUser(ctx, groupbuy.User{ID: "u1", LoyaltyPoints: 7}))
	u, ok, err := s.User(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, u.LoyaltyPoints)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"e1", "e2"} {
			if err := tx.AppendOutbox(ctx, groupbuy.OutboxEvent{Topic: groupbuy.TopicOrder, Envelope: groupbuy.Envelope{EventID: id}}); err != nil {
				return err
			}
		}
		return nil
	}))
	pending, err := s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkOutboxSent(ctx, []int64{pending[0].ID}))
	pending, err = s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].Envelope.EventID)
}

func TestFailedTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	p, err := s.CreateProduct(ctx, groupbuy.Product{Name: "salak", Stock: 3, Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := tx.ReserveStock(ctx, p.ID, 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestLockWaitTimesOutAsBusy(t *testing.T) {
	ctx := context.Background()
	s := New(WithLockTimeout(10 * time.Millisecond))

	held, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(context.Context, store.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := s.CreateProduct(ctx, groupbuy.Product{Name: "late"})
	assert.True(t, errors.Is(err, groupbuy.ErrBusy))
}
