package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/memstore"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, stock, threshold int) (*memstore.Store, string) {
	t.Helper()
	s := memstore.New()
	p, err := s.CreateProduct(context.Background(), groupbuy.Product{
		Name:             "rice 5kg",
		Stock:            stock,
		Price:            decimal.RequireFromString("9.90"),
		WarningThreshold: threshold,
	})
	require.NoError(t, err)
	return s, p.ID
}

func stockOf(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	l := New(nil)

	t.Run("decrements stock", func(t *testing.T) {
		s, pid := seed(t, 10, 2)
		var res Reservation
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = l.Reserve(ctx, tx, pid, 3)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 7, res.Remaining)
		assert.False(t, res.Low)
		assert.Equal(t, 7, stockOf(t, s, pid))
	})

	t.Run("insufficient stock reports available and writes nothing", func(t *testing.T) {
		s, pid := seed(t, 2, 0)
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := l.Reserve(ctx, tx, pid, 3)
			return err
		})
		require.True(t, errors.Is(err, groupbuy.ErrInsufficientStock))
		ge, ok := groupbuy.AsError(err)
		require.True(t, ok)
		assert.Equal(t, 2, ge.Available)
		assert.Equal(t, 2, stockOf(t, s, pid))
	})

	t.Run("unknown product", func(t *testing.T) {
		s, _ := seed(t, 2, 0)
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := l.Reserve(ctx, tx, "missing", 1)
			return err
		})
		assert.Equal(t, groupbuy.KindNotFound, groupbuy.KindOf(err))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		s, pid := seed(t, 2, 0)
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := l.Reserve(ctx, tx, pid, 0)
			return err
		})
		assert.Equal(t, groupbuy.KindInvalid, groupbuy.KindOf(err))
	})

	t.Run("flags the threshold crossing once", func(t *testing.T) {
		s, pid := seed(t, 6, 5)
		var first, second Reservation
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			if first, err = l.Reserve(ctx, tx, pid, 2); err != nil {
				return err
			}
			second, err = l.Reserve(ctx, tx, pid, 1)
			return err
		}))
		assert.True(t, first.Low)
		assert.Equal(t, 4, first.Remaining)
		assert.False(t, second.Low)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	s, pid := seed(t, 1, 0)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return l.Release(ctx, tx, pid, 4)
	}))
	assert.Equal(t, 5, stockOf(t, s, pid))

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return l.Release(ctx, tx, pid, -1)
	})
	assert.Equal(t, groupbuy.KindInvalid, groupbuy.KindOf(err))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	s, pid := seed(t, 25, 0)

	var wg sync.WaitGroup
	var reserved atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := l.Reserve(ctx, tx, pid, qty)
				return err
			})
			if err == nil {
				reserved.Add(int64(qty))
				return
			}
			assert.True(t, errors.Is(err, groupbuy.ErrInsufficientStock), "unexpected error: %v", err)
		}(i%3 + 1)
	}
	wg.Wait()

	assert.LessOrEqual(t, reserved.Load(), int64(25))
	assert.Equal(t, 25-int(reserved.Load()), stockOf(t, s, pid))
}
