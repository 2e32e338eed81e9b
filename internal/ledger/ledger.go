// Package ledger owns per-product stock counters.
//
// Reserve and Release only ever run inside a store.Tx and only touch stock through
// the conditional statements the Tx exposes, so concurrent reserves against one
// product serialise on its row and can never drive stock below zero. The ledger
// knows nothing about campaigns; callers guarantee at most one Release per reserved
// order line.
package ledger

import (
	"context"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"go.uber.org/zap"
)

// StockTx is the slice of store.Tx the ledger needs.
type StockTx interface {
	LockProduct(ctx context.Context, id string) (groupbuy.Product, error)
	ReserveStock(ctx context.Context, productID string, qty int) (remaining int, ok bool, err error)
	ReleaseStock(ctx context.Context, productID string, qty int) (stock int, err error)
}

var _ StockTx = store.Tx(nil)

type Ledger struct {
	Log *zap.Logger
}

func New(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{Log: log}
}

// Reservation describes a committed decrement. Low is set when this reserve took
// stock from at-or-above the product's warning threshold to below it.
type Reservation struct {
	Product   groupbuy.Product // as locked, before the decrement
	ProductID string
	Qty       int
	Remaining int
	Threshold int
	Low       bool
}

// Reserve takes qty units from the product's stock or fails with InsufficientStock
// carrying the currently available count. Nothing is written on failure.
func (l *Ledger) Reserve(ctx context.Context, tx StockTx, productID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, groupbuy.Invalid("reserve", "quantity must be positive, got %d", qty)
	}
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return Reservation{}, err
	}
	remaining, ok, err := tx.ReserveStock(ctx, productID, qty)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		l.Log.Debug("reserve rejected",
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
			zap.Int("available", remaining))
		return Reservation{}, groupbuy.InsufficientStock("reserve", productID, remaining)
	}
	before := remaining + qty
	return Reservation{
		Product:   p,
		ProductID: productID,
		Qty:       qty,
		Remaining: remaining,
		Threshold: p.WarningThreshold,
		Low:       before >= p.WarningThreshold && remaining < p.WarningThreshold,
	}, nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, tx StockTx, productID string, qty int) error {
	if qty <= 0 {
		return groupbuy.Invalid("release", "quantity must be positive, got %d", qty)
	}
	stock, err := tx.ReleaseStock(ctx, productID, qty)
	if err != nil {
		return err
	}
	l.Log.Debug("stock released",
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("stock", stock))
	return nil
}
