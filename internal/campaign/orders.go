package campaign

import (
	"context"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarkPaid records payment for an order. An order already waiting on payment
// completes in the same transaction.
func (e *Engine) MarkPaid(ctx context.Context, orderID string) (groupbuy.Order, error) {
	const op = "mark paid"
	return e.withOrder(ctx, orderID, func(ctx context.Context, tx store.Tx, c groupbuy.Campaign, o groupbuy.Order) (groupbuy.Order, error) {
		if o.Status == groupbuy.OrderCanceled {
			return o, groupbuy.Invalid(op, "order %s is canceled", o.ID)
		}
		if o.PaymentStatus == groupbuy.PaymentPaid {
			return o, groupbuy.Invalid(op, "order %s is already paid", o.ID)
		}
		if err := tx.SetPaymentStatus(ctx, o.ID, groupbuy.PaymentPaid); err != nil {
			return o, err
		}
		o.PaymentStatus = groupbuy.PaymentPaid
		if o.Status == groupbuy.OrderPendingPayment {
			return e.complete(ctx, tx, c, o)
		}
		return o, nil
	})
}

// MarkReadyForPickup is the leader announcing that goods have arrived.
func (e *Engine) MarkReadyForPickup(ctx context.Context, orderID, leaderID string) (groupbuy.Order, error) {
	const op = "mark ready"
	return e.withOrder(ctx, orderID, func(ctx context.Context, tx store.Tx, c groupbuy.Campaign, o groupbuy.Order) (groupbuy.Order, error) {
		if c.LeaderID != leaderID {
			return o, groupbuy.NotFound(op, orderID)
		}
		if o.Status != groupbuy.OrderSuccessful {
			return o, groupbuy.Invalid(op, "order %s is %s", o.ID, o.Status)
		}
		if err := tx.SetOrderStatus(ctx, o.ID, o.Status, groupbuy.OrderReadyForPickup); err != nil {
			return o, err
		}
		o.Status = groupbuy.OrderReadyForPickup
		return o, nil
	})
}

// ConfirmPickup completes a paid order or parks an unpaid one in pending_payment.
func (e *Engine) ConfirmPickup(ctx context.Context, orderID, leaderID string) (groupbuy.Order, error) {
	const op = "confirm pickup"
	return e.withOrder(ctx, orderID, func(ctx context.Context, tx store.Tx, c groupbuy.Campaign, o groupbuy.Order) (groupbuy.Order, error) {
		if c.LeaderID != leaderID {
			return o, groupbuy.NotFound(op, orderID)
		}
		switch o.Status {
		case groupbuy.OrderSuccessful, groupbuy.OrderReadyForPickup, groupbuy.OrderPendingPayment:
		default:
			return o, groupbuy.Invalid(op, "order %s is %s", o.ID, o.Status)
		}
		if o.PaymentStatus == groupbuy.PaymentPaid {
			return e.complete(ctx, tx, c, o)
		}
		if o.Status == groupbuy.OrderPendingPayment {
			return o, nil
		}
		if err := tx.SetOrderStatus(ctx, o.ID, o.Status, groupbuy.OrderPendingPayment); err != nil {
			return o, err
		}
		o.Status = groupbuy.OrderPendingPayment
		return o, nil
	})
}

// withOrder locks the order's campaign before the order itself, keeping the
// package-wide lock order. campaign_id never changes, so reading it unlocked is safe.
func (e *Engine) withOrder(ctx context.Context, orderID string, fn func(context.Context, store.Tx, groupbuy.Campaign, groupbuy.Order) (groupbuy.Order, error)) (groupbuy.Order, error) {
	pre, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return groupbuy.Order{}, err
	}
	var out groupbuy.Order
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockCampaign(ctx, pre.CampaignID)
		if err != nil {
			return err
		}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out, err = fn(ctx, tx, c, o)
		return err
	})
	if err != nil {
		return groupbuy.Order{}, err
	}
	return out, nil
}

// complete settles an order: loyalty points, tier upgrade and the leader's
// commission entry are written in the same tx as the status change.
func (e *Engine) complete(ctx context.Context, tx store.Tx, c groupbuy.Campaign, o groupbuy.Order) (groupbuy.Order, error) {
	if err := tx.SetOrderStatus(ctx, o.ID, o.Status, groupbuy.OrderCompleted); err != nil {
		return o, err
	}
	o.Status = groupbuy.OrderCompleted

	points, err := tx.AddLoyalty(ctx, o.UserID, groupbuy.LoyaltyPoints(o.TotalPrice))
	if err != nil {
		return o, err
	}
	tier, ok, err := tx.BestTierFor(ctx, points)
	if err != nil {
		return o, err
	}
	if ok {
		if err := tx.SetUserTier(ctx, o.UserID, tier.ID); err != nil {
			return o, err
		}
	}

	entry := groupbuy.CommissionEntry{
		OrderID:    o.ID,
		LeaderID:   c.LeaderID,
		CampaignID: c.ID,
		Rate:       e.commissionRate,
		Amount:     groupbuy.Commission(o.TotalPrice, e.commissionRate),
		CreatedAt:  e.now(),
	}
	if err := tx.InsertCommission(ctx, entry); err != nil {
		return o, err
	}

	if err := e.emit(ctx, tx, groupbuy.EventOrderCompleted, o.ID, groupbuy.OrderStatusPayload{
		OrderID:    o.ID,
		CampaignID: c.ID,
		UserID:     o.UserID,
		NewStatus:  groupbuy.OrderCompleted,
		TotalPrice: groupbuy.Money(o.TotalPrice),
	}); err != nil {
		return o, err
	}
	e.Log.Info("order completed",
		zap.String("order_id", o.ID),
		zap.String("campaign_id", c.ID),
		zap.String("commission", groupbuy.Money(entry.Amount)),
		zap.Int("loyalty_points", points))
	return o, nil
}

type CommissionSummary struct {
	LeaderID string
	Rate     decimal.Decimal
	Total    decimal.Decimal
	Orders   int
}

// Commission sums the leader's maintained commission entries.
func (e *Engine) Commission(ctx context.Context, leaderID string) (CommissionSummary, error) {
	total, n, err := e.Store.LeaderCommission(ctx, leaderID)
	if err != nil {
		return CommissionSummary{}, err
	}
	return CommissionSummary{LeaderID: leaderID, Rate: e.commissionRate, Total: total, Orders: n}, nil
}
