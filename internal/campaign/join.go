package campaign

import (
	"context"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type JoinInput struct {
	CampaignID string
	UserID     string
	Quantity   int
	// ExternalID makes the join idempotent per user and campaign when set.
	ExternalID string
}

type JoinResult struct {
	OrderID        string
	TotalPrice     decimal.Decimal
	UnitPrice      decimal.Decimal
	CampaignStatus groupbuy.CampaignStatus
	Current        int
	Remaining      int
	Replayed       bool
}

// Join claims Quantity units of the campaign for the user. Everything happens in one
// transaction holding the campaign row and then the product row: on any failure no
// stock is reserved, no counter moves and no order exists.
func (e *Engine) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	if in.CampaignID == "" || in.UserID == "" {
		return JoinResult{}, groupbuy.Invalid("join", "campaign_id and user_id are required")
	}
	var res JoinResult
	err := e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = e.join(ctx, tx, in)
		return err
	})

	fields := []zap.Field{
		zap.String("campaign_id", in.CampaignID),
		zap.String("user_id", in.UserID),
		zap.Int("quantity", in.Quantity),
	}
	if err != nil {
		kind := groupbuy.KindOf(err)
		e.Metrics.Join(string(kind))
		if kind == groupbuy.KindInternal {
			e.Log.Error("join failed", append(fields, zap.Error(err))...)
		} else {
			e.Log.Info("join rejected", append(fields, zap.String("reason", string(kind)))...)
		}
		return JoinResult{}, err
	}
	if res.Replayed {
		e.Metrics.Join("replayed")
	} else {
		e.Metrics.Join("ok")
	}
	e.Log.Info("joined campaign", append(fields,
		zap.String("order_id", res.OrderID),
		zap.String("total_price", groupbuy.Money(res.TotalPrice)),
		zap.String("status", string(res.CampaignStatus)),
		zap.Bool("replayed", res.Replayed))...)
	return res, nil
}

func (e *Engine) join(ctx context.Context, tx store.Tx, in JoinInput) (JoinResult, error) {
	const op = "join"

	c, err := tx.LockCampaign(ctx, in.CampaignID)
	if err != nil {
		return JoinResult{}, err
	}

	if in.ExternalID != "" {
		prev, ok, err := tx.OrderByExternalID(ctx, c.ID, in.UserID, in.ExternalID)
		if err != nil {
			return JoinResult{}, err
		}
		if ok {
			return replayOf(c, prev), nil
		}
	}

	if !c.Status.Open() {
		return JoinResult{}, groupbuy.Closed(op, c.ID, c.Status)
	}
	remaining := c.Remaining()
	if in.Quantity <= 0 || in.Quantity > remaining {
		return JoinResult{}, groupbuy.CapacityExceeded(op, c.ID, remaining)
	}

	res, err := e.Ledger.Reserve(ctx, tx, c.ProductID, in.Quantity)
	if err != nil {
		return JoinResult{}, err
	}

	discount, _, err := tx.UserDiscount(ctx, in.UserID)
	if err != nil {
		return JoinResult{}, err
	}
	unit := groupbuy.UnitPrice(res.Product.Price, discount)
	total := groupbuy.LineTotal(unit, in.Quantity)

	now := e.now()
	order := groupbuy.Order{
		ID:            uuid.NewString(),
		ExternalID:    in.ExternalID,
		UserID:        in.UserID,
		CampaignID:    c.ID,
		TotalPrice:    total,
		Status:        groupbuy.OrderAwaitingGroup,
		PaymentStatus: groupbuy.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Lines = []groupbuy.OrderLine{{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		ProductID: c.ProductID,
		Quantity:  in.Quantity,
		UnitPrice: unit,
	}}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return JoinResult{}, err
	}

	next := store.Progress{Current: c.Current + in.Quantity, Status: c.Status}
	if next.Status == groupbuy.CampaignPending && !c.StartTime.After(now) {
		next.Status = groupbuy.CampaignActive
	}
	if next.Current == c.Target {
		next.Status = groupbuy.CampaignSuccessful
	}
	if err := tx.AdvanceCampaign(ctx, c.ID, store.Progress{Current: c.Current, Status: c.Status}, next); err != nil {
		return JoinResult{}, err
	}
	wasPending := c.Status == groupbuy.CampaignPending
	c.Current, c.Status = next.Current, next.Status

	if wasPending && c.Status == groupbuy.CampaignActive {
		if err := e.emitCampaign(ctx, tx, c, "start time reached"); err != nil {
			return JoinResult{}, err
		}
	}

	if c.Status == groupbuy.CampaignSuccessful {
		if _, err := e.promote(ctx, tx, c, "target reached"); err != nil {
			return JoinResult{}, err
		}
	}
	if res.Low {
		if err := e.emit(ctx, tx, groupbuy.EventStockLow, c.ProductID, groupbuy.StockLowPayload{
			ProductID: c.ProductID,
			Stock:     res.Remaining,
			Threshold: res.Threshold,
		}); err != nil {
			return JoinResult{}, err
		}
	}

	return JoinResult{
		OrderID:        order.ID,
		TotalPrice:     total,
		UnitPrice:      unit,
		CampaignStatus: c.Status,
		Current:        c.Current,
		Remaining:      c.Remaining(),
	}, nil
}

func replayOf(c groupbuy.Campaign, o groupbuy.Order) JoinResult {
	r := JoinResult{
		OrderID:        o.ID,
		TotalPrice:     o.TotalPrice,
		CampaignStatus: c.Status,
		Current:        c.Current,
		Remaining:      c.Remaining(),
		Replayed:       true,
	}
	if len(o.Lines) > 0 {
		r.UnitPrice = o.Lines[0].UnitPrice
	}
	return r
}
