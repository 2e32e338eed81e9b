package campaign

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Settlement describes what one terminal transition did.
type Settlement struct {
	CampaignID    string
	Outcome       Outcome
	Status        groupbuy.CampaignStatus
	OrderIDs      []string // promoted on success, canceled otherwise
	UnitsReleased int
}

// Settle makes the terminal decision for an open campaign whose window is over.
// The caller must hold the campaign lock in tx and pass the campaign as locked.
func (e *Engine) Settle(ctx context.Context, tx store.Tx, c groupbuy.Campaign) (Settlement, error) {
	if !c.Status.Open() {
		return Settlement{}, groupbuy.Closed("settle", c.ID, c.Status)
	}
	if c.Current >= c.Target {
		if err := tx.SetCampaignStatus(ctx, c.ID, c.Status, groupbuy.CampaignSuccessful, nil); err != nil {
			return Settlement{}, err
		}
		c.Status = groupbuy.CampaignSuccessful
		return e.promote(ctx, tx, c, "quota met at deadline")
	}
	return e.compensate(ctx, tx, c, groupbuy.CampaignFailed, "deadline passed below target")
}

// promote moves this campaign's awaiting orders to successful. c already carries
// the successful status, written in the same tx.
func (e *Engine) promote(ctx context.Context, tx store.Tx, c groupbuy.Campaign, reason string) (Settlement, error) {
	ids, err := tx.PromoteAwaitingOrders(ctx, c.ID)
	if err != nil {
		return Settlement{}, fmt.Errorf("promote orders of %s: %w", c.ID, err)
	}
	if err := e.emitCampaign(ctx, tx, c, reason); err != nil {
		return Settlement{}, err
	}
	return Settlement{
		CampaignID: c.ID,
		Outcome:    OutcomeSucceeded,
		Status:     groupbuy.CampaignSuccessful,
		OrderIDs:   ids,
	}, nil
}

// compensate is the only path that returns reserved stock. Orders are first moved
// out of awaiting_group_success, conditionally; only the lines of orders this call
// actually moved are released, so a line can never be released twice.
func (e *Engine) compensate(ctx context.Context, tx store.Tx, c groupbuy.Campaign, to groupbuy.CampaignStatus, reason string) (Settlement, error) {
	if !groupbuy.CanTransitionCampaign(c.Status, to) {
		return Settlement{}, groupbuy.Closed("compensate", c.ID, c.Status)
	}

	awaiting, err := tx.AwaitingOrders(ctx, c.ID)
	if err != nil {
		return Settlement{}, fmt.Errorf("load awaiting orders of %s: %w", c.ID, err)
	}
	ids := make([]string, 0, len(awaiting))
	for _, o := range awaiting {
		ids = append(ids, o.ID)
	}
	moved, err := tx.CancelOrders(ctx, c.ID, ids)
	if err != nil {
		return Settlement{}, fmt.Errorf("cancel orders of %s: %w", c.ID, err)
	}
	canceled := make(map[string]bool, len(moved))
	for _, id := range moved {
		canceled[id] = true
	}

	released := 0
	for _, o := range awaiting {
		if !canceled[o.ID] {
			continue
		}
		for _, line := range o.Lines {
			if err := e.Ledger.Release(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return Settlement{}, fmt.Errorf("release order %s line %s: %w", o.ID, line.ID, err)
			}
			released += line.Quantity
		}
		if err := e.emit(ctx, tx, groupbuy.EventOrderCanceled, o.ID, groupbuy.OrderStatusPayload{
			OrderID:    o.ID,
			CampaignID: c.ID,
			UserID:     o.UserID,
			NewStatus:  groupbuy.OrderCanceled,
			TotalPrice: groupbuy.Money(o.TotalPrice),
		}); err != nil {
			return Settlement{}, err
		}
	}

	if err := tx.SetCampaignStatus(ctx, c.ID, c.Status, to, nil); err != nil {
		return Settlement{}, err
	}
	c.Status = to
	if err := e.emitCampaign(ctx, tx, c, reason); err != nil {
		return Settlement{}, err
	}

	outcome := OutcomeFailed
	if to == groupbuy.CampaignCanceled {
		outcome = OutcomeCanceled
	}
	e.Log.Debug("campaign compensated",
		zap.String("campaign_id", c.ID),
		zap.String("status", string(to)),
		zap.Int("orders_canceled", len(moved)),
		zap.Int("units_released", released))
	return Settlement{
		CampaignID:    c.ID,
		Outcome:       outcome,
		Status:        to,
		OrderIDs:      moved,
		UnitsReleased: released,
	}, nil
}

// Activate moves a locked pending campaign to active and announces it, so cached
// views and downstream consumers see the new status.
func (e *Engine) Activate(ctx context.Context, tx store.Tx, c groupbuy.Campaign, reason string) (groupbuy.Campaign, error) {
	if err := tx.SetCampaignStatus(ctx, c.ID, groupbuy.CampaignPending, groupbuy.CampaignActive, nil); err != nil {
		return groupbuy.Campaign{}, err
	}
	c.Status = groupbuy.CampaignActive
	if err := e.emitCampaign(ctx, tx, c, reason); err != nil {
		return groupbuy.Campaign{}, err
	}
	return c, nil
}

func (e *Engine) emitCampaign(ctx context.Context, tx store.Tx, c groupbuy.Campaign, reason string) error {
	return e.emit(ctx, tx, groupbuy.CampaignEventType(c.Status), c.ID, groupbuy.CampaignStatusPayload{
		CampaignID: c.ID,
		NewStatus:  c.Status,
		Current:    c.Current,
		Target:     c.Target,
		Reason:     reason,
	})
}

// emit appends an event to the outbox of tx; it is delivered only if tx commits.
func (e *Engine) emit(ctx context.Context, tx store.Tx, eventType, key string, payload any) error {
	ev, err := groupbuy.NewEvent(e.producer, eventType, key, payload, e.now())
	if err != nil {
		return err
	}
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
