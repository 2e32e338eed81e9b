package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/shopspring/decimal"
)

// tx mutates the live state; Store.InTx holds the lock and owns rollback.
type tx struct{ st *state }

var _ store.Tx = (*tx)(nil)

func (t *tx) LockCampaign(_ context.Context, id string) (groupbuy.Campaign, error) {
	c, ok := t.st.campaigns[id]
	if !ok {
		return groupbuy.Campaign{}, groupbuy.NotFound("lock campaign", id)
	}
	return c, nil
}

func (t *tx) LockProduct(_ context.Context, id string) (groupbuy.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return groupbuy.Product{}, groupbuy.NotFound("lock product", id)
	}
	return p, nil
}

func (t *tx) LockOrder(_ context.Context, id string) (groupbuy.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return groupbuy.Order{}, groupbuy.NotFound("lock order", id)
	}
	return copyOrder(o), nil
}

func (t *tx) ReserveStock(_ context.Context, productID string, qty int) (int, bool, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, false, groupbuy.NotFound("reserve stock", productID)
	}
	if p.Stock < qty {
		return p.Stock, false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = p
	return p.Stock, true, nil
}

func (t *tx) ReleaseStock(_ context.Context, productID string, qty int) (int, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, groupbuy.NotFound("release stock", productID)
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = p
	return p.Stock, nil
}

func (t *tx) InsertCampaign(_ context.Context, c groupbuy.Campaign) error {
	if _, dup := t.st.campaigns[c.ID]; dup {
		return fmt.Errorf("insert campaign %s: duplicate id", c.ID)
	}
	t.st.campaigns[c.ID] = c
	return nil
}

func (t *tx) AdvanceCampaign(_ context.Context, id string, from, to store.Progress) error {
	if from.Status != to.Status && !groupbuy.CanTransitionCampaign(from.Status, to.Status) {
		return groupbuy.Invalid("advance campaign", "campaign %s cannot move from %s to %s", id, from.Status, to.Status)
	}
	c, ok := t.st.campaigns[id]
	if !ok {
		return groupbuy.NotFound("advance campaign", id)
	}
	if c.Current != from.Current || c.Status != from.Status {
		return groupbuy.Busy("advance campaign", fmt.Errorf("campaign %s moved to %d/%s", id, c.Current, c.Status))
	}
	c.Current, c.Status = to.Current, to.Status
	c.UpdatedAt = time.Now().UTC()
	t.st.campaigns[id] = c
	return nil
}

func (t *tx) SetCampaignStatus(_ context.Context, id string, from, to groupbuy.CampaignStatus, startTime *time.Time) error {
	if !groupbuy.CanTransitionCampaign(from, to) {
		return groupbuy.Invalid("set campaign status", "campaign %s cannot move from %s to %s", id, from, to)
	}
	c, ok := t.st.campaigns[id]
	if !ok {
		return groupbuy.NotFound("set campaign status", id)
	}
	if c.Status != from {
		return groupbuy.Busy("set campaign status", fmt.Errorf("campaign %s is %s, want %s", id, c.Status, from))
	}
	c.Status = to
	if startTime != nil {
		c.StartTime = *startTime
	}
	c.UpdatedAt = time.Now().UTC()
	t.st.campaigns[id] = c
	return nil
}

func (t *tx) UserDiscount(_ context.Context, userID string) (decimal.Decimal, bool, error) {
	u, ok := t.st.users[userID]
	if !ok || u.TierID == "" {
		return decimal.Zero, false, nil
	}
	tier, ok := t.st.tiers[u.TierID]
	if !ok {
		return decimal.Zero, false, nil
	}
	return tier.DiscountPercentage, true, nil
}

func (t *tx) OrderByExternalID(_ context.Context, campaignID, userID, externalID string) (groupbuy.Order, bool, error) {
	for _, id := range t.st.orderIndex {
		o := t.st.orders[id]
		if o.ExternalID == externalID && o.CampaignID == campaignID && o.UserID == userID {
			return copyOrder(o), true, nil
		}
	}
	return groupbuy.Order{}, false, nil
}

func (t *tx) InsertOrder(_ context.Context, o groupbuy.Order) error {
	if _, dup := t.st.orders[o.ID]; dup {
		return fmt.Errorf("insert order %s: duplicate id", o.ID)
	}
	t.st.orders[o.ID] = copyOrder(o)
	t.st.orderIndex = append(t.st.orderIndex, o.ID)
	return nil
}

func (t *tx) PromoteAwaitingOrders(_ context.Context, campaignID string) ([]string, error) {
	var moved []string
	now := time.Now().UTC()
	for _, id := range t.st.orderIndex {
		o := t.st.orders[id]
		if o.CampaignID != campaignID || o.Status != groupbuy.OrderAwaitingGroup {
			continue
		}
		o.Status = groupbuy.OrderSuccessful
		o.UpdatedAt = now
		t.st.orders[id] = o
		moved = append(moved, id)
	}
	return moved, nil
}

func (t *tx) AwaitingOrders(_ context.Context, campaignID string) ([]groupbuy.Order, error) {
	var out []groupbuy.Order
	for _, id := range t.st.orderIndex {
		if o := t.st.orders[id]; o.CampaignID == campaignID && o.Status == groupbuy.OrderAwaitingGroup {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (t *tx) CancelOrders(_ context.Context, campaignID string, ids []string) ([]string, error) {
	var moved []string
	now := time.Now().UTC()
	for _, id := range ids {
		o, ok := t.st.orders[id]
		if !ok || o.CampaignID != campaignID || o.Status != groupbuy.OrderAwaitingGroup {
			continue
		}
		o.Status = groupbuy.OrderCanceled
		o.UpdatedAt = now
		t.st.orders[id] = o
		moved = append(moved, id)
	}
	return moved, nil
}

func (t *tx) SetOrderStatus(_ context.Context, id string, from, to groupbuy.OrderStatus) error {
	if !groupbuy.CanTransitionOrder(from, to) {
		return groupbuy.Invalid("set order status", "order %s cannot move from %s to %s", id, from, to)
	}
	o, ok := t.st.orders[id]
	if !ok {
		return groupbuy.NotFound("set order status", id)
	}
	if o.Status != from {
		return groupbuy.Busy("set order status", fmt.Errorf("order %s is %s, want %s", id, o.Status, from))
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	t.st.orders[id] = o
	return nil
}

func (t *tx) SetPaymentStatus(_ context.Context, id string, to groupbuy.PaymentStatus) error {
	o, ok := t.st.orders[id]
	if !ok {
		return groupbuy.NotFound("set payment status", id)
	}
	o.PaymentStatus = to
	o.UpdatedAt = time.Now().UTC()
	t.st.orders[id] = o
	return nil
}

func (t *tx) AddLoyalty(_ context.Context, userID string, points int) (int, error) {
	u, ok := t.st.users[userID]
	if !ok {
		u = groupbuy.User{ID: userID}
	}
	u.LoyaltyPoints += points
	t.st.users[userID] = u
	return u.LoyaltyPoints, nil
}

func (t *tx) BestTierFor(_ context.Context, points int) (groupbuy.MembershipTier, bool, error) {
	var best groupbuy.MembershipTier
	found := false
	for _, tier := range t.st.tiers {
		if tier.PointsRequired > points {
			continue
		}
		if !found || tier.PointsRequired > best.PointsRequired {
			best, found = tier, true
		}
	}
	return best, found, nil
}

func (t *tx) SetUserTier(_ context.Context, userID, tierID string) error {
	u, ok := t.st.users[userID]
	if !ok {
		u = groupbuy.User{ID: userID}
	}
	u.TierID = tierID
	t.st.users[userID] = u
	return nil
}

func (t *tx) InsertCommission(_ context.Context, e groupbuy.CommissionEntry) error {
	if _, dup := t.st.commissions[e.OrderID]; dup {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.st.commissions[e.OrderID] = e
	return nil
}

func (t *tx) AppendOutbox(_ context.Context, ev groupbuy.OutboxEvent) error {
	t.st.outboxSeq++
	ev.ID = t.st.outboxSeq
	t.st.outbox = append(t.st.outbox, outboxRow{ev: ev})
	return nil
}
