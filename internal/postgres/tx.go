package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type tx struct {
	q querier
}

var _ store.Tx = (*tx)(nil)

func (t *tx) LockCampaign(ctx context.Context, id string) (groupbuy.Campaign, error) {
	c, err := scanCampaign(t.q.QueryRow(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id=$1 FOR UPDATE`, id))
	return c, mapErr("lock campaign", id, err)
}

func (t *tx) LockProduct(ctx context.Context, id string) (groupbuy.Product, error) {
	p, err := scanProduct(t.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id))
	return p, mapErr("lock product", id, err)
}

func (t *tx) LockOrder(ctx context.Context, id string) (groupbuy.Order, error) {
	o, err := getOrder(ctx, t.q, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id)
	return o, mapErr("lock order", id, err)
}

// ReserveStock decrements only when enough stock is left. When it is not, the current
// stock is returned with ok=false.
func (t *tx) ReserveStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	var remaining int
	err := t.q.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, mapErr("reserve stock", productID, err)
	}
	var stock int
	if err := t.q.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock); err != nil {
		return 0, false, mapErr("reserve stock", productID, err)
	}
	return stock, false, nil
}

func (t *tx) ReleaseStock(ctx context.Context, productID string, qty int) (int, error) {
	var stock int
	err := t.q.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock`, productID, qty).Scan(&stock)
	return stock, mapErr("release stock", productID, err)
}

func (t *tx) InsertCampaign(ctx context.Context, c groupbuy.Campaign) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO campaigns(id, product_id, leader_id, target_participants, current_participants,
		                      start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.ProductID, c.LeaderID, c.Target, c.Current,
		c.StartTime, c.EndTime, c.Status, c.CreatedAt, c.UpdatedAt)
	return mapErr("insert campaign", c.ID, err)
}

// AdvanceCampaign writes counter and status together, only from the values the caller
// read under lock. No matching row means a torn concurrent write.
func (t *tx) AdvanceCampaign(ctx context.Context, id string, from, to store.Progress) error {
	if from.Status != to.Status && !groupbuy.CanTransitionCampaign(from.Status, to.Status) {
		return groupbuy.Invalid("advance campaign", "campaign %s cannot move from %s to %s", id, from.Status, to.Status)
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE campaigns
		SET current_participants = $4, status = $5, updated_at = now()
		WHERE id = $1 AND current_participants = $2 AND status = $3`,
		id, from.Current, from.Status, to.Current, to.Status)
	if err != nil {
		return mapErr("advance campaign", id, err)
	}
	if ct.RowsAffected() != 1 {
		return groupbuy.Busy("advance campaign", fmt.Errorf("campaign %s no longer at %d/%s", id, from.Current, from.Status))
	}
	return nil
}

func (t *tx) SetCampaignStatus(ctx context.Context, id string, from, to groupbuy.CampaignStatus, startTime *time.Time) error {
	if !groupbuy.CanTransitionCampaign(from, to) {
		return groupbuy.Invalid("set campaign status", "campaign %s cannot move from %s to %s", id, from, to)
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE campaigns
		SET status = $3, start_time = COALESCE($4::timestamptz, start_time), updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to, startTime)
	if err != nil {
		return mapErr("set campaign status", id, err)
	}
	if ct.RowsAffected() != 1 {
		return groupbuy.Busy("set campaign status", fmt.Errorf("campaign %s is no longer %s", id, from))
	}
	return nil
}

func (t *tx) UserDiscount(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	var pct decimal.Decimal
	err := t.q.QueryRow(ctx, `
		SELECT mt.discount_percentage
		FROM users u JOIN membership_tiers mt ON mt.id = u.tier_id
		WHERE u.id = $1`, userID).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, mapErr("user discount", userID, err)
	}
	return pct, true, nil
}

func (t *tx) OrderByExternalID(ctx context.Context, campaignID, userID, externalID string) (groupbuy.Order, bool, error) {
	o, err := getOrder(ctx, t.q, `
		SELECT `+orderCols+` FROM orders
		WHERE campaign_id = $1 AND user_id = $2 AND external_id = $3`, campaignID, userID, externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return groupbuy.Order{}, false, nil
	}
	if err != nil {
		return groupbuy.Order{}, false, mapErr("order by external id", externalID, err)
	}
	return o, true, nil
}

func (t *tx) InsertOrder(ctx context.Context, o groupbuy.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, campaign_id, total_price, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.ExternalID, o.UserID, o.CampaignID, o.TotalPrice, o.Status, o.PaymentStatus, o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		// a concurrent join with the same external id committed first
		return groupbuy.Busy("insert order", err)
	}
	if err != nil {
		return mapErr("insert order", o.ID, err)
	}
	for _, l := range o.Lines {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`, l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			return mapErr("insert order line", l.ID, err)
		}
	}
	return nil
}

func (t *tx) PromoteAwaitingOrders(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := t.q.Query(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE campaign_id = $1 AND status = $3
		RETURNING id`, campaignID, groupbuy.OrderSuccessful, groupbuy.OrderAwaitingGroup)
	if err != nil {
		return nil, mapErr("promote orders", campaignID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapErr("promote orders", campaignID, err)
}

func (t *tx) AwaitingOrders(ctx context.Context, campaignID string) ([]groupbuy.Order, error) {
	out, err := queryOrders(ctx, t.q, `
		SELECT `+orderCols+` FROM orders
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at, id
		FOR UPDATE`, campaignID, groupbuy.OrderAwaitingGroup)
	return out, mapErr("awaiting orders", campaignID, err)
}

// CancelOrders only matches orders still awaiting, and returns the ids it moved.
func (t *tx) CancelOrders(ctx context.Context, campaignID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE campaign_id = $1 AND id = ANY($2) AND status = $4
		RETURNING id`, campaignID, ids, groupbuy.OrderCanceled, groupbuy.OrderAwaitingGroup)
	if err != nil {
		return nil, mapErr("cancel orders", campaignID, err)
	}
	moved, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return moved, mapErr("cancel orders", campaignID, err)
}

func (t *tx) SetOrderStatus(ctx context.Context, id string, from, to groupbuy.OrderStatus) error {
	if !groupbuy.CanTransitionOrder(from, to) {
		return groupbuy.Invalid("set order status", "order %s cannot move from %s to %s", id, from, to)
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return mapErr("set order status", id, err)
	}
	if ct.RowsAffected() != 1 {
		return groupbuy.Busy("set order status", fmt.Errorf("order %s is no longer %s", id, from))
	}
	return nil
}

func (t *tx) SetPaymentStatus(ctx context.Context, id string, to groupbuy.PaymentStatus) error {
	ct, err := t.q.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, id, to)
	if err != nil {
		return mapErr("set payment status", id, err)
	}
	if ct.RowsAffected() != 1 {
		return groupbuy.NotFound("set payment status", id)
	}
	return nil
}

func (t *tx) AddLoyalty(ctx context.Context, userID string, points int) (int, error) {
	var total int
	err := t.q.QueryRow(ctx, `
		INSERT INTO users(id, loyalty_points) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET loyalty_points = users.loyalty_points + EXCLUDED.loyalty_points
		RETURNING loyalty_points`, userID, points).Scan(&total)
	return total, mapErr("add loyalty", userID, err)
}

func (t *tx) BestTierFor(ctx context.Context, points int) (groupbuy.MembershipTier, bool, error) {
	var mt groupbuy.MembershipTier
	err := t.q.QueryRow(ctx, `
		SELECT id, name, discount_percentage, points_required
		FROM membership_tiers WHERE points_required <= $1
		ORDER BY points_required DESC, id LIMIT 1`, points).
		Scan(&mt.ID, &mt.Name, &mt.DiscountPercentage, &mt.PointsRequired)
	if errors.Is(err, pgx.ErrNoRows) {
		return groupbuy.MembershipTier{}, false, nil
	}
	if err != nil {
		return groupbuy.MembershipTier{}, false, mapErr("best tier", "", err)
	}
	return mt, true, nil
}

func (t *tx) SetUserTier(ctx context.Context, userID, tierID string) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO users(id, tier_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET tier_id = EXCLUDED.tier_id`, userID, tierID)
	return mapErr("set user tier", userID, err)
}

func (t *tx) InsertCommission(ctx context.Context, e groupbuy.CommissionEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO commissions(order_id, leader_id, campaign_id, rate, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING`,
		e.OrderID, e.LeaderID, e.CampaignID, e.Rate, e.Amount, e.CreatedAt)
	return mapErr("insert commission", e.OrderID, err)
}

func (t *tx) AppendOutbox(ctx context.Context, ev groupbuy.OutboxEvent) error {
	b, err := json.Marshal(ev.Envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO outbox(event_id, topic, key, envelope) VALUES ($1, $2, $3, $4)`,
		ev.Envelope.EventID, ev.Topic, ev.Key, b)
	return mapErr("append outbox", ev.Envelope.EventID, err)
}
