// Package postgres is the production store.Store. Every mutation runs inside InTx,
// which bounds lock waits with SET LOCAL lock_timeout; rows are locked with
// SELECT ... FOR UPDATE and counters move only through conditional updates.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Store{DB: pool, LockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn store.TxFunc) error {
	pgtx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr("begin", "", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	timeout := fmt.Sprintf("%dms", s.LockTimeout.Milliseconds())
	if _, err := pgtx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return mapErr("set lock timeout", "", err)
	}

	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapErr("commit", "", err)
	}
	return nil
}

const (
	productCols  = `id, name, stock, price, warning_threshold, created_at, updated_at`
	campaignCols = `id, product_id, leader_id, target_participants, current_participants, start_time, end_time, status, created_at, updated_at`
	orderCols    = `id, external_id, user_id, campaign_id, total_price, status, payment_status, created_at, updated_at`
)

func scanProduct(row pgx.Row) (groupbuy.Product, error) {
	var p groupbuy.Product
	err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.WarningThreshold, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanCampaign(row pgx.Row) (groupbuy.Campaign, error) {
	var c groupbuy.Campaign
	err := row.Scan(&c.ID, &c.ProductID, &c.LeaderID, &c.Target, &c.Current,
		&c.StartTime, &c.EndTime, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanOrder(row pgx.Row) (groupbuy.Order, error) {
	var o groupbuy.Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.CampaignID, &o.TotalPrice,
		&o.Status, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]groupbuy.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []groupbuy.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, attachLines(ctx, q, out)
}

// attachLines fills Lines for every order with one query.
func attachLines(ctx context.Context, q querier, orders []groupbuy.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	pos := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		pos[o.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l groupbuy.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return err
		}
		i := pos[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return rows.Err()
}

func getOrder(ctx context.Context, q querier, sql string, args ...any) (groupbuy.Order, error) {
	orders, err := queryOrders(ctx, q, sql, args...)
	if err != nil {
		return groupbuy.Order{}, err
	}
	if len(orders) == 0 {
		return groupbuy.Order{}, pgx.ErrNoRows
	}
	return orders[0], nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (groupbuy.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	return p, mapErr("get product", id, err)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (groupbuy.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id=$1`, id))
	return c, mapErr("get campaign", id, err)
}

func (s *Store) GetOrder(ctx context.Context, id string) (groupbuy.Order, error) {
	o, err := getOrder(ctx, s.DB, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
	return o, mapErr("get order", id, err)
}

func (s *Store) ListCampaignOrders(ctx context.Context, campaignID string) ([]groupbuy.Order, error) {
	out, err := queryOrders(ctx, s.DB, `SELECT `+orderCols+` FROM orders WHERE campaign_id=$1 ORDER BY created_at, id`, campaignID)
	return out, mapErr("list campaign orders", campaignID, err)
}

func (s *Store) LeaderCommission(ctx context.Context, leaderID string) (decimal.Decimal, int, error) {
	var sum decimal.Decimal
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM commissions WHERE leader_id=$1`, leaderID).Scan(&sum, &n)
	if err != nil {
		return decimal.Zero, 0, mapErr("leader commission", leaderID, err)
	}
	return sum, n, nil
}

func (s *Store) CampaignsDueForActivation(ctx context.Context, now time.Time) ([]string, error) {
	return s.ids(ctx, `
		SELECT id FROM campaigns
		WHERE status='pending' AND start_time <= $1
		ORDER BY end_time, id`, now)
}

func (s *Store) CampaignsDueForFinalization(ctx context.Context, now time.Time) ([]string, error) {
	return s.ids(ctx, `
		SELECT id FROM campaigns
		WHERE status IN ('pending','active') AND end_time <= $1
		ORDER BY end_time, id`, now)
}

func (s *Store) ids(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr("list campaigns", "", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapErr("list campaigns", "", err)
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]groupbuy.OutboxEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, topic, key, envelope FROM outbox
		WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr("pending outbox", "", err)
	}
	defer rows.Close()

	var out []groupbuy.OutboxEvent
	for rows.Next() {
		var ev groupbuy.OutboxEvent
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Key, &raw); err != nil {
			return nil, mapErr("pending outbox", "", err)
		}
		if err := json.Unmarshal(raw, &ev.Envelope); err != nil {
			return nil, fmt.Errorf("decode outbox %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, mapErr("pending outbox", "", rows.Err())
}

func (s *Store) MarkOutboxSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id = ANY($1) AND sent_at IS NULL`, ids)
	return mapErr("mark outbox sent", "", err)
}

func (s *Store) CreateProduct(ctx context.Context, p groupbuy.Product) (groupbuy.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, stock, price, warning_threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+productCols, p.ID, p.Name, p.Stock, p.Price, p.WarningThreshold)
	out, err := scanProduct(row)
	if isUniqueViolation(err) {
		return groupbuy.Product{}, groupbuy.Invalid("create product", "product %s already exists", p.ID)
	}
	return out, mapErr("create product", p.ID, err)
}

func (s *Store) UpsertUser(ctx context.Context, u groupbuy.User) error {
	var tier *string
	if u.TierID != "" {
		tier = &u.TierID
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO users(id, loyalty_points, tier_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET loyalty_points=EXCLUDED.loyalty_points, tier_id=EXCLUDED.tier_id`,
		u.ID, u.LoyaltyPoints, tier)
	return mapErr("upsert user", u.ID, err)
}

func (s *Store) CreateTier(ctx context.Context, t groupbuy.MembershipTier) (groupbuy.MembershipTier, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO membership_tiers(id, name, discount_percentage, points_required)
		VALUES ($1, $2, $3, $4)`, t.ID, t.Name, t.DiscountPercentage, t.PointsRequired)
	if err != nil {
		return groupbuy.MembershipTier{}, mapErr("create tier", t.ID, err)
	}
	return t, nil
}

// Ping backs the api readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.DB.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
