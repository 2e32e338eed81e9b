// Package campaign is the group-buy engine: it owns campaign participant counts and
// status, runs joins against the inventory ledger inside one transaction, and holds
// the single compensation path shared by failed campaigns and admin cancellation.
//
// Lock order everywhere in this package is campaign, then product, then order rows.
// The lifecycle scheduler goes through Settle and so follows the same order.
package campaign

import (
	"context"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/ledger"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCommissionRate is the leader's share of a completed order.
var DefaultCommissionRate = decimal.RequireFromString("0.10")

type Config struct {
	Producer       string // event envelope producer
	CommissionRate decimal.Decimal
}

type Engine struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	producer       string
	commissionRate decimal.Decimal
}

func New(s store.Store, l *ledger.Ledger, log *zap.Logger, m *metrics.Metrics, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if l == nil {
		l = ledger.New(log)
	}
	if cfg.Producer == "" {
		cfg.Producer = "groupbuy"
	}
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = DefaultCommissionRate
	}
	return &Engine{
		Store:          s,
		Ledger:         l,
		Log:            log,
		Metrics:        m,
		Now:            func() time.Time { return time.Now().UTC() },
		producer:       cfg.Producer,
		commissionRate: cfg.CommissionRate,
	}
}

func (e *Engine) now() time.Time { return e.Now().UTC() }

type CreateInput struct {
	LeaderID  string
	ProductID string
	Target    int
	Start     time.Time
	End       time.Time
}

// Create opens a campaign. It starts active when its start time has already passed.
func (e *Engine) Create(ctx context.Context, in CreateInput) (groupbuy.Campaign, error) {
	const op = "create campaign"
	now := e.now()
	switch {
	case in.LeaderID == "" || in.ProductID == "":
		return groupbuy.Campaign{}, groupbuy.Invalid(op, "leader_id and product_id are required")
	case in.Target <= 0:
		return groupbuy.Campaign{}, groupbuy.Invalid(op, "target must be positive, got %d", in.Target)
	case !in.End.After(in.Start):
		return groupbuy.Campaign{}, groupbuy.Invalid(op, "end time must be after start time")
	case !in.End.After(now):
		return groupbuy.Campaign{}, groupbuy.Invalid(op, "end time already passed")
	}

	c := groupbuy.Campaign{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		LeaderID:  in.LeaderID,
		Target:    in.Target,
		StartTime: in.Start.UTC(),
		EndTime:   in.End.UTC(),
		Status:    groupbuy.CampaignPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !c.StartTime.After(now) {
		c.Status = groupbuy.CampaignActive
	}

	err := e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.Stock < in.Target {
			return groupbuy.InsufficientStock(op, p.ID, p.Stock)
		}
		return tx.InsertCampaign(ctx, c)
	})
	if err != nil {
		return groupbuy.Campaign{}, err
	}
	e.Log.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("product_id", c.ProductID),
		zap.String("leader_id", c.LeaderID),
		zap.Int("target", c.Target),
		zap.String("status", string(c.Status)))
	return c, nil
}

// Start lets the campaign's leader open a pending campaign early.
func (e *Engine) Start(ctx context.Context, campaignID, leaderID string) (groupbuy.Campaign, error) {
	const op = "start campaign"
	var out groupbuy.Campaign
	err := e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if c.LeaderID != leaderID {
			return groupbuy.NotFound(op, campaignID)
		}
		if c.Status != groupbuy.CampaignPending {
			return groupbuy.Closed(op, campaignID, c.Status)
		}
		now := e.now()
		if !c.EndTime.After(now) {
			return groupbuy.Closed(op, campaignID, c.Status)
		}
		var start *time.Time
		if c.StartTime.After(now) {
			start = &now
			c.StartTime = now
		}
		if err := tx.SetCampaignStatus(ctx, c.ID, groupbuy.CampaignPending, groupbuy.CampaignActive, start); err != nil {
			return err
		}
		c.Status = groupbuy.CampaignActive
		out = c
		return e.emitCampaign(ctx, tx, c, "started by leader")
	})
	if err != nil {
		return groupbuy.Campaign{}, err
	}
	e.Log.Info("campaign started by leader", zap.String("campaign_id", campaignID), zap.String("leader_id", leaderID))
	return out, nil
}

// Cancel force-cancels an open campaign through the shared compensation path.
func (e *Engine) Cancel(ctx context.Context, campaignID, reason string) (Settlement, error) {
	var out Settlement
	err := e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if !c.Status.Open() {
			return groupbuy.Closed("cancel campaign", campaignID, c.Status)
		}
		out, err = e.compensate(ctx, tx, c, groupbuy.CampaignCanceled, reason)
		return err
	})
	if err != nil {
		return Settlement{}, err
	}
	e.Log.Info("campaign canceled",
		zap.String("campaign_id", campaignID),
		zap.String("reason", reason),
		zap.Int("orders_canceled", len(out.OrderIDs)),
		zap.Int("units_released", out.UnitsReleased))
	return out, nil
}

func (e *Engine) Campaign(ctx context.Context, id string) (groupbuy.Campaign, error) {
	return e.Store.GetCampaign(ctx, id)
}

func (e *Engine) CampaignOrders(ctx context.Context, id string) ([]groupbuy.Order, error) {
	if _, err := e.Store.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.ListCampaignOrders(ctx, id)
}

func (e *Engine) Order(ctx context.Context, id string) (groupbuy.Order, error) {
	return e.Store.GetOrder(ctx, id)
}

func (e *Engine) Product(ctx context.Context, id string) (groupbuy.Product, error) {
	return e.Store.GetProduct(ctx, id)
}

// CreateProduct seeds a product; afterwards stock only moves through the ledger.
func (e *Engine) CreateProduct(ctx context.Context, p groupbuy.Product) (groupbuy.Product, error) {
	const op = "create product"
	if p.Name == "" {
		return groupbuy.Product{}, groupbuy.Invalid(op, "name is required")
	}
	if p.Stock < 0 || p.Price.IsNegative() || p.WarningThreshold < 0 {
		return groupbuy.Product{}, groupbuy.Invalid(op, "stock, price and warning threshold must not be negative")
	}
	p.Price = p.Price.Round(groupbuy.MinorUnitPlaces)
	return e.Store.CreateProduct(ctx, p)
}
