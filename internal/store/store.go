// Package store defines the persistence contract of the group-buy core.
//
// Every mutation of stock, campaign counters or order status happens inside a Tx
// obtained from Store.InTx. Implementations must give row-level exclusion for
// LockCampaign, LockProduct and LockOrder, bound every lock wait by a timeout that
// surfaces as a groupbuy Busy error, and roll the whole unit back when fn fails.
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/shopspring/decimal"
)

type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	// InTx runs fn as one atomic unit: commit on nil, rollback otherwise.
	InTx(ctx context.Context, fn TxFunc) error

	GetProduct(ctx context.Context, id string) (groupbuy.Product, error)
	GetCampaign(ctx context.Context, id string) (groupbuy.Campaign, error)
	GetOrder(ctx context.Context, id string) (groupbuy.Order, error)
	ListCampaignOrders(ctx context.Context, campaignID string) ([]groupbuy.Order, error)
	LeaderCommission(ctx context.Context, leaderID string) (decimal.Decimal, int, error)

	// Sweep selectors return ids only; the sweeps re-check under lock.
	CampaignsDueForActivation(ctx context.Context, now time.Time) ([]string, error)
	CampaignsDueForFinalization(ctx context.Context, now time.Time) ([]string, error)

	PendingOutbox(ctx context.Context, limit int) ([]groupbuy.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, ids []int64) error

	CreateProduct(ctx context.Context, p groupbuy.Product) (groupbuy.Product, error)
	UpsertUser(ctx context.Context, u groupbuy.User) error
	CreateTier(ctx context.Context, t groupbuy.MembershipTier) (groupbuy.MembershipTier, error)
}

// Tx is the set of statements the core issues inside one atomic unit.
// Conditional writers report a Busy error when their precondition no longer matches,
// since that only happens if a concurrent writer bypassed the row lock.
type Tx interface {
	LockCampaign(ctx context.Context, id string) (groupbuy.Campaign, error)
	LockProduct(ctx context.Context, id string) (groupbuy.Product, error)
	LockOrder(ctx context.Context, id string) (groupbuy.Order, error)

	// ReserveStock decrements only if stock >= qty. ok=false leaves stock untouched
	// and returns the current stock as remaining.
	ReserveStock(ctx context.Context, productID string, qty int) (remaining int, ok bool, err error)
	ReleaseStock(ctx context.Context, productID string, qty int) (stock int, err error)

	InsertCampaign(ctx context.Context, c groupbuy.Campaign) error
	AdvanceCampaign(ctx context.Context, id string, from, to Progress) error
	SetCampaignStatus(ctx context.Context, id string, from, to groupbuy.CampaignStatus, startTime *time.Time) error

	UserDiscount(ctx context.Context, userID string) (decimal.Decimal, bool, error)
	OrderByExternalID(ctx context.Context, campaignID, userID, externalID string) (groupbuy.Order, bool, error)
	InsertOrder(ctx context.Context, o groupbuy.Order) error

	// PromoteAwaitingOrders moves this campaign's awaiting orders to successful.
	PromoteAwaitingOrders(ctx context.Context, campaignID string) ([]string, error)
	// AwaitingOrders locks this campaign's awaiting orders together with their lines.
	AwaitingOrders(ctx context.Context, campaignID string) ([]groupbuy.Order, error)
	// CancelOrders cancels those of ids still awaiting and returns the ones it moved.
	CancelOrders(ctx context.Context, campaignID string, ids []string) ([]string, error)

	SetOrderStatus(ctx context.Context, id string, from, to groupbuy.OrderStatus) error
	SetPaymentStatus(ctx context.Context, id string, to groupbuy.PaymentStatus) error

	AddLoyalty(ctx context.Context, userID string, points int) (total int, err error)
	BestTierFor(ctx context.Context, points int) (groupbuy.MembershipTier, bool, error)
	SetUserTier(ctx context.Context, userID, tierID string) error
	InsertCommission(ctx context.Context, e groupbuy.CommissionEntry) error

	AppendOutbox(ctx context.Context, ev groupbuy.OutboxEvent) error
}

// Progress is the participant-counter/status pair, always written together.
type Progress struct {
	Current int
	Status  groupbuy.CampaignStatus
}
