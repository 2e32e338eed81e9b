// Package memstore is an in-process implementation of store.Store.
//
// A single lock serialises transactions, so every Tx sees and mutates a consistent
// snapshot; a failed Tx restores the snapshot taken when it began. Lock waits honour
// the configured lock timeout and surface as groupbuy Busy errors, the same contract
// the postgres store gives with lock_timeout.
package memstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errLockTimeout = errors.New("lock wait timeout")

type Option func(*Store)

// WithLockTimeout bounds how long InTx and reads wait for the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

type Store struct {
	sem         chan struct{}
	lockTimeout time.Duration
	st          *state
}

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		sem:         make(chan struct{}, 1),
		lockTimeout: 2 * time.Second,
		st:          newState(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type outboxRow struct {
	ev   groupbuy.OutboxEvent
	sent bool
}

type state struct {
	products    map[string]groupbuy.Product
	campaigns   map[string]groupbuy.Campaign
	orders      map[string]groupbuy.Order
	orderIndex  []string
	users       map[string]groupbuy.User
	tiers       map[string]groupbuy.MembershipTier
	commissions map[string]groupbuy.CommissionEntry
	outbox      []outboxRow
	outboxSeq   int64
}

func newState() *state {
	return &state{
		products:    map[string]groupbuy.Product{},
		campaigns:   map[string]groupbuy.Campaign{},
		orders:      map[string]groupbuy.Order{},
		users:       map[string]groupbuy.User{},
		tiers:       map[string]groupbuy.MembershipTier{},
		commissions: map[string]groupbuy.CommissionEntry{},
	}
}

func (st *state) clone() *state {
	c := &state{
		products:    make(map[string]groupbuy.Product, len(st.products)),
		campaigns:   make(map[string]groupbuy.Campaign, len(st.campaigns)),
		orders:      make(map[string]groupbuy.Order, len(st.orders)),
		orderIndex:  append([]string(nil), st.orderIndex...),
		users:       make(map[string]groupbuy.User, len(st.users)),
		tiers:       make(map[string]groupbuy.MembershipTier, len(st.tiers)),
		commissions: make(map[string]groupbuy.CommissionEntry, len(st.commissions)),
		outbox:      append([]outboxRow(nil), st.outbox...),
		outboxSeq:   st.outboxSeq,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.tiers {
		c.tiers[k] = v
	}
	for k, v := range st.commissions {
		c.commissions[k] = v
	}
	return c
}

func copyOrder(o groupbuy.Order) groupbuy.Order {
	o.Lines = append([]groupbuy.OrderLine(nil), o.Lines...)
	return o
}

func (s *Store) acquire(ctx context.Context) error {
	t := time.NewTimer(s.lockTimeout)
	defer t.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return groupbuy.Busy("memstore", ctx.Err())
	case <-t.C:
		return groupbuy.Busy("memstore", errLockTimeout)
	}
}

func (s *Store) release() { <-s.sem }

func (s *Store) InTx(ctx context.Context, fn store.TxFunc) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, &tx{st: s.st}); err != nil {
		return err
	}
	committed = true
	return nil
}

// locked runs f under the store lock without snapshotting. Callers that write must
// leave st consistent on every return path.
func (s *Store) locked(ctx context.Context, f func(st *state) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return f(s.st)
}

func (s *Store) GetProduct(ctx context.Context, id string) (p groupbuy.Product, err error) {
	err = s.locked(ctx, func(st *state) error {
		var ok bool
		if p, ok = st.products[id]; !ok {
			return groupbuy.NotFound("get product", id)
		}
		return nil
	})
	return p, err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (c groupbuy.Campaign, err error) {
	err = s.locked(ctx, func(st *state) error {
		var ok bool
		if c, ok = st.campaigns[id]; !ok {
			return groupbuy.NotFound("get campaign", id)
		}
		return nil
	})
	return c, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (o groupbuy.Order, err error) {
	err = s.locked(ctx, func(st *state) error {
		v, ok := st.orders[id]
		if !ok {
			return groupbuy.NotFound("get order", id)
		}
		o = copyOrder(v)
		return nil
	})
	return o, err
}

func (s *Store) ListCampaignOrders(ctx context.Context, campaignID string) (out []groupbuy.Order, err error) {
	err = s.locked(ctx, func(st *state) error {
		for _, id := range st.orderIndex {
			if o := st.orders[id]; o.CampaignID == campaignID {
				out = append(out, copyOrder(o))
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) LeaderCommission(ctx context.Context, leaderID string) (sum decimal.Decimal, n int, err error) {
	err = s.locked(ctx, func(st *state) error {
		for _, e := range st.commissions {
			if e.LeaderID == leaderID {
				sum = sum.Add(e.Amount)
				n++
			}
		}
		return nil
	})
	return sum, n, err
}

func (s *Store) CampaignsDueForActivation(ctx context.Context, now time.Time) ([]string, error) {
	return s.campaignsWhere(ctx, func(c groupbuy.Campaign) bool {
		return c.Status == groupbuy.CampaignPending && !c.StartTime.After(now)
	})
}

func (s *Store) CampaignsDueForFinalization(ctx context.Context, now time.Time) ([]string, error) {
	return s.campaignsWhere(ctx, func(c groupbuy.Campaign) bool {
		return c.Status.Open() && !c.EndTime.After(now)
	})
}

func (s *Store) campaignsWhere(ctx context.Context, match func(groupbuy.Campaign) bool) (ids []string, err error) {
	err = s.locked(ctx, func(st *state) error {
		var due []groupbuy.Campaign
		for _, c := range st.campaigns {
			if match(c) {
				due = append(due, c)
			}
		}
		sort.Slice(due, func(i, j int) bool {
			if !due[i].EndTime.Equal(due[j].EndTime) {
				return due[i].EndTime.Before(due[j].EndTime)
			}
			return due[i].ID < due[j].ID
		})
		for _, c := range due {
			ids = append(ids, c.ID)
		}
		return nil
	})
	return ids, err
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) (out []groupbuy.OutboxEvent, err error) {
	err = s.locked(ctx, func(st *state) error {
		for _, r := range st.outbox {
			if len(out) >= limit {
				break
			}
			if !r.sent {
				out = append(out, r.ev)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) MarkOutboxSent(ctx context.Context, ids []int64) error {
	return s.locked(ctx, func(st *state) error {
		want := make(map[int64]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for i := range st.outbox {
			if want[st.outbox[i].ev.ID] {
				st.outbox[i].sent = true
			}
		}
		return nil
	})
}

func (s *Store) CreateProduct(ctx context.Context, p groupbuy.Product) (groupbuy.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	err := s.locked(ctx, func(st *state) error {
		st.products[p.ID] = p
		return nil
	})
	return p, err
}

func (s *Store) UpsertUser(ctx context.Context, u groupbuy.User) error {
	return s.locked(ctx, func(st *state) error {
		st.users[u.ID] = u
		return nil
	})
}

func (s *Store) CreateTier(ctx context.Context, t groupbuy.MembershipTier) (groupbuy.MembershipTier, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := s.locked(ctx, func(st *state) error {
		st.tiers[t.ID] = t
		return nil
	})
	return t, err
}

// Outbox returns every outbox event, sent or not, in append order.
func (s *Store) Outbox(ctx context.Context) (out []groupbuy.OutboxEvent, err error) {
	err = s.locked(ctx, func(st *state) error {
		for _, r := range st.outbox {
			out = append(out, r.ev)
		}
		return nil
	})
	return out, err
}

// User returns a user record as currently stored.
func (s *Store) User(ctx context.Context, id string) (u groupbuy.User, ok bool, err error) {
	err = s.locked(ctx, func(st *state) error {
		u, ok = st.users[id]
		return nil
	})
	return u, ok, err
}
