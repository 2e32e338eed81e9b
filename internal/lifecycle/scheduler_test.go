package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/campaign"
	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/memstore"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// staleSelector returns the ids it was given in addition to the real due list,
// the way an overlapping sweep sees campaigns another sweep already settled.
type staleSelector struct {
	*memstore.Store
	extra []string
}

func (s staleSelector) CampaignsDueForFinalization(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.Store.CampaignsDueForFinalization(ctx, now)
	return append(ids, s.extra...), err
}

type env struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	eng   *campaign.Engine
	sched *Scheduler
	now   time.Time
	pid   string
}

func newEnv(t *testing.T, stock int) *env {
	t.Helper()
	e := &env{t: t, ctx: context.Background(), store: memstore.New(), now: t0}
	clock := func() time.Time { return e.now }
	e.eng = campaign.New(e.store, nil, nil, nil, campaign.Config{})
	e.eng.Now = clock
	e.sched = New(e.store, e.eng, nil, nil)
	e.sched.Now = clock

	p, err := e.eng.CreateProduct(e.ctx, groupbuy.Product{Name: "rice 5kg", Stock: stock, Price: decimal.NewFromInt(12)})
	require.NoError(t, err)
	e.pid = p.ID
	return e
}

func (e *env) create(target int, start, end time.Time) groupbuy.Campaign {
	e.t.Helper()
	c, err := e.eng.Create(e.ctx, campaign.CreateInput{LeaderID: "leader", ProductID: e.pid, Target: target, Start: start, End: end})
	require.NoError(e.t, err)
	return c
}

func (e *env) join(id, user string, qty int) {
	e.t.Helper()
	_, err := e.eng.Join(e.ctx, campaign.JoinInput{CampaignID: id, UserID: user, Quantity: qty})
	require.NoError(e.t, err)
}

func (e *env) campaign(id string) groupbuy.Campaign {
	e.t.Helper()
	c, err := e.store.GetCampaign(e.ctx, id)
	require.NoError(e.t, err)
	return c
}

func (e *env) stock() int {
	e.t.Helper()
	p, err := e.store.GetProduct(e.ctx, e.pid)
	require.NoError(e.t, err)
	return p.Stock
}

func TestActivationSweep(t *testing.T) {
	e := newEnv(t, 20)
	due := e.create(5, t0.Add(time.Minute), t0.Add(time.Hour))
	later := e.create(5, t0.Add(30*time.Minute), t0.Add(time.Hour))

	e.now = t0.Add(2 * time.Minute)
	rep := e.sched.ActivationSweep(e.ctx)
	require.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.Examined)
	assert.Equal(t, 1, rep.Activated)
	assert.Equal(t, groupbuy.CampaignActive, e.campaign(due.ID).Status)
	assert.Equal(t, groupbuy.CampaignPending, e.campaign(later.ID).Status)

	rep = e.sched.ActivationSweep(e.ctx)
	assert.Zero(t, rep.Examined)

	outbox, err := e.store.Outbox(e.ctx)
	require.NoError(t, err)
	var activated []string
	for _, ev := range outbox {
		if ev.Envelope.EventType == groupbuy.EventCampaignActivated {
			activated = append(activated, ev.Key)
		}
	}
	assert.Equal(t, []string{due.ID}, activated)
}

func TestActivationLeavesExpiredCampaignForFinalization(t *testing.T) {
	e := newEnv(t, 20)
	c := e.create(5, t0.Add(time.Minute), t0.Add(10*time.Minute))

	e.now = t0.Add(time.Hour)
	rep := e.sched.ActivationSweep(e.ctx)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, groupbuy.CampaignPending, e.campaign(c.ID).Status)

	rep = e.sched.FinalizationSweep(e.ctx)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, groupbuy.CampaignFailed, e.campaign(c.ID).Status)
}

func TestFinalizationBelowTarget(t *testing.T) {
	e := newEnv(t, 10)
	c := e.create(10, t0.Add(-time.Minute), t0.Add(time.Hour))
	e.join(c.ID, "a", 1)
	e.join(c.ID, "b", 3)
	require.Equal(t, 6, e.stock())

	e.now = t0.Add(2 * time.Hour)
	rep := e.sched.FinalizationSweep(e.ctx)
	require.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.Failed)

	assert.Equal(t, 10, e.stock())
	assert.Equal(t, groupbuy.CampaignFailed, e.campaign(c.ID).Status)
	orders, err := e.store.ListCampaignOrders(e.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, groupbuy.OrderCanceled, o.Status)
	}

	t.Run("finalizing again changes nothing", func(t *testing.T) {
		rep := e.sched.FinalizationSweep(e.ctx)
		assert.Zero(t, rep.Examined)
		assert.Equal(t, 10, e.stock())
	})
}

func TestFinalizationQuotaMet(t *testing.T) {
	e := newEnv(t, 10)
	c := e.create(3, t0.Add(-time.Minute), t0.Add(time.Hour))
	e.join(c.ID, "a", 2)
	// counter reaches target without the join-side promotion
	require.NoError(t, e.store.InTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AdvanceCampaign(ctx, c.ID,
			store.Progress{Current: 2, Status: groupbuy.CampaignActive},
			store.Progress{Current: 3, Status: groupbuy.CampaignActive})
	}))

	e.now = t0.Add(2 * time.Hour)
	rep := e.sched.FinalizationSweep(e.ctx)
	require.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, groupbuy.CampaignSuccessful, e.campaign(c.ID).Status)

	orders, err := e.store.ListCampaignOrders(e.ctx, c.ID)
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, groupbuy.OrderSuccessful, o.Status)
	}
	assert.Equal(t, 8, e.stock())
}

func TestOverlappingFinalizationReleasesOnce(t *testing.T) {
	e := newEnv(t, 10)
	c := e.create(10, t0.Add(-time.Minute), t0.Add(time.Hour))
	e.join(c.ID, "a", 1)
	e.join(c.ID, "b", 3)
	e.now = t0.Add(2 * time.Hour)

	reports := make([]Report, 4)
	var g errgroup.Group
	for i := range reports {
		g.Go(func() error {
			s := New(staleSelector{Store: e.store, extra: []string{c.ID}}, e.eng, nil, nil)
			s.Now = e.sched.Now
			reports[i] = s.FinalizationSweep(e.ctx)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failed := 0
	for _, r := range reports {
		require.Empty(t, r.Errors)
		failed += r.Failed
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 10, e.stock())
}

func TestJoinsRacingFinalizationConserveStock(t *testing.T) {
	const (
		initial = 40
		target  = 12
		joiners = 8
	)
	outcomes := map[groupbuy.CampaignStatus]int{}
	for round := 0; round < 50; round++ {
		e := newEnv(t, initial)
		c := e.create(target, t0.Add(-time.Minute), t0.Add(time.Hour))
		// the deadline has passed, but joins that take the lock before the sweep still count
		e.now = t0.Add(time.Hour + time.Second)

		var g errgroup.Group
		for i := 0; i < joiners; i++ {
			user := fmt.Sprintf("u%d", i)
			g.Go(func() error {
				_, err := e.eng.Join(e.ctx, campaign.JoinInput{CampaignID: c.ID, UserID: user, Quantity: 2})
				switch groupbuy.KindOf(err) {
				case "", groupbuy.KindCampaignClosed, groupbuy.KindCapacityExceeded:
					return nil
				}
				return err
			})
		}
		g.Go(func() error {
			if rep := e.sched.FinalizationSweep(e.ctx); len(rep.Errors) > 0 {
				return rep.Errors[0]
			}
			return nil
		})
		require.NoError(t, g.Wait())

		got := e.campaign(c.ID)
		require.True(t, got.Status.Terminal(), "round %d: status %s", round, got.Status)
		require.LessOrEqual(t, got.Current, got.Target)
		outcomes[got.Status]++

		orders, err := e.store.ListCampaignOrders(e.ctx, c.ID)
		require.NoError(t, err)
		held := 0
		for _, o := range orders {
			switch got.Status {
			case groupbuy.CampaignFailed:
				require.Equal(t, groupbuy.OrderCanceled, o.Status, "round %d", round)
			case groupbuy.CampaignSuccessful:
				require.Equal(t, groupbuy.OrderSuccessful, o.Status, "round %d", round)
			}
			if o.Status == groupbuy.OrderCanceled {
				continue
			}
			for _, l := range o.Lines {
				held += l.Quantity
			}
		}
		require.Equal(t, initial-held, e.stock(), "round %d", round)
	}
	assert.NotEmpty(t, outcomes)
}

func TestFinalizationAuditsTerminalCampaigns(t *testing.T) {
	e := newEnv(t, 10)
	ok := e.create(2, t0.Add(-time.Minute), t0.Add(time.Hour))
	e.join(ok.ID, "a", 2)
	broken := e.create(5, t0.Add(-time.Minute), t0.Add(time.Hour))
	require.NoError(t, e.store.InTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AdvanceCampaign(ctx, broken.ID,
			store.Progress{Current: 0, Status: groupbuy.CampaignActive},
			store.Progress{Current: 1, Status: groupbuy.CampaignSuccessful})
	}))

	s := New(staleSelector{Store: e.store, extra: []string{ok.ID, broken.ID}}, e.eng, nil, nil)
	s.Now = func() time.Time { return t0.Add(2 * time.Hour) }
	rep := s.FinalizationSweep(e.ctx)

	assert.Equal(t, 2, rep.Examined)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.Errors, 1)
	assert.True(t, errors.Is(rep.Errors[0], groupbuy.ErrInconsistent))
	assert.Equal(t, groupbuy.CampaignSuccessful, e.campaign(broken.ID).Status)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	e := newEnv(t, 10)
	a := e.create(2, t0.Add(-time.Minute), t0.Add(time.Hour))
	s := New(staleSelector{Store: e.store, extra: []string{"ghost"}}, e.eng, nil, nil)
	s.Now = func() time.Time { return t0.Add(2 * time.Hour) }

	rep := s.Sweep(e.ctx)
	require.Len(t, rep.Errors, 1)
	assert.True(t, errors.Is(rep.Errors[0], groupbuy.ErrNotFound))
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, groupbuy.CampaignFailed, e.campaign(a.ID).Status)
}

func TestRun(t *testing.T) {
	e := newEnv(t, 10)
	c := e.create(2, t0.Add(time.Minute), t0.Add(time.Hour))
	e.now = t0.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan error, 1)
	go func() { done <- e.sched.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		got, err := e.store.GetCampaign(e.ctx, c.ID)
		return err == nil && got.Status == groupbuy.CampaignActive
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, e.sched.Run(e.ctx, 0))
}
