// Package lifecycle moves campaigns through time: due pending campaigns are activated
// and campaigns past their end time are finalized. Each campaign is processed in its
// own transaction, so one failing campaign never blocks the rest of a sweep, and
// overlapping sweeps are safe because every decision is re-checked under the lock.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/campaign"
	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"go.uber.org/zap"
)

const (
	sweepActivation   = "activation"
	sweepFinalization = "finalization"
)

type Scheduler struct {
	Store   store.Store
	Engine  *campaign.Engine
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(s store.Store, e *campaign.Engine, log *zap.Logger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Store:   s,
		Engine:  e,
		Logger:  log,
		Metrics: m,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Report summarises one sweep.
type Report struct {
	Examined  int
	Activated int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []error
}

func (r *Report) add(o Report) {
	r.Examined += o.Examined
	r.Activated += o.Activated
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// ActivationSweep sets due pending campaigns active.
func (s *Scheduler) ActivationSweep(ctx context.Context) Report {
	started := time.Now()
	defer func() { s.Metrics.SweepTook(sweepActivation, time.Since(started)) }()

	var rep Report
	now := s.Now().UTC()
	ids, err := s.Store.CampaignsDueForActivation(ctx, now)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("list due for activation: %w", err))
		s.Logger.Warn("activation sweep: list failed", zap.Error(err))
		return rep
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, ctx.Err())
			break
		}
		rep.Examined++
		activated := false
		err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			c, err := tx.LockCampaign(ctx, id)
			if err != nil {
				return err
			}
			// another sweep or a join may have moved it already; a campaign past its
			// end is left for finalization
			if c.Status != groupbuy.CampaignPending || c.StartTime.After(now) || !c.EndTime.After(now) {
				return nil
			}
			if _, err := s.Engine.Activate(ctx, tx, c, "start time reached"); err != nil {
				return err
			}
			activated = true
			return nil
		})
		switch {
		case err != nil:
			rep.Errors = append(rep.Errors, fmt.Errorf("activate %s: %w", id, err))
			s.Metrics.Sweep(sweepActivation, string(groupbuy.KindOf(err)))
			s.Logger.Warn("activation failed", zap.String("campaign_id", id), zap.Error(err))
		case activated:
			rep.Activated++
			s.Metrics.Sweep(sweepActivation, "activated")
			s.Logger.Info("campaign activated", zap.String("campaign_id", id))
		default:
			rep.Skipped++
			s.Metrics.Sweep(sweepActivation, "skipped")
		}
	}
	return rep
}

// FinalizationSweep settles open campaigns past their end time and audits terminal
// ones that the selector still returns.
func (s *Scheduler) FinalizationSweep(ctx context.Context) Report {
	started := time.Now()
	defer func() { s.Metrics.SweepTook(sweepFinalization, time.Since(started)) }()

	var rep Report
	now := s.Now().UTC()
	ids, err := s.Store.CampaignsDueForFinalization(ctx, now)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("list due for finalization: %w", err))
		s.Logger.Warn("finalization sweep: list failed", zap.Error(err))
		return rep
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, ctx.Err())
			break
		}
		rep.Examined++
		outcome, err := s.finalize(ctx, id, now)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("finalize %s: %w", id, err))
			s.Metrics.Sweep(sweepFinalization, string(groupbuy.KindOf(err)))
			if groupbuy.KindOf(err) == groupbuy.KindInconsistent {
				s.Logger.Error("campaign inconsistent", zap.String("campaign_id", id), zap.Error(err))
			} else {
				s.Logger.Warn("finalization failed", zap.String("campaign_id", id), zap.Error(err))
			}
			continue
		}
		switch outcome {
		case campaign.OutcomeSucceeded:
			rep.Succeeded++
		case campaign.OutcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
			outcome = "skipped"
		}
		s.Metrics.Sweep(sweepFinalization, string(outcome))
	}
	return rep
}

func (s *Scheduler) finalize(ctx context.Context, id string, now time.Time) (campaign.Outcome, error) {
	var st campaign.Settlement
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.LockCampaign(ctx, id)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return audit(c)
		}
		if c.EndTime.After(now) {
			return nil
		}
		st, err = s.Engine.Settle(ctx, tx, c)
		return err
	})
	if err != nil {
		return "", err
	}
	if st.Outcome != "" {
		s.Logger.Info("campaign finalized",
			zap.String("campaign_id", id),
			zap.String("status", string(st.Status)),
			zap.Int("orders", len(st.OrderIDs)),
			zap.Int("units_released", st.UnitsReleased))
	}
	return st.Outcome, nil
}

// audit checks a terminal campaign for counter and status disagreement.
func audit(c groupbuy.Campaign) error {
	switch {
	case c.Current > c.Target:
		return groupbuy.Inconsistent("audit", c.ID, fmt.Errorf("current %d exceeds target %d", c.Current, c.Target))
	case c.Status == groupbuy.CampaignSuccessful && c.Current < c.Target:
		return groupbuy.Inconsistent("audit", c.ID, fmt.Errorf("successful with %d of %d participants", c.Current, c.Target))
	}
	return nil
}

// Sweep runs activation then finalization.
func (s *Scheduler) Sweep(ctx context.Context) Report {
	rep := s.ActivationSweep(ctx)
	rep.add(s.FinalizationSweep(ctx))
	return rep
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rep := s.Sweep(ctx)
		if rep.Examined > 0 || len(rep.Errors) > 0 {
			s.Logger.Info("sweep done",
				zap.Int("examined", rep.Examined),
				zap.Int("activated", rep.Activated),
				zap.Int("succeeded", rep.Succeeded),
				zap.Int("failed", rep.Failed),
				zap.Int("skipped", rep.Skipped),
				zap.Int("errors", len(rep.Errors)))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
