// Package janitor runs the background maintenance loops: stall recovery for
// jobs whose runner went silent and retention cleanup of finished jobs.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"vidforge/internal/handlers"
	"vidforge/internal/models"
	"vidforge/internal/store"
)

// StallProbe periodically scans for processing jobs whose runner has not
// sent an update within the timeout and recovers them
type StallProbe struct {
	store    store.Store
	handlers map[models.JobType]handlers.Handler
	timeout  time.Duration
	interval time.Duration

	// Used for the scan loop
	isRunning  bool
	ticker     *time.Ticker
	context    context.Context
	cancelFunc context.CancelFunc
}

func NewStallProbe(st store.Store, registry map[models.JobType]handlers.Handler, timeout, interval time.Duration) *StallProbe {
	return &StallProbe{
		store:    st,
		handlers: registry,
		timeout:  timeout,
		interval: interval,
	}
}

// Start runs the scan loop in its own goroutine until Stop or context
// cancellation
func (p *StallProbe) Start(ctx context.Context) {
	if p.isRunning {
		return
	}

	p.isRunning = true
	p.ticker = time.NewTicker(p.interval)
	p.context, p.cancelFunc = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-p.context.Done():
				return
			case <-p.ticker.C:
				if err := p.Sweep(p.context); err != nil {
					log.Error().Err(err).Msg("Stall sweep failed")
				}
			}
		}
	}()
}

func (p *StallProbe) Stop() {
	if !p.isRunning {
		return
	}

	p.cancelFunc()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.isRunning = false
}

// Sweep recovers every stalled job once. Kinds that survive reassignment go
// back to pending for another runner; live jobs cannot resume a dropped feed
// and are errored instead.
func (p *StallProbe) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-p.timeout)
	stalled, err := p.store.ListStalled(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, job := range stalled {
		handler, ok := p.handlers[job.Type]
		if !ok {
			log.Error().Str("job", job.UUID).Str("type", string(job.Type)).Msg("Stalled job has no handler")
			continue
		}

		if handler.AbortSupported() {
			// re-checks the cutoff so a runner that resumed updates after
			// the listing keeps its lease
			released, err := p.store.ReleaseStalled(ctx, job.ID, cutoff)
			if err != nil {
				log.Error().Err(err).Str("job", job.UUID).Msg("Could not release stalled job")
				continue
			}
			if !released {
				log.Debug().Str("job", job.UUID).Msg("Stalled job resumed before release")
				continue
			}
			log.Info().Str("job", job.UUID).Str("type", string(job.Type)).Msg("Released stalled job")
			continue
		}

		if err := handler.Error(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job.UUID).Msg("Stall rollback failed")
		}
		if err := p.store.FailJob(ctx, job.ID, "runner stopped sending updates"); err != nil {
			log.Error().Err(err).Str("job", job.UUID).Msg("Could not fail stalled job")
			continue
		}
		log.Info().Str("job", job.UUID).Str("type", string(job.Type)).Msg("Errored stalled job")
	}
	return nil
}

// Retention deletes terminal jobs past their retention window on a cron
// schedule
type Retention struct {
	store store.Store
	cron  *cron.Cron
	days  int
}

func NewRetention(st store.Store, days int, cronExpr string) (*Retention, error) {
	r := &Retention{
		store: st,
		cron:  cron.New(cron.WithLocation(time.UTC)),
		days:  days,
	}

	if _, err := r.cron.AddFunc(cronExpr, func() {
		if _, err := r.Cleanup(context.Background()); err != nil {
			log.Error().Err(err).Msg("Retention cleanup failed")
		}
	}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Retention) Start() { r.cron.Start() }
func (r *Retention) Stop()  { r.cron.Stop() }

// Cleanup deletes completed, errored and cancelled jobs that finished more
// than the retention window ago
func (r *Retention) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.days)
	deleted, err := r.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Deleted old finished jobs")
	}
	return deleted, nil
}
