package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refreshable is refreshed on every scheduled tick.
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Refresher re-fetches the default dashboard data on a cron schedule so
// renders read warm cache entries.
type Refresher struct {
	cron    *cron.Cron
	target  Refreshable
	timeout time.Duration
	logger  *zap.Logger
}

// NewRefresher parses schedule (standard five-field cron or descriptors such as
// "@every 5m") in loc. timeout bounds a single refresh run.
func NewRefresher(schedule string, loc *time.Location, timeout time.Duration, target Refreshable, logger *zap.Logger) (*Refresher, error) {
	r := &Refresher{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		target:  target,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.target.Refresh(ctx); err != nil {
		r.logger.Warn("Dashboard data refresh incomplete",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	r.logger.Debug("Dashboard data refreshed", zap.Duration("duration", time.Since(start)))
}

// Next returns the next scheduled run, zero before Start.
func (r *Refresher) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running refresh to finish or ctx to end.
func (r *Refresher) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}
