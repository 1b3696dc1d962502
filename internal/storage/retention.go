package storage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"sweepbot/pkg/logx"
)

// Retention prunes old records on a cron schedule.
type Retention struct {
	store  Store
	maxAge time.Duration
	log    logx.Logger
	c      *cron.Cron
	now    func() time.Time
}

// NewRetention returns nil when maxAge is zero (keep forever).
func NewRetention(store Store, maxAge time.Duration, schedule string, log logx.Logger) (*Retention, error) {
	if store == nil || maxAge <= 0 {
		return nil, nil
	}
	r := &Retention{
		store:  store,
		maxAge: maxAge,
		log:    log.With(logx.String("comp", "storage.retention")),
		c:      cron.New(),
		now:    time.Now,
	}
	if _, err := r.c.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Retention) Start() {
	if r == nil {
		return
	}
	r.c.Start()
	r.log.Info("retention started", logx.Duration("max_age", r.maxAge))
}

// Stop waits for a running prune to finish or ctx to expire.
func (r *Retention) Stop(ctx context.Context) {
	if r == nil {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes records older than maxAge.
func (r *Retention) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		r.log.Warn("prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("pruned audit records", logx.Int("removed", n), logx.Time("before", cutoff))
	}
}
