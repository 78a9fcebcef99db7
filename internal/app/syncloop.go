package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "bookingsync/internal/log"
)

const syncRunTimeout = 2 * time.Minute

// SyncLoop runs Reconcile on a cron schedule. Overlapping timer runs are
// skipped; on-demand runs from the API may still overlap a timer run.
type SyncLoop struct {
	app  *App
	cron *cron.Cron
}

// NewSyncLoop parses spec (standard 5-field cron or descriptors such as
// "@every 10m") in the business time zone.
func NewSyncLoop(a *App, spec string) (*SyncLoop, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(a.Loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	l := &SyncLoop{app: a, cron: c}
	if _, err := c.AddFunc(spec, func() { l.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return l, nil
}

func (l *SyncLoop) Start() {
	appLog.Info("sync loop started")
	l.cron.Start()
}

// Stop waits for a running job to finish or ctx to expire.
func (l *SyncLoop) Stop(ctx context.Context) {
	done := l.cron.Stop()
	select {
	case <-done.Done():
		appLog.Info("sync loop stopped")
	case <-ctx.Done():
		appLog.Warn("sync loop stop timed out")
	}
}

// RunOnce performs one reconcile run, logging instead of returning errors.
func (l *SyncLoop) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, syncRunTimeout)
	defer cancel()

	_, err := l.app.Reconcile(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrUpstreamUnavailable):
		appLog.Warn("sync skipped, external calendar unavailable", "err", err)
	default:
		appLog.Error("sync run failed", err)
	}
}

// cronLogger adapts the cron library's logger to internal/log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
