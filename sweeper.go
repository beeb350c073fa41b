package hive

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper drives the periodic maintenance passes: auth session expiry,
// dead-worker demotion, and resource sampling of active tenants. One cron
// schedule replaces per-session timers.
type Sweeper struct {
	manager *Manager
	c       *cron.Cron

	// SweepSchedule and SampleSchedule are cron expressions; the defaults
	// sweep every minute and sample every 30 seconds.
	SweepSchedule  string
	SampleSchedule string
}

// NewSweeper creates a Sweeper for the manager.
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		manager:        manager,
		c:              cron.New(cron.WithSeconds()),
		SweepSchedule:  "0 * * * * *",
		SampleSchedule: "*/30 * * * * *",
	}
}

// Start registers the jobs and runs the cron loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.c.AddFunc(s.SweepSchedule, func() {
		s.manager.Sweep(context.Background())
	}); err != nil {
		return err
	}

	if _, err := s.c.AddFunc(s.SampleSchedule, func() {
		s.samplePass()
	}); err != nil {
		return err
	}

	s.c.Start()
	slog.Info("sweeper: started")
	<-ctx.Done()
	s.c.Stop()
	slog.Info("sweeper: stopped")
	return nil
}

// samplePass checks quotas for every active tenant.
func (s *Sweeper) samplePass() {
	for _, tenant := range s.manager.Tenants() {
		if tenant.Status != StatusActive {
			continue
		}
		if _, err := s.manager.CheckQuotas(tenant.TenantID); err != nil {
			slog.Debug("sweeper: sample failed", "tenant", tenant.TenantID, "error", err)
		}
	}
}
