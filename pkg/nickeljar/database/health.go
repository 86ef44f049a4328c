package database

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// HealthProbe runs the connector liveness probe on a cron schedule.
type HealthProbe struct {
	conn *Connector
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// StartHealthProbe schedules Probe with the configured health_schedule. It
// returns nil when the schedule is disabled.
func (c *Connector) StartHealthProbe(ctx context.Context) (*HealthProbe, error) {
	if c.cfg.HealthSchedule == "" {
		return nil, nil
	}

	p := &HealthProbe{conn: c}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cron = cron.New(
		cron.WithParser(cron.NewParser(
			cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := p.cron.AddFunc(c.cfg.HealthSchedule, func() { c.Probe(p.ctx) }); err != nil {
		p.cancel()
		return nil, fmt.Errorf("database: invalid health schedule %q: %w", c.cfg.HealthSchedule, err)
	}

	p.cron.Start()
	c.logger.Info("store health probe started", "schedule", c.cfg.HealthSchedule)
	return p, nil
}

// Stop halts the schedule and waits briefly for a running probe.
func (p *HealthProbe) Stop() {
	if p == nil {
		return
	}
	p.cancel()
	stopped := p.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		p.conn.logger.Warn("store health probe stop timed out")
	}
}

// Probe checks liveness once and reconnects when the backend stopped
// answering. It does nothing while a batch or reconnect holds the connector.
func (c *Connector) Probe(ctx context.Context) error {
	if !c.mu.TryLock() {
		c.logger.Debug("store probe skipped, connector busy")
		return nil
	}
	defer c.mu.Unlock()

	err := c.pingLocked(ctx)
	if err == nil {
		return nil
	}
	if c.backend != nil {
		c.dropLocked(err)
	}
	return c.ensureLocked(ctx)
}
