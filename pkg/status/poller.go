package status

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is the background health-check cadence.
const DefaultPollInterval = 30 * time.Second

// Poller re-triggers a forced server check on a fixed interval. Overlap with
// a still-running check is handled by the monitor, which drops the new one.
type Poller struct {
	monitor  *Monitor
	interval time.Duration
	log      *slog.Logger
}

// NewPoller creates a poller over m. interval <= 0 uses the default.
func NewPoller(m *Monitor, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{monitor: m, interval: interval, log: log}
}

// Run checks immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.monitor.ForceServerCheck(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.monitor.ForceServerCheck(ctx)
		}
	}
}
