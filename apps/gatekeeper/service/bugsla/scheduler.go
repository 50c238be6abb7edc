package bugsla

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"
)

const defaultScanInterval = time.Hour

// Scanner is the operation a Scheduler triggers.
type Scanner interface {
	ScanForTimeouts(ctx context.Context) (*ScanReport, error)
}

// Scheduler runs SLA scans on a fixed interval.
type Scheduler struct {
	scanner  Scanner
	interval time.Duration
}

// NewScheduler creates a scheduler. A non-positive interval means hourly.
func NewScheduler(scanner Scanner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultScanInterval
	}
	return &Scheduler{scanner: scanner, interval: interval}
}

// Run scans on every tick until ctx is cancelled. Scan failures are logged
// and do not stop the schedule.
func (s *Scheduler) Run(ctx context.Context) {
	log := util.Log(ctx)
	log.Info("sla scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sla scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	log := util.Log(ctx)

	report, err := s.scanner.ScanForTimeouts(ctx)
	switch {
	case errors.Is(err, ErrScanInProgress):
		log.Debug("sla scan skipped, another scan holds the lock")
	case err != nil:
		log.WithError(err).Error("sla scan failed")
	case report.Shared:
		log.Debug("sla tick joined a running scan")
	}
}
