package bugsla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"golang.org/x/sync/singleflight"

	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/gate"
)

var (
	// ErrScanInProgress is returned when another replica holds the scan lock.
	ErrScanInProgress = errors.New("sla scan already in progress")

	// ErrScanLockLost is returned when the scan lock expired or was taken
	// over before the scan finished.
	ErrScanLockLost = errors.New("sla scan lock lost")
)

const (
	scanLockKey    = "bugsla:scan"
	scanFlightKey  = "scan"
	defaultScanTTL = 5 * time.Minute

	// A renewed scan may run past one TTL; this bounds it.
	scanTimeoutFactor = 3
)

// Monitor raises threshold-violation alerts for bugs open longer than their
// severity allows. Bug records are never modified.
type Monitor struct {
	policy   gate.BugSLAPolicy
	store    BugStore
	notifier gate.Notifier
	locks    events.LockManager
	owner    string
	lockTTL  time.Duration
	flight   singleflight.Group
	now      func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLockManager makes scans exclusive across every process sharing manager.
func WithLockManager(manager events.LockManager, ttl time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.locks = manager
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithClock replaces the monitor's time source.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a bug SLA monitor.
func NewMonitor(policy gate.BugSLAPolicy, store BugStore, notifier gate.Notifier, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		policy:   policy,
		store:    store,
		notifier: notifier,
		owner:    uuid.NewString(),
		lockTTL:  defaultScanTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScanForTimeouts checks every open bug against its SLA. Concurrent callers in
// one process share a single scan; a scan held by another process yields
// ErrScanInProgress.
func (m *Monitor) ScanForTimeouts(ctx context.Context) (*ScanReport, error) {
	v, err, shared := m.flight.Do(scanFlightKey, func() (any, error) {
		// Joined callers must not lose the scan to the first caller's cancellation.
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scanTimeoutFactor*m.lockTTL)
		defer cancel()
		return m.exclusiveScan(scanCtx)
	})
	if err != nil {
		return nil, err
	}

	report := *v.(*ScanReport)
	report.Shared = shared
	return &report, nil
}

func (m *Monitor) exclusiveScan(ctx context.Context) (*ScanReport, error) {
	if m.locks == nil {
		return m.scan(ctx, nil)
	}

	lock, acquired, err := m.locks.TryAcquire(ctx, scanLockKey, m.owner, m.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !acquired {
		return nil, m.inProgressError(ctx)
	}
	defer func() {
		if unlockErr := lock.Unlock(ctx); unlockErr != nil {
			util.Log(ctx).WithError(unlockErr).Warn("could not release scan lock")
		}
	}()

	return m.scan(ctx, lock)
}

// inProgressError names the replica holding the scan lock when it is known.
func (m *Monitor) inProgressError(ctx context.Context) error {
	info, err := m.locks.GetLockInfo(ctx, scanLockKey)
	if err != nil {
		util.Log(ctx).WithError(err).Debug("could not read scan lock holder")
		return ErrScanInProgress
	}
	if info == nil {
		return ErrScanInProgress
	}
	return fmt.Errorf("%w: held by %s until %s", ErrScanInProgress, info.Owner, info.ExpiresAt.Format(time.RFC3339))
}

// renewLock extends the scan lock once half of its TTL has elapsed.
func (m *Monitor) renewLock(ctx context.Context, lock events.DistributedLock) error {
	if lock == nil || time.Until(lock.ExpiresAt()) > m.lockTTL/2 {
		return nil
	}
	if err := lock.Extend(ctx, m.lockTTL); err != nil {
		return fmt.Errorf("%w: %w", ErrScanLockLost, err)
	}
	return nil
}

func (m *Monitor) scan(ctx context.Context, lock events.DistributedLock) (*ScanReport, error) {
	log := util.Log(ctx)
	report := &ScanReport{StartedAt: m.now()}

	bugs, err := m.store.ListOpenBugs(ctx)
	if err != nil {
		log.WithError(err).Error("sla scan could not load open bugs")
		return nil, fmt.Errorf("list open bugs: %w", err)
	}

	for i := range bugs {
		bug := &bugs[i]
		if !bug.IsOpen() {
			continue
		}
		if err = m.renewLock(ctx, lock); err != nil {
			log.WithError(err).Warn("sla scan stopped",
				"scanned", report.Scanned,
				"breached", report.Breached,
			)
			return nil, err
		}
		report.Scanned++

		elapsed := report.StartedAt.Sub(bug.CreatedAt)
		timeout := m.policy.TimeoutFor(bug.Severity)
		if elapsed <= timeout {
			continue
		}

		report.Breached++
		m.notifier.Notify(ctx, m.timeoutAlert(bug, elapsed, timeout, report.StartedAt))
	}

	report.FinishedAt = m.now()
	log.Info("sla scan finished",
		"scanned", report.Scanned,
		"breached", report.Breached,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

func (m *Monitor) timeoutAlert(bug *gate.Bug, elapsed, timeout time.Duration, at time.Time) *gate.Alert {
	assignee := bug.AssigneeID
	if assignee == "" {
		assignee = "unassigned"
	}

	message := fmt.Sprintf(
		"Bug %s %q (%s) has been open for %.1f hours, %.1f hours past its %.0f hour SLA. Assignee: %s. Project: %s.",
		bug.ID, bug.Title, bug.Severity,
		elapsed.Hours(), (elapsed - timeout).Hours(), timeout.Hours(),
		assignee, bug.ProjectID,
	)

	return gate.NewAlert(gate.AlertThresholdViolation, bug.Severity.AlertLevel(), bug.ProjectID,
		"Bug SLA exceeded", message).
		WithRelatedEntity(bug.ID).
		WithIssue(bug.ID).
		WithAssignee(bug.AssigneeID).
		WithTimestamp(at)
}
