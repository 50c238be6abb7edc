// Package repository persists merge requests, reviews, bypasses, coverage
// records, bugs and the alert audit log.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/internal/gate"
)

// ErrDatabaseUnavailable is returned when the database connection is not available.
var ErrDatabaseUnavailable = errors.New("database connection is not available")

// MergeRequestRepository stores merge request snapshots.
type MergeRequestRepository interface {
	GetMergeRequest(ctx context.Context, id string) (*gate.MergeRequest, error)
	ListMergeRequests(ctx context.Context, projectID string, start, end time.Time) ([]gate.MergeRequest, error)
	UpsertMergeRequest(ctx context.Context, mr *gate.MergeRequest) error
}

// ReviewRepository stores reviewer actions.
type ReviewRepository interface {
	ListReviews(ctx context.Context, mergeRequestID string) ([]gate.Review, error)
	ListReviewsForMergeRequests(ctx context.Context, mergeRequestIDs []string) ([]gate.Review, error)
	UpsertReview(ctx context.Context, review *gate.Review) error
}

// BypassRepository stores emergency bypass audit entries. Entries are never updated.
type BypassRepository interface {
	CreateBypass(ctx context.Context, bypass *gate.EmergencyBypass) error
	ListBypasses(ctx context.Context, mergeRequestID string) ([]gate.EmergencyBypass, error)
}

// CoverageRepository stores coverage reports.
type CoverageRepository interface {
	GetCoverage(ctx context.Context, projectID, commitID string) (*gate.CoverageRecord, error)
	ListCoverageHistory(ctx context.Context, projectID string, limit int) ([]gate.CoverageRecord, error)
	UpdateCoverageStatus(ctx context.Context, recordID string, status gate.CoverageStatus, threshold float64) error
	ListCoverage(ctx context.Context, projectID string, start, end time.Time) ([]gate.CoverageRecord, error)
	UpsertCoverage(ctx context.Context, record *gate.CoverageRecord) error
}

// BugRepository stores bug-type issues.
type BugRepository interface {
	ListOpenBugs(ctx context.Context) ([]gate.Bug, error)
	ListBugs(ctx context.Context, filter bugsla.BugFilter) ([]gate.Bug, error)
	UpsertBug(ctx context.Context, bug *gate.Bug) error
}

// AlertLogRepository stores dispatched alerts.
type AlertLogRepository interface {
	Append(ctx context.Context, alert *gate.Alert) error
	ListRecent(ctx context.Context, projectID string, limit int) ([]gate.Alert, error)
}

// Repositories groups every repository the gatekeeper uses.
type Repositories struct {
	MergeRequests MergeRequestRepository
	Reviews       ReviewRepository
	Bypasses      BypassRepository
	Coverage      CoverageRepository
	Bugs          BugRepository
	Alerts        AlertLogRepository
}

// NewRepositories creates the repositories. With a database pool they use
// PostgreSQL; without one they fall back to a shared in-memory store.
func NewRepositories(_ context.Context, p pool.Pool) *Repositories {
	if p != nil {
		return &Repositories{
			MergeRequests: &PGMergeRequestRepository{pool: p},
			Reviews:       &PGReviewRepository{pool: p},
			Bypasses:      &PGBypassRepository{pool: p},
			Coverage:      &PGCoverageRepository{pool: p},
			Bugs:          &PGBugRepository{pool: p},
			Alerts:        &PGAlertLogRepository{pool: p},
		}
	}

	mem := NewMemoryStore()
	return &Repositories{
		MergeRequests: mem,
		Reviews:       mem,
		Bypasses:      mem,
		Coverage:      mem,
		Bugs:          mem,
		Alerts:        mem,
	}
}

// Migrate creates or updates every table on the default pool.
func Migrate(ctx context.Context, dbManager datastore.Manager) error {
	p := dbManager.GetPool(ctx, datastore.DefaultPoolName)
	if p == nil {
		return ErrDatabaseUnavailable
	}

	db := p.DB(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}

	if err := db.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RecordWriter exposes the repositories as the single record sink used by
// event ingestion.
type RecordWriter struct {
	repos *Repositories
}

// Writer returns a RecordWriter over r.
func (r *Repositories) Writer() *RecordWriter {
	return &RecordWriter{repos: r}
}

// GetMergeRequest retrieves a merge request by ID.
func (w *RecordWriter) GetMergeRequest(ctx context.Context, id string) (*gate.MergeRequest, error) {
	return w.repos.MergeRequests.GetMergeRequest(ctx, id)
}

// UpsertMergeRequest stores a merge request snapshot.
func (w *RecordWriter) UpsertMergeRequest(ctx context.Context, mr *gate.MergeRequest) error {
	return w.repos.MergeRequests.UpsertMergeRequest(ctx, mr)
}

// UpsertReview stores a review.
func (w *RecordWriter) UpsertReview(ctx context.Context, review *gate.Review) error {
	return w.repos.Reviews.UpsertReview(ctx, review)
}

// UpsertBug stores a bug.
func (w *RecordWriter) UpsertBug(ctx context.Context, bug *gate.Bug) error {
	return w.repos.Bugs.UpsertBug(ctx, bug)
}

// UpsertCoverage stores the coverage record of a commit.
func (w *RecordWriter) UpsertCoverage(ctx context.Context, record *gate.CoverageRecord) error {
	return w.repos.Coverage.UpsertCoverage(ctx, record)
}
