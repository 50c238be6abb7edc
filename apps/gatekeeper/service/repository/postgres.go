package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/internal/gate"
)

func dbFor(ctx context.Context, p pool.Pool, readOnly bool) (*gorm.DB, error) {
	if p == nil {
		return nil, ErrDatabaseUnavailable
	}
	db := p.DB(ctx, readOnly)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}
	return db, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), gate.ErrNotFound)
	}
	return err
}

// =============================================================================
// Merge Requests
// =============================================================================

// PGMergeRequestRepository is the PostgreSQL implementation of MergeRequestRepository.
type PGMergeRequestRepository struct {
	pool pool.Pool
}

// GetMergeRequest retrieves a merge request by ID.
func (r *PGMergeRequestRepository) GetMergeRequest(ctx context.Context, id string) (*gate.MergeRequest, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var m MergeRequest
	if err = db.First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "merge request %s", id)
	}
	mr := m.toDomain()
	return &mr, nil
}

// ListMergeRequests lists merge requests of a project created in [start, end].
func (r *PGMergeRequestRepository) ListMergeRequests(
	ctx context.Context,
	projectID string,
	start, end time.Time,
) ([]gate.MergeRequest, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var rows []MergeRequest
	err = db.Where("project_id = ? AND created_at BETWEEN ? AND ?", projectID, start, end).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]gate.MergeRequest, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// UpsertMergeRequest inserts or replaces a merge request snapshot.
func (r *PGMergeRequestRepository) UpsertMergeRequest(ctx context.Context, mr *gate.MergeRequest) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}

	m := mergeRequestFromDomain(mr)
	m.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
}

// =============================================================================
// Reviews
// =============================================================================

// PGReviewRepository is the PostgreSQL implementation of ReviewRepository.
type PGReviewRepository struct {
	pool pool.Pool
}

// ListReviews lists the reviews of a merge request, newest first.
func (r *PGReviewRepository) ListReviews(ctx context.Context, mergeRequestID string) ([]gate.Review, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var rows []CodeReview
	err = db.Where("merge_request_id = ?", mergeRequestID).
		Order("reviewed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return reviewsToDomain(rows), nil
}

// ListReviewsForMergeRequests lists the reviews of several merge requests.
func (r *PGReviewRepository) ListReviewsForMergeRequests(
	ctx context.Context,
	mergeRequestIDs []string,
) ([]gate.Review, error) {
	if len(mergeRequestIDs) == 0 {
		return []gate.Review{}, nil
	}

	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var rows []CodeReview
	err = db.Where("merge_request_id IN ?", mergeRequestIDs).
		Order("reviewed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return reviewsToDomain(rows), nil
}

// UpsertReview inserts or replaces a review.
func (r *PGReviewRepository) UpsertReview(ctx context.Context, review *gate.Review) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(reviewFromDomain(review)).Error
}

func reviewsToDomain(rows []CodeReview) []gate.Review {
	out := make([]gate.Review, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

// =============================================================================
// Emergency Bypasses
// =============================================================================

// PGBypassRepository is the PostgreSQL implementation of BypassRepository.
type PGBypassRepository struct {
	pool pool.Pool
}

// CreateBypass inserts a bypass audit entry.
func (r *PGBypassRepository) CreateBypass(ctx context.Context, bypass *gate.EmergencyBypass) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}
	return db.Create(bypassFromDomain(bypass)).Error
}

// ListBypasses lists the bypasses of a merge request, oldest first.
func (r *PGBypassRepository) ListBypasses(ctx context.Context, mergeRequestID string) ([]gate.EmergencyBypass, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var rows []EmergencyBypass
	err = db.Where("merge_request_id = ?", mergeRequestID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]gate.EmergencyBypass, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// =============================================================================
// Coverage
// =============================================================================

// PGCoverageRepository is the PostgreSQL implementation of CoverageRepository.
type PGCoverageRepository struct {
	pool pool.Pool
}

// GetCoverage retrieves the coverage record of a commit.
func (r *PGCoverageRepository) GetCoverage(ctx context.Context, projectID, commitID string) (*gate.CoverageRecord, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var m CoverageRecord
	if err = db.First(&m, "project_id = ? AND commit_id = ?", projectID, commitID).Error; err != nil {
		return nil, notFound(err, "coverage %s@%s", projectID, commitID)
	}
	rec := m.toDomain()
	return &rec, nil
}

// ListCoverageHistory lists up to limit records of a project, newest first.
func (r *PGCoverageRepository) ListCoverageHistory(
	ctx context.Context,
	projectID string,
	limit int,
) ([]gate.CoverageRecord, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	q := db.Where("project_id = ?", projectID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []CoverageRecord
	err = q.Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return coverageToDomain(rows), nil
}

// UpdateCoverageStatus stores the gate outcome on a record.
func (r *PGCoverageRepository) UpdateCoverageStatus(
	ctx context.Context,
	recordID string,
	status gate.CoverageStatus,
	threshold float64,
) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":    string(status),
		"threshold": threshold,
	}
	return db.Model(&CoverageRecord{}).Where("id = ?", recordID).Updates(updates).Error
}

// ListCoverage lists records of a project created in [start, end].
func (r *PGCoverageRepository) ListCoverage(
	ctx context.Context,
	projectID string,
	start, end time.Time,
) ([]gate.CoverageRecord, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	var rows []CoverageRecord
	err = db.Where("project_id = ? AND created_at BETWEEN ? AND ?", projectID, start, end).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return coverageToDomain(rows), nil
}

// UpsertCoverage inserts or replaces the record of a commit.
func (r *PGCoverageRepository) UpsertCoverage(ctx context.Context, record *gate.CoverageRecord) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "commit_id"}},
		UpdateAll: true,
	}).Create(coverageFromDomain(record)).Error
}

func coverageToDomain(rows []CoverageRecord) []gate.CoverageRecord {
	out := make([]gate.CoverageRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

// =============================================================================
// Bugs
// =============================================================================

// PGBugRepository is the PostgreSQL implementation of BugRepository.
type PGBugRepository struct {
	pool pool.Pool
}

// ListOpenBugs lists every bug that is not closed.
func (r *PGBugRepository) ListOpenBugs(ctx context.Context) ([]gate.Bug, error) {
	return r.ListBugs(ctx, bugsla.BugFilter{OpenOnly: true})
}

// ListBugs lists bugs matching the filter, oldest first.
func (r *PGBugRepository) ListBugs(ctx context.Context, filter bugsla.BugFilter) ([]gate.Bug, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	q := db.Model(&Bug{})
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		q = q.Where("assignee_id = ?", filter.AssigneeID)
	}
	if !filter.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		q = q.Where("created_at <= ?", filter.CreatedBefore)
	}
	if filter.OpenOnly {
		q = q.Where("status <> ?", string(gate.IssueClosed))
	}

	var rows []Bug
	if err = q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]gate.Bug, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// UpsertBug inserts or replaces a bug.
func (r *PGBugRepository) UpsertBug(ctx context.Context, bug *gate.Bug) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(bugFromDomain(bug)).Error
}

// =============================================================================
// Alert Log
// =============================================================================

// PGAlertLogRepository is the PostgreSQL implementation of AlertLogRepository.
type PGAlertLogRepository struct {
	pool pool.Pool
}

// Append stores an alert. Redelivered alerts keep their first entry.
func (r *PGAlertLogRepository) Append(ctx context.Context, alert *gate.Alert) error {
	db, err := dbFor(ctx, r.pool, false)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(alertFromDomain(alert)).Error
}

// ListRecent lists the newest alerts, optionally for one project.
func (r *PGAlertLogRepository) ListRecent(ctx context.Context, projectID string, limit int) ([]gate.Alert, error) {
	db, err := dbFor(ctx, r.pool, true)
	if err != nil {
		return nil, err
	}

	q := db.Model(&AlertLog{})
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []AlertLog
	if err = q.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]gate.Alert, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
