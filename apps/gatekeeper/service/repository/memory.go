package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/internal/gate"
)

// MemoryStore is an in-memory implementation of every repository, used when
// no database is configured and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	mergeRequests map[string]gate.MergeRequest
	reviews       map[string]gate.Review
	bypasses      []gate.EmergencyBypass
	coverage      map[string]gate.CoverageRecord
	bugs          map[string]gate.Bug
	alerts        []gate.Alert
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mergeRequests: make(map[string]gate.MergeRequest),
		reviews:       make(map[string]gate.Review),
		coverage:      make(map[string]gate.CoverageRecord),
		bugs:          make(map[string]gate.Bug),
	}
}

// GetMergeRequest retrieves a merge request by ID.
func (s *MemoryStore) GetMergeRequest(_ context.Context, id string) (*gate.MergeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.mergeRequests[id]
	if !ok {
		return nil, fmt.Errorf("merge request %s: %w", id, gate.ErrNotFound)
	}
	return &mr, nil
}

// ListMergeRequests lists merge requests of a project created in [start, end].
func (s *MemoryStore) ListMergeRequests(
	_ context.Context,
	projectID string,
	start, end time.Time,
) ([]gate.MergeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.MergeRequest{}
	for _, mr := range s.mergeRequests {
		if mr.ProjectID == projectID && within(mr.CreatedAt, start, end) {
			out = append(out, mr)
		}
	}
	slices.SortFunc(out, func(a, b gate.MergeRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// UpsertMergeRequest inserts or replaces a merge request snapshot.
func (s *MemoryStore) UpsertMergeRequest(_ context.Context, mr *gate.MergeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeRequests[mr.ID] = *mr
	return nil
}

// ListReviews lists the reviews of a merge request, newest first.
func (s *MemoryStore) ListReviews(_ context.Context, mergeRequestID string) ([]gate.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.Review{}
	for _, r := range s.reviews {
		if r.MergeRequestID == mergeRequestID {
			out = append(out, r)
		}
	}
	sortReviewsNewestFirst(out)
	return out, nil
}

// ListReviewsForMergeRequests lists the reviews of several merge requests.
func (s *MemoryStore) ListReviewsForMergeRequests(_ context.Context, mergeRequestIDs []string) ([]gate.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.Review{}
	for _, r := range s.reviews {
		if slices.Contains(mergeRequestIDs, r.MergeRequestID) {
			out = append(out, r)
		}
	}
	sortReviewsNewestFirst(out)
	return out, nil
}

// UpsertReview inserts or replaces a review.
func (s *MemoryStore) UpsertReview(_ context.Context, review *gate.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[review.ID] = *review
	return nil
}

func sortReviewsNewestFirst(reviews []gate.Review) {
	slices.SortFunc(reviews, func(a, b gate.Review) int {
		if c := b.ReviewedAt.Compare(a.ReviewedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// CreateBypass appends a bypass audit entry.
func (s *MemoryStore) CreateBypass(_ context.Context, bypass *gate.EmergencyBypass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bypasses = append(s.bypasses, *bypass)
	return nil
}

// ListBypasses lists the bypasses of a merge request, oldest first.
func (s *MemoryStore) ListBypasses(_ context.Context, mergeRequestID string) ([]gate.EmergencyBypass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.EmergencyBypass{}
	for _, b := range s.bypasses {
		if b.MergeRequestID == mergeRequestID {
			out = append(out, b)
		}
	}
	return out, nil
}

func coverageKey(projectID, commitID string) string {
	return projectID + "@" + commitID
}

// GetCoverage retrieves the coverage record of a commit.
func (s *MemoryStore) GetCoverage(_ context.Context, projectID, commitID string) (*gate.CoverageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.coverage[coverageKey(projectID, commitID)]
	if !ok {
		return nil, fmt.Errorf("coverage %s@%s: %w", projectID, commitID, gate.ErrNotFound)
	}
	return &rec, nil
}

// ListCoverageHistory lists up to limit records of a project, newest first.
func (s *MemoryStore) ListCoverageHistory(_ context.Context, projectID string, limit int) ([]gate.CoverageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.projectCoverage(projectID, time.Time{}, time.Time{})
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateCoverageStatus stores the gate outcome on a record.
func (s *MemoryStore) UpdateCoverageStatus(
	_ context.Context,
	recordID string,
	status gate.CoverageStatus,
	threshold float64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.coverage {
		if rec.ID == recordID {
			rec.Status = status
			rec.Threshold = &threshold
			s.coverage[key] = rec
			return nil
		}
	}
	return fmt.Errorf("coverage record %s: %w", recordID, gate.ErrNotFound)
}

// ListCoverage lists records of a project created in [start, end].
func (s *MemoryStore) ListCoverage(_ context.Context, projectID string, start, end time.Time) ([]gate.CoverageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectCoverage(projectID, start, end), nil
}

// UpsertCoverage inserts or replaces the record of a commit.
func (s *MemoryStore) UpsertCoverage(_ context.Context, record *gate.CoverageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := coverageKey(record.ProjectID, record.CommitID)
	if existing, ok := s.coverage[key]; ok {
		record.ID = existing.ID
	}
	s.coverage[key] = *record
	return nil
}

// projectCoverage returns records oldest first. Zero bounds do not filter.
func (s *MemoryStore) projectCoverage(projectID string, start, end time.Time) []gate.CoverageRecord {
	out := []gate.CoverageRecord{}
	for _, rec := range s.coverage {
		if rec.ProjectID == projectID && within(rec.CreatedAt, start, end) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b gate.CoverageRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// ListOpenBugs lists every bug that is not closed.
func (s *MemoryStore) ListOpenBugs(ctx context.Context) ([]gate.Bug, error) {
	return s.ListBugs(ctx, bugsla.BugFilter{OpenOnly: true})
}

// ListBugs lists bugs matching the filter, oldest first.
func (s *MemoryStore) ListBugs(_ context.Context, filter bugsla.BugFilter) ([]gate.Bug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.Bug{}
	for _, b := range s.bugs {
		switch {
		case filter.ProjectID != "" && b.ProjectID != filter.ProjectID,
			filter.AssigneeID != "" && b.AssigneeID != filter.AssigneeID,
			filter.OpenOnly && !b.IsOpen(),
			!within(b.CreatedAt, filter.CreatedAfter, filter.CreatedBefore):
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b gate.Bug) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// UpsertBug inserts or replaces a bug.
func (s *MemoryStore) UpsertBug(_ context.Context, bug *gate.Bug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bugs[bug.ID] = *bug
	return nil
}

// Append stores an alert. Redelivered alerts keep their first entry.
func (s *MemoryStore) Append(_ context.Context, alert *gate.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == alert.ID {
			return nil
		}
	}
	s.alerts = append(s.alerts, *alert)
	return nil
}

// ListRecent lists the newest alerts, optionally for one project.
func (s *MemoryStore) ListRecent(_ context.Context, projectID string, limit int) ([]gate.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []gate.Alert{}
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if projectID != "" && s.alerts[i].ProjectID != projectID {
			continue
		}
		out = append(out, s.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func within(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
