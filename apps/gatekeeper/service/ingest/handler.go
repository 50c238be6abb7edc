// Package ingest applies source-control events published by the webhook
// service to the gatekeeper's records and re-runs the affected gates.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/coverage"
	"github.com/antinvestor/qualitygate/internal/events"
	"github.com/antinvestor/qualitygate/internal/gate"
)

var errMalformed = errors.New("malformed payload")

// Records is the write side of the repositories the handler needs.
type Records interface {
	GetMergeRequest(ctx context.Context, id string) (*gate.MergeRequest, error)
	UpsertMergeRequest(ctx context.Context, mr *gate.MergeRequest) error
	UpsertReview(ctx context.Context, review *gate.Review) error
	UpsertBug(ctx context.Context, bug *gate.Bug) error
	UpsertCoverage(ctx context.Context, record *gate.CoverageRecord) error
}

// MergeEvaluator re-evaluates a merge request after it or its reviews change.
type MergeEvaluator interface {
	EvaluateMerge(ctx context.Context, mergeRequestID string) (*gate.GateDecision, error)
}

// QualityGate re-checks a commit after new coverage arrives.
type QualityGate interface {
	CheckQualityGate(
		ctx context.Context,
		projectID, commitID string,
		thresholds *coverage.Thresholds,
	) (*gate.GateDecision, error)
}

// Handler consumes ingest events from the queue.
type Handler struct {
	records  Records
	reviews  MergeEvaluator
	coverage QualityGate
	dedup    events.DeduplicationStore
}

// NewHandler creates a new ingest handler.
func NewHandler(
	records Records,
	reviews MergeEvaluator,
	coverageGate QualityGate,
	dedup events.DeduplicationStore,
) *Handler {
	return &Handler{
		records:  records,
		reviews:  reviews,
		coverage: coverageGate,
		dedup:    dedup,
	}
}

// Handle processes one queue message. Malformed messages are dropped; storage
// failures are returned so the queue redelivers.
func (h *Handler) Handle(ctx context.Context, headers map[string]string, payload []byte) error {
	log := util.Log(ctx)

	var event events.IngestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.WithError(err).Warn("dropping undecodable ingest event", "routing_key", headers["routing_key"])
		return nil
	}
	if err := event.Verify(); err != nil {
		log.WithError(err).Warn("dropping corrupted ingest event", "event_id", event.ID)
		return nil
	}
	if !event.Kind.IsValid() {
		log.Warn("dropping ingest event of unknown kind", "event_id", event.ID, "kind", event.Kind)
		return nil
	}

	log = log.WithField("event_id", event.ID).WithField("kind", string(event.Kind))

	apply := func(ctx context.Context) error { return h.apply(ctx, &event) }
	processed, err := events.ProcessOnce(ctx, h.dedup, event.DedupKey(), string(event.Kind), apply)
	if errors.Is(err, errMalformed) {
		log.WithError(err).Warn("dropping malformed ingest payload")
		return nil
	}
	if err != nil {
		return err
	}
	if processed {
		log.Debug("ingest event applied")
	}
	return nil
}

func (h *Handler) apply(ctx context.Context, event *events.IngestEvent) error {
	switch event.Kind {
	case events.KindMergeRequest:
		return h.applyMergeRequest(ctx, event)
	case events.KindReview:
		return h.applyReview(ctx, event)
	case events.KindBug:
		return h.applyBug(ctx, event)
	case events.KindCoverage:
		return h.applyCoverage(ctx, event)
	}
	return nil
}

func decode(event *events.IngestEvent, dst any) error {
	if err := event.DecodePayload(dst); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	return nil
}

func (h *Handler) applyMergeRequest(ctx context.Context, event *events.IngestEvent) error {
	var mr gate.MergeRequest
	if err := decode(event, &mr); err != nil {
		return err
	}
	if mr.ID == "" {
		return fmt.Errorf("%w: merge request without id", errMalformed)
	}

	if err := h.records.UpsertMergeRequest(ctx, &mr); err != nil {
		return fmt.Errorf("store merge request %s: %w", mr.ID, err)
	}

	if mr.Status == gate.MergeRequestOpened {
		h.reevaluate(ctx, mr.ID)
	}
	return nil
}

func (h *Handler) applyReview(ctx context.Context, event *events.IngestEvent) error {
	var review gate.Review
	if err := decode(event, &review); err != nil {
		return err
	}
	if review.ID == "" || review.MergeRequestID == "" || !review.Status.IsValid() {
		return fmt.Errorf("%w: incomplete review", errMalformed)
	}

	if err := h.records.UpsertReview(ctx, &review); err != nil {
		return fmt.Errorf("store review %s: %w", review.ID, err)
	}

	mr, err := h.records.GetMergeRequest(ctx, review.MergeRequestID)
	if err != nil {
		// Reviews can arrive before their merge request; it is evaluated on arrival.
		if errors.Is(err, gate.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load merge request %s: %w", review.MergeRequestID, err)
	}
	if mr.Status == gate.MergeRequestOpened {
		h.reevaluate(ctx, mr.ID)
	}
	return nil
}

func (h *Handler) applyBug(ctx context.Context, event *events.IngestEvent) error {
	var bug gate.Bug
	if err := decode(event, &bug); err != nil {
		return err
	}
	if bug.ID == "" || !bug.Severity.IsValid() {
		return fmt.Errorf("%w: incomplete bug", errMalformed)
	}

	if err := h.records.UpsertBug(ctx, &bug); err != nil {
		return fmt.Errorf("store bug %s: %w", bug.ID, err)
	}
	return nil
}

func (h *Handler) applyCoverage(ctx context.Context, event *events.IngestEvent) error {
	var record gate.CoverageRecord
	if err := decode(event, &record); err != nil {
		return err
	}
	if record.ProjectID == "" || record.CommitID == "" {
		return fmt.Errorf("%w: coverage without project or commit", errMalformed)
	}
	if record.ID == "" {
		record.ID = event.ID
	}

	if err := h.records.UpsertCoverage(ctx, &record); err != nil {
		return fmt.Errorf("store coverage %s@%s: %w", record.ProjectID, record.CommitID, err)
	}

	decision, err := h.coverage.CheckQualityGate(ctx, record.ProjectID, record.CommitID, nil)
	if err != nil {
		util.Log(ctx).WithError(err).Error("quality gate check failed", "commit_id", record.CommitID)
		return nil
	}
	util.Log(ctx).Info("quality gate checked",
		"project_id", record.ProjectID,
		"commit_id", record.CommitID,
		"pass", decision.Pass,
	)
	return nil
}

// reevaluate runs the review gate. The evaluator alerts on a blocked merge,
// so failures here are logged only.
func (h *Handler) reevaluate(ctx context.Context, mergeRequestID string) {
	decision, err := h.reviews.EvaluateMerge(ctx, mergeRequestID)
	if err != nil {
		util.Log(ctx).WithError(err).Error("merge evaluation failed", "merge_request_id", mergeRequestID)
		return
	}
	util.Log(ctx).Info("merge re-evaluated",
		"merge_request_id", mergeRequestID,
		"pass", decision.Pass,
		"violations", len(decision.Violations),
	)
}
