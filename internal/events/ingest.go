package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// IngestKind names what an ingest event carries.
type IngestKind string

// Ingest kinds. The payload of each is the matching gate record.
const (
	KindMergeRequest IngestKind = "merge_request"
	KindReview       IngestKind = "review"
	KindBug          IngestKind = "bug"
	KindCoverage     IngestKind = "coverage"
)

// IsValid reports whether k is a known kind.
func (k IngestKind) IsValid() bool {
	switch k {
	case KindMergeRequest, KindReview, KindBug, KindCoverage:
		return true
	}
	return false
}

// ErrChecksumMismatch is returned when a payload no longer matches its checksum.
var ErrChecksumMismatch = errors.New("payload checksum mismatch")

// IngestEvent is one normalized record published from the webhook to the gatekeeper.
type IngestEvent struct {
	// ID is a time-ordered xid.
	ID   string     `json:"id"`
	Kind IngestKind `json:"kind"`

	// DeliveryID identifies the upstream delivery and is the deduplication key.
	// One delivery may yield several events, each with a suffixed delivery id.
	DeliveryID string    `json:"delivery_id"`
	ReceivedAt time.Time `json:"received_at"`

	Payload         json.RawMessage `json:"payload"`
	PayloadChecksum string          `json:"payload_checksum"`
}

// NewIngestEvent serializes payload into a new event.
func NewIngestEvent(kind IngestKind, deliveryID string, payload any) (*IngestEvent, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown ingest kind %q", kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	return &IngestEvent{
		ID:              xid.New().String(),
		Kind:            kind,
		DeliveryID:      deliveryID,
		ReceivedAt:      time.Now().UTC(),
		Payload:         raw,
		PayloadChecksum: checksum(raw),
	}, nil
}

// Verify checks that the payload matches its checksum. Events without a
// checksum are accepted.
func (e *IngestEvent) Verify() error {
	if e.PayloadChecksum == "" {
		return nil
	}
	if checksum(e.Payload) != e.PayloadChecksum {
		return fmt.Errorf("event %s: %w", e.ID, ErrChecksumMismatch)
	}
	return nil
}

// DecodePayload unmarshals the payload into dst.
func (e *IngestEvent) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// DedupKey is the key used to suppress redelivery. It falls back to the
// event id when the producer supplied no delivery id.
func (e *IngestEvent) DedupKey() string {
	if e.DeliveryID != "" {
		return e.DeliveryID
	}
	return e.ID
}

func checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
