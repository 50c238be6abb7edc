package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// AlertID identifies a dispatched alert. Values sort by creation time.
type AlertID struct {
	id xid.ID
}

// NewAlertID generates a new alert ID.
func NewAlertID() AlertID {
	return AlertID{id: xid.New()}
}

// ParseAlertID parses an alert ID from string.
func ParseAlertID(s string) (AlertID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return AlertID{}, fmt.Errorf("invalid alert ID %q: %w", s, err)
	}
	return AlertID{id: id}, nil
}

// String returns the string representation.
func (a AlertID) String() string {
	return a.id.String()
}

// Time returns the timestamp embedded in the ID.
func (a AlertID) Time() time.Time {
	return a.id.Time()
}

// IsZero returns true if this is the zero value.
func (a AlertID) IsZero() bool {
	return a.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (a AlertID) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(a.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AlertID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = AlertID{}
		return nil
	}
	parsed, err := ParseAlertID(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// BypassID identifies an emergency bypass audit record.
type BypassID struct {
	id xid.ID
}

// NewBypassID generates a new bypass ID.
func NewBypassID() BypassID {
	return BypassID{id: xid.New()}
}

// ParseBypassID parses a bypass ID from string.
func ParseBypassID(s string) (BypassID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return BypassID{}, fmt.Errorf("invalid bypass ID %q: %w", s, err)
	}
	return BypassID{id: id}, nil
}

// String returns the string representation.
func (b BypassID) String() string {
	return b.id.String()
}

// IsZero returns true if this is the zero value.
func (b BypassID) IsZero() bool {
	return b.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (b BypassID) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BypassID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBypassID(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
