// Package events defines the domain events emitted by the memory service
// and an in-process bus for fanning them out to subscribers.
package events

import "time"

// Event is implemented by every domain event.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// BaseEvent carries the fields shared by all events.
type BaseEvent struct {
	Type      string    `json:"event_type"`
	Timestamp time.Time `json:"occurred_at"`
	TenantID  string    `json:"tenant_id"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

func newBase(eventType, tenantID string) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: time.Now().UTC(), TenantID: tenantID}
}

const (
	TypeRecordStored     = "record.stored"
	TypeRecordEvicted    = "record.evicted"
	TypeLinkCreated      = "link.created"
	TypePartitionCreated = "partition.created"
)

// RecordStored is emitted when a record is persisted into a partition.
type RecordStored struct {
	BaseEvent
	RecordID  string `json:"record_id"`
	Signature string `json:"signature"`
	SpiralID  string `json:"spiral_id"`
}

func NewRecordStored(tenantID, recordID, signature, spiralID string) RecordStored {
	return RecordStored{
		BaseEvent: newBase(TypeRecordStored, tenantID),
		RecordID:  recordID,
		Signature: signature,
		SpiralID:  spiralID,
	}
}

// RecordEvicted is emitted when garbage collection removes a record.
type RecordEvicted struct {
	BaseEvent
	RecordID string `json:"record_id"`
	SpiralID string `json:"spiral_id"`
	Forced   bool   `json:"forced"`
}

func NewRecordEvicted(tenantID, recordID, spiralID string, forced bool) RecordEvicted {
	return RecordEvicted{
		BaseEvent: newBase(TypeRecordEvicted, tenantID),
		RecordID:  recordID,
		SpiralID:  spiralID,
		Forced:    forced,
	}
}

// LinkCreated is emitted when two records are associated.
type LinkCreated struct {
	BaseEvent
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
}

func NewLinkCreated(tenantID, sourceID, targetID string, weight float64) LinkCreated {
	return LinkCreated{
		BaseEvent: newBase(TypeLinkCreated, tenantID),
		SourceID:  sourceID,
		TargetID:  targetID,
		Weight:    weight,
	}
}

// PartitionCreated is emitted when a new spiral partition is allocated.
type PartitionCreated struct {
	BaseEvent
	SpiralID   string `json:"spiral_id"`
	SpiralType string `json:"spiral_type"`
	Depth      int    `json:"depth"`
}

func NewPartitionCreated(tenantID, spiralID, spiralType string, depth int) PartitionCreated {
	return PartitionCreated{
		BaseEvent:  newBase(TypePartitionCreated, tenantID),
		SpiralID:   spiralID,
		SpiralType: spiralType,
		Depth:      depth,
	}
}
