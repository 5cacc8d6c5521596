package event

import (
	"slices"
	"time"
)

// Type names a push event delivered to the application.
type Type string

const (
	TypePurchaseUpdated   Type = "purchase-updated"
	TypePurchaseError     Type = "purchase-error"
	TypeConnectionUpdated Type = "connection-updated"
)

// Event is one push event. Payload is the fully serialized wire payload.
type Event struct {
	Type      Type
	Epoch     string
	Payload   []byte
	Timestamp time.Time
}

func (e *Event) Clone() *Event {
	return &Event{
		Type:      e.Type,
		Epoch:     e.Epoch,
		Payload:   slices.Clone(e.Payload),
		Timestamp: e.Timestamp,
	}
}
