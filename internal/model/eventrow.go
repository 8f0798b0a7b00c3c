package model

import "time"

// EventKind is the domain category of a backend event row.
type EventKind string

const (
	KindVisit       EventKind = "visit"
	KindSale        EventKind = "sale"
	KindGoal        EventKind = "goal"
	KindDistributor EventKind = "distributor"
	KindGraduate    EventKind = "graduate"
)

// EventRow is a row of the backend's event_notifications table. Rows are
// created by other parts of the system; this service only flips Read.
type EventRow struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      EventKind      `json:"type"`
	EntityID  string         `json:"entity_id"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
