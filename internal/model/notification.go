package model

import "time"

// NotificationType is the visual category of a notification.
type NotificationType string

const (
	TypeSuccess NotificationType = "success"
	TypeError   NotificationType = "error"
	TypeWarning NotificationType = "warning"
	TypeInfo    NotificationType = "info"
)

// Priority ranks how urgently a notification should be surfaced.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Meta keys used to correlate a notification with the event row it came from.
const (
	MetaSource   = "source"
	MetaID       = "id"
	MetaKind     = "kind"
	MetaEntityID = "entity_id"

	// SourceEventNotifications marks notifications created by the bridge.
	SourceEventNotifications = "event_notifications"
)

// Notification is a single item held in the notification history.
type Notification struct {
	// ID is generated locally when the notification is created and never changes.
	ID string `json:"id"`

	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Message  string           `json:"message,omitempty"`
	Priority Priority         `json:"priority"`

	// CreatedAt orders the history; it never decreases between inserts.
	CreatedAt time.Time `json:"createdAt"`

	Read bool `json:"read"`

	// DurationMs is an advisory display time for toasts. Zero means the
	// item is only shown in history. It does not affect persistence.
	DurationMs int64 `json:"durationMs,omitempty"`

	// Meta holds free-form correlation data, e.g. the originating event row.
	Meta map[string]string `json:"meta,omitempty"`
}

// FromEventFeed reports whether the notification was produced from a
// backend event row and returns that row's id.
func (n Notification) FromEventFeed() (string, bool) {
	if n.Meta[MetaSource] != SourceEventNotifications {
		return "", false
	}
	id := n.Meta[MetaID]
	return id, id != ""
}

// Clone returns a copy that shares no mutable state with n.
func (n Notification) Clone() Notification {
	if n.Meta != nil {
		meta := make(map[string]string, len(n.Meta))
		for k, v := range n.Meta {
			meta[k] = v
		}
		n.Meta = meta
	}
	return n
}

// Patch describes a partial update to a notification. Nil fields are left
// untouched. The id cannot be patched.
type Patch struct {
	Type       *NotificationType
	Title      *string
	Message    *string
	Priority   *Priority
	CreatedAt  *time.Time
	Read       *bool
	DurationMs *int64
	Meta       map[string]string
}

// Apply returns n with the patch merged in. Meta entries are merged key by key.
func (p Patch) Apply(n Notification) Notification {
	n = n.Clone()
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.Priority != nil {
		n.Priority = *p.Priority
	}
	if p.CreatedAt != nil {
		n.CreatedAt = *p.CreatedAt
	}
	if p.Read != nil {
		n.Read = *p.Read
	}
	if p.DurationMs != nil {
		n.DurationMs = *p.DurationMs
	}
	if len(p.Meta) > 0 {
		if n.Meta == nil {
			n.Meta = make(map[string]string, len(p.Meta))
		}
		for k, v := range p.Meta {
			n.Meta[k] = v
		}
	}
	return n
}

// MarkRead is the patch used by every "mark as read" action.
func MarkRead() Patch {
	read := true
	return Patch{Read: &read}
}

// Topic names a category of store event.
type Topic string

const (
	TopicAdded   Topic = "added"
	TopicUpdated Topic = "updated"
	TopicRemoved Topic = "removed"
	TopicReadAll Topic = "read_all"
	TopicEvicted Topic = "evicted"
)

// Topics lists every topic a store publishes, in a stable order.
var Topics = []Topic{TopicAdded, TopicUpdated, TopicRemoved, TopicReadAll, TopicEvicted}

// Event is the payload delivered to store subscribers. Which fields are set
// depends on Topic:
//
//	added, updated: Item
//	removed:        ID
//	read_all:       nothing
//	evicted:        IDs
type Event struct {
	Topic Topic         `json:"topic"`
	Item  *Notification `json:"item,omitempty"`
	ID    string        `json:"id,omitempty"`
	IDs   []string      `json:"ids,omitempty"`
}
