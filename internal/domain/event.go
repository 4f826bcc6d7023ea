package domain

// EventKind classifies a change feed notification.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventDelete EventKind = "delete"
	// EventOther covers anything the dashboard does not react to (updates, truncates...).
	EventOther EventKind = "other"
	// EventResync tells a subscriber that notifications may have been lost.
	// Only Record.Owner is set.
	EventResync EventKind = "resync"
)

// ParseEventKind maps a driver specific operation name to an EventKind.
// Unknown operations are EventOther.
func ParseEventKind(op string) EventKind {
	switch op {
	case "insert", "INSERT":
		return EventInsert
	case "delete", "DELETE":
		return EventDelete
	default:
		return EventOther
	}
}

// ChangeEvent is a row level notification delivered by the change feed.
//
// For EventDelete only Record.ID and Record.Owner are guaranteed to be set.
type ChangeEvent struct {
	Kind   EventKind `json:"kind"`
	Record Bookmark  `json:"record"`
}
