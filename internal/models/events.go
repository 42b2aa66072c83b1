package models

import "time"

// EventKind is the kind of user interaction recorded against a solution.
type EventKind string

const (
	EventViewed      EventKind = "viewed"
	EventPreviewed   EventKind = "previewed"
	EventFavorited   EventKind = "favorited"
	EventUnfavorited EventKind = "unfavorited"
	EventSelected    EventKind = "selected"
	EventExported    EventKind = "exported"
	EventDiscarded   EventKind = "discarded"
)

// EventKinds lists every valid kind in a stable order.
var EventKinds = []EventKind{
	EventViewed,
	EventPreviewed,
	EventFavorited,
	EventUnfavorited,
	EventSelected,
	EventExported,
	EventDiscarded,
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseEventKind converts user input into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Err: ErrInvalidEventKind, Value: s}
	}
	return k, nil
}

// InteractionEvent is one append-only entry of the interaction log.
type InteractionEvent struct {
	ID         string    `json:"id"`
	SolutionID string    `json:"solution_id"`
	Kind       EventKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}
