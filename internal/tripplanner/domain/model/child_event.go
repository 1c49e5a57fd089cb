package model

// ChildEventType is the kind of change observed under a subscribed path
type ChildEventType string

const (
	ChildAdded   ChildEventType = "child_added"
	ChildChanged ChildEventType = "child_changed"
	ChildRemoved ChildEventType = "child_removed"
)

// IsValid reports whether t is a known event type
func (t ChildEventType) IsValid() bool {
	return t == ChildAdded || t == ChildChanged || t == ChildRemoved
}

// ChildEvent is one change to a direct child of Path. Value is the child's
// payload (nil for removals).
type ChildEvent struct {
	Type  ChildEventType `json:"type"`
	Path  string         `json:"path"`
	Key   string         `json:"key"`
	Value interface{}    `json:"value,omitempty"`
}
