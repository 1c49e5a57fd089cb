package service

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"trip-planner/internal/tripplanner/domain/model"
)

// Children returns the direct children of a value. Non-map values have none.
func Children(value interface{}) map[string]interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// DiffChildren compares two child sets of path and returns the events that turn
// before into after: removals first, then additions, then changes, each sorted by key.
func DiffChildren(path string, before, after map[string]interface{}) []model.ChildEvent {
	var removed, added, changed []model.ChildEvent

	for key := range before {
		if _, ok := after[key]; !ok {
			removed = append(removed, model.ChildEvent{Type: model.ChildRemoved, Path: path, Key: key})
		}
	}
	for key, value := range after {
		old, ok := before[key]
		switch {
		case !ok:
			added = append(added, model.ChildEvent{Type: model.ChildAdded, Path: path, Key: key, Value: value})
		case !reflect.DeepEqual(old, value):
			changed = append(changed, model.ChildEvent{Type: model.ChildChanged, Path: path, Key: key, Value: value})
		}
	}

	sortByKey(removed)
	sortByKey(added)
	sortByKey(changed)

	events := make([]model.ChildEvent, 0, len(removed)+len(added)+len(changed))
	events = append(events, removed...)
	events = append(events, added...)
	return append(events, changed...)
}

// SnapshotEvents returns child_added for every child, sorted by key
func SnapshotEvents(path string, children map[string]interface{}) []model.ChildEvent {
	return DiffChildren(path, nil, children)
}

func sortByKey(events []model.ChildEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].Key < events[j].Key })
}

// Normalize converts an arbitrary value into its JSON-like form (maps of
// interface{}, float64 numbers) so stored values compare predictably.
func Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-encodable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewKey returns a time ordered child key
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
