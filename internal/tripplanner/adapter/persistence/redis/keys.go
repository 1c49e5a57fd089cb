package redis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/tripplanner/domain/model"
)

// objectMarker is stored in a parent hash for children that are objects. The
// object itself lives in its own hash. Leaves are stored as JSON and can never
// encode to a bare "{}" because empty objects are not stored.
const objectMarker = "{}"

type keyspace struct {
	prefix string
}

// node is the hash holding the direct children of path
func (k keyspace) node(path string) string {
	return k.prefix + ":node:" + dbpath.Normalize(path)
}

// stream is the child event stream of path
func (k keyspace) stream(path string) string {
	return k.prefix + ":events:" + dbpath.Normalize(path)
}

// version is bumped by every write and every new subscription
func (k keyspace) version() string {
	return k.prefix + ":version"
}

// watched counts live subscriptions per path across all processes
func (k keyspace) watched() string {
	return k.prefix + ":watched"
}

func encodeField(value interface{}) (string, error) {
	if _, ok := value.(map[string]interface{}); ok {
		return objectMarker, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeField returns the leaf value, or isObject when the child has its own hash
func decodeField(raw string) (value interface{}, isObject bool, err error) {
	if raw == objectMarker {
		return nil, true, nil
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("corrupt field %q: %w", raw, err)
	}
	return value, false, nil
}

// relevantTopics returns the watched paths whose children a write at target
// may change, sorted.
func relevantTopics(watched []string, target string) []string {
	target = dbpath.Normalize(target)
	var topics []string
	for _, w := range watched {
		w = dbpath.Normalize(w)
		if w == target || dbpath.IsAncestor(w, target) || dbpath.IsAncestor(target, w) {
			topics = append(topics, w)
		}
	}
	sort.Strings(topics)
	return topics
}

// relSegments returns the segments leading from ancestor down to path
func relSegments(ancestor, path string) []string {
	return dbpath.Segments(path)[dbpath.Depth(ancestor):]
}

// compact drops empty objects so the stored tree matches what reads return
func compact(value interface{}) interface{} {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value
	}
	for k, v := range m {
		if c := compact(v); c == nil {
			delete(m, k)
		} else {
			m[k] = c
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func encodeEvent(event model.ChildEvent) (map[string]interface{}, error) {
	values := map[string]interface{}{
		"type": string(event.Type),
		"key":  event.Key,
	}
	if event.Value != nil {
		raw, err := json.Marshal(event.Value)
		if err != nil {
			return nil, err
		}
		values["value"] = string(raw)
	}
	return values, nil
}

func decodeEvent(path string, msg goredis.XMessage) (model.ChildEvent, error) {
	event := model.ChildEvent{Path: path}
	if s, ok := msg.Values["type"].(string); ok {
		event.Type = model.ChildEventType(s)
	}
	if !event.Type.IsValid() {
		return event, fmt.Errorf("message %s: unknown event type %v", msg.ID, msg.Values["type"])
	}
	event.Key, _ = msg.Values["key"].(string)
	if event.Key == "" {
		return event, fmt.Errorf("message %s: missing key", msg.ID)
	}
	if raw, ok := msg.Values["value"].(string); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &event.Value); err != nil {
			return event, fmt.Errorf("message %s: %w", msg.ID, err)
		}
	}
	return event, nil
}

// compareStreamIDs orders two stream entry ids of the form <ms>-<seq>
func compareStreamIDs(a, b string) int {
	am, as := splitStreamID(a)
	bm, bs := splitStreamID(b)
	switch {
	case am < bm || (am == bm && as < bs):
		return -1
	case am > bm || as > bs:
		return 1
	}
	return 0
}

func splitStreamID(id string) (ms, seq uint64) {
	head, tail, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseUint(head, 10, 64)
	seq, _ = strconv.ParseUint(tail, 10, 64)
	return ms, seq
}
