package redis

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-planner/internal/tripplanner/domain/model"
)

func TestKeyspace(t *testing.T) {
	k := keyspace{prefix: "tp"}
	assert.Equal(t, "tp:node:/trips/u1", k.node("trips/u1/"))
	assert.Equal(t, "tp:node:/", k.node("/"))
	assert.Equal(t, "tp:events:/trips/u1", k.stream("/trips/u1"))
	assert.Equal(t, "tp:version", k.version())
	assert.Equal(t, "tp:watched", k.watched())
}

func TestFieldEncoding(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		raw    string
		object bool
	}{
		{"object", map[string]interface{}{"a": 1.0}, "{}", true},
		{"string", "Rome", `"Rome"`, false},
		{"string that looks like a marker", "{}", `"{}"`, false},
		{"number", 41.9, "41.9", false},
		{"bool", true, "true", false},
		{"array", []interface{}{"a", 1.0}, `["a",1]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := encodeField(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, raw)

			value, isObject, err := decodeField(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.object, isObject)
			if !tt.object {
				assert.Equal(t, tt.value, value)
			}
		})
	}

	_, _, err := decodeField("{broken")
	assert.Error(t, err)
}

func TestRelevantTopics(t *testing.T) {
	watched := []string{"/users", "/trips/u1", "/trips/u2", "/", "/trips/u1/t1"}
	assert.Equal(t, []string{"/", "/trips/u1", "/trips/u1/t1"}, relevantTopics(watched, "/trips/u1/t1"))
	assert.Equal(t, []string{"/", "/trips/u1", "/trips/u1/t1", "/trips/u2"}, relevantTopics(watched, "/trips"))
	assert.Equal(t, []string{"/", "/users"}, relevantTopics(watched, "/users/x"))
	assert.Empty(t, relevantTopics([]string{"/users"}, "/trips"))
}

func TestRelSegments(t *testing.T) {
	assert.Equal(t, []string{"u1", "t1"}, relSegments("/trips", "/trips/u1/t1"))
	assert.Equal(t, []string{"trips"}, relSegments("/", "/trips"))
	assert.Empty(t, relSegments("/trips", "/trips"))
}

func TestCompact(t *testing.T) {
	value := map[string]interface{}{
		"a": map[string]interface{}{},
		"b": map[string]interface{}{"c": map[string]interface{}{}},
		"d": "keep",
	}
	assert.Equal(t, map[string]interface{}{"d": "keep"}, compact(value))
	assert.Nil(t, compact(map[string]interface{}{"a": map[string]interface{}{}}))
	assert.Equal(t, "x", compact("x"))
}

func TestReplaceIn(t *testing.T) {
	tree := map[string]interface{}{"u1": map[string]interface{}{"t1": "a", "t2": "b"}}
	after := replaceIn(tree, []string{"u1", "t1"}, nil)
	assert.Equal(t, map[string]interface{}{"u1": map[string]interface{}{"t2": "b"}}, after)
	assert.Equal(t, "a", lookupIn(tree, []string{"u1", "t1"}), "input is not modified")

	assert.Nil(t, replaceIn(map[string]interface{}{"x": "y"}, []string{"x"}, nil))
	assert.Equal(t, "new", replaceIn(tree, nil, "new"))
	assert.Equal(t, map[string]interface{}{"a": 1.0}, replaceIn(nil, []string{"a"}, 1.0))
}

func TestEventEncoding(t *testing.T) {
	event := model.ChildEvent{
		Type:  model.ChildChanged,
		Path:  "/trips/u1",
		Key:   "t1",
		Value: map[string]interface{}{"comment": "x"},
	}
	values, err := encodeEvent(event)
	require.NoError(t, err)

	// stream entries come back as strings
	msg := goredis.XMessage{ID: "1-0", Values: map[string]interface{}{}}
	for k, v := range values {
		msg.Values[k] = v
	}
	decoded, err := decodeEvent("/trips/u1", msg)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)

	removed, err := encodeEvent(model.ChildEvent{Type: model.ChildRemoved, Path: "/trips/u1", Key: "t1"})
	require.NoError(t, err)
	assert.NotContains(t, removed, "value")

	_, err = decodeEvent("/p", goredis.XMessage{ID: "2-0", Values: map[string]interface{}{"type": "bogus", "key": "k"}})
	assert.Error(t, err)
	_, err = decodeEvent("/p", goredis.XMessage{ID: "3-0", Values: map[string]interface{}{"type": "child_added"}})
	assert.Error(t, err)
}

func TestCompareStreamIDs(t *testing.T) {
	assert.Equal(t, 0, compareStreamIDs("5-1", "5-1"))
	assert.Equal(t, -1, compareStreamIDs("5-1", "5-2"))
	assert.Equal(t, 1, compareStreamIDs("6-0", "5-9"))
	// numeric, not lexical
	assert.Equal(t, 1, compareStreamIDs("10-0", "9-0"))
	assert.Equal(t, -1, compareStreamIDs("0-0", "1-0"))
}

func TestApplyEvent(t *testing.T) {
	children := map[string]interface{}{"a": 1.0}
	applyEvent(children, model.ChildEvent{Type: model.ChildAdded, Key: "b", Value: 2.0})
	applyEvent(children, model.ChildEvent{Type: model.ChildChanged, Key: "a", Value: 3.0})
	assert.Equal(t, map[string]interface{}{"a": 3.0, "b": 2.0}, children)
	applyEvent(children, model.ChildEvent{Type: model.ChildRemoved, Key: "a"})
	assert.Equal(t, map[string]interface{}{"b": 2.0}, children)
}
