package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/", "/trips", "/trips/u1"}, ancestors("/trips/u1/t1"))
	assert.Equal(t, []string{"/"}, ancestors("/users"))
	assert.Empty(t, ancestors("/"))
}

func TestFlattenAndAssemble(t *testing.T) {
	trip := map[string]interface{}{
		"destinationName": "Rome",
		"coords":          map[string]interface{}{"lat": 41.9, "long": 12.5},
		"tags":            []interface{}{"a", "b"},
		"empty":           map[string]interface{}{},
	}
	docs := flatten("/trips/u1/t1", trip)

	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{
		"/trips/u1/t1/coords/lat",
		"/trips/u1/t1/coords/long",
		"/trips/u1/t1/destinationName",
		"/trips/u1/t1/tags",
	}, paths)
	assert.Equal(t, "/trips/u1/t1/coords", docs[0].Parent)
	assert.Equal(t, 5, docs[0].Depth)

	delete(trip, "empty")
	assert.Equal(t, trip, assemble("/trips/u1/t1", docs))
	assert.Equal(t, map[string]interface{}{"t1": trip}, assemble("/trips/u1", docs))
	assert.Equal(t, 41.9, assemble("/trips/u1/t1/coords/lat", docs))
	assert.Nil(t, assemble("/users", docs))
}

func TestFlatten_Leaf(t *testing.T) {
	docs := flatten("users/u1/name", "Ann")
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "/users/u1/name", docs[0].Path)
		assert.Equal(t, "/users/u1", docs[0].Parent)
		assert.Equal(t, "Ann", docs[0].Value)
	}
	assert.Nil(t, flatten("/x", nil))
}

func TestChildKeyOf(t *testing.T) {
	assert.Equal(t, "t1", childKeyOf("/trips/u1", "/trips/u1/t1/comment"))
	assert.Equal(t, "trips", childKeyOf("/", "/trips/u1"))
	assert.Equal(t, "", childKeyOf("/trips/u1", "/trips/u1"))
	assert.Equal(t, "", childKeyOf("/trips/u1", "/trips/u2/t1"))
}

func TestChangeFilter(t *testing.T) {
	match := changeFilter("/trips/u1")
	assert.Equal(t, "$match", match[0].Key)
	assert.Equal(t, bson.M{"documentKey._id": bson.M{"$regex": "^/trips/u1/"}}, match[0].Value)

	root := changeFilter("/")
	assert.Equal(t, bson.M{"documentKey._id": bson.M{"$regex": "^/"}}, root[0].Value)
}

func TestFromBSON(t *testing.T) {
	in := primitive.D{
		{Key: "n", Value: int32(3)},
		{Key: "big", Value: int64(7)},
		{Key: "list", Value: primitive.A{"x", primitive.M{"k": int32(1)}}},
		{Key: "null", Value: primitive.Null{}},
		{Key: "s", Value: "str"},
	}
	assert.Equal(t, map[string]interface{}{
		"n":    3.0,
		"big":  7.0,
		"list": []interface{}{"x", map[string]interface{}{"k": 1.0}},
		"null": nil,
		"s":    "str",
	}, fromBSON(in))
}
