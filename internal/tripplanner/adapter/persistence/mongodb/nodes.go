package mongodb

import (
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/tripplanner/domain/service"
)

// leafDocument is one stored leaf of the tree. Objects are implied by the
// paths of their leaves, so an empty object is never stored.
type leafDocument struct {
	Path      string      `bson:"_id"`
	Parent    string      `bson:"parent"`
	Ancestors []string    `bson:"ancestors"`
	Depth     int         `bson:"depth"`
	Value     interface{} `bson:"value"`
}

// ancestors returns every proper ancestor of path, root first
func ancestors(path string) []string {
	segments := dbpath.Segments(path)
	out := make([]string, 0, len(segments))
	for i := 0; i < len(segments); i++ {
		out = append(out, dbpath.Join(segments[:i]...))
	}
	return out
}

// flatten turns value at path into leaf documents
func flatten(path string, value interface{}) []leafDocument {
	path = dbpath.Normalize(path)
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var docs []leafDocument
		for _, k := range keys {
			docs = append(docs, flatten(dbpath.Child(path, k), v[k])...)
		}
		return docs
	default:
		return []leafDocument{{
			Path:      path,
			Parent:    dbpath.Parent(path),
			Ancestors: ancestors(path),
			Depth:     dbpath.Depth(path),
			Value:     value,
		}}
	}
}

// assemble rebuilds the value at path from the leaves at or below it
func assemble(path string, docs []leafDocument) interface{} {
	path = dbpath.Normalize(path)
	root := make(map[string]interface{})
	for _, doc := range docs {
		value := fromBSON(doc.Value)
		if doc.Path == path {
			return value
		}
		if !dbpath.IsAncestor(path, doc.Path) {
			continue
		}
		service.Assign(root, dbpath.Segments(doc.Path)[dbpath.Depth(path):], value)
	}
	if len(root) == 0 {
		return nil
	}
	return root
}

// subtreeFilter matches the leaf at path and every leaf below it
func subtreeFilter(path string) bson.M {
	path = dbpath.Normalize(path)
	return bson.M{"$or": bson.A{
		bson.M{"_id": path},
		bson.M{"ancestors": path},
	}}
}

// changeFilter matches change events for documents strictly below path
func changeFilter(path string) bson.D {
	prefix := dbpath.Normalize(path)
	if !dbpath.IsRoot(prefix) {
		prefix += "/"
	}
	return bson.D{{Key: "$match", Value: bson.M{
		"documentKey._id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	}}}
}

// childKeyOf returns the direct child of parent that leads to path
func childKeyOf(parent, path string) string {
	parent, path = dbpath.Normalize(parent), dbpath.Normalize(path)
	if !dbpath.IsAncestor(parent, path) {
		return ""
	}
	return dbpath.Segments(path)[dbpath.Depth(parent)]
}

// fromBSON converts decoded BSON into the JSON-like form used by the backends
func fromBSON(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.A:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = fromBSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(v))
		for _, e := range v {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = fromBSON(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = fromBSON(item)
		}
		return out
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
