package model

// Record is anything an ObjectStore can hold. An empty key means the record
// has not been written to the backend yet.
type Record interface {
	StoreKey() string
}

// SameEntity reports whether a and b denote the same stored entity
func SameEntity(a, b Record) bool {
	return a.StoreKey() != "" && a.StoreKey() == b.StoreKey()
}
