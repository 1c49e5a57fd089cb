// Package dbpath parses and builds slash separated paths into the hierarchical store.
package dbpath

import (
	"fmt"
	"strings"
	"unicode"

	"trip-planner/internal/shared/errors"
)

// Root is the canonical form of the tree root
const Root = "/"

// MaxKeyBytes is the longest child key accepted by the backends
const MaxKeyBytes = 768

const forbiddenKeyChars = ".$#[]/"

// Segments splits a path into its non-empty segments
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Normalize returns the canonical form of path: a leading slash, no trailing
// slash and no empty segments. Normalize("") is Root.
func Normalize(path string) string {
	segments := Segments(path)
	if len(segments) == 0 {
		return Root
	}
	return "/" + strings.Join(segments, "/")
}

// Join joins segments into a canonical path
func Join(segments ...string) string {
	var all []string
	for _, s := range segments {
		all = append(all, Segments(s)...)
	}
	if len(all) == 0 {
		return Root
	}
	return "/" + strings.Join(all, "/")
}

// Child appends a single key to parent
func Child(parent, key string) string {
	parent = Normalize(parent)
	if parent == Root {
		return Root + key
	}
	return parent + "/" + key
}

// Parent returns the parent path. The parent of Root is Root.
func Parent(path string) string {
	segments := Segments(path)
	if len(segments) <= 1 {
		return Root
	}
	return "/" + strings.Join(segments[:len(segments)-1], "/")
}

// Key returns the last segment of path, or "" for Root
func Key(path string) string {
	segments := Segments(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Depth returns the number of segments in path
func Depth(path string) int {
	return len(Segments(path))
}

// IsRoot reports whether path denotes the tree root
func IsRoot(path string) bool {
	return Depth(path) == 0
}

// IsValidKey checks a single child key
func IsValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyBytes {
		return false
	}
	for _, r := range key {
		if strings.ContainsRune(forbiddenKeyChars, r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidateKey returns ErrInvalidKey for keys the backends cannot store
func ValidateKey(key string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidKey, key)
	}
	return nil
}

// ValidatePath validates every segment of a path. Root is valid.
func ValidatePath(path string) error {
	for i, segment := range Segments(path) {
		if !IsValidKey(segment) {
			return fmt.Errorf("%w: segment %d %q of %s", errors.ErrInvalidPath, i, segment, path)
		}
	}
	return nil
}

// IsAncestor reports whether ancestor is a strict prefix of path by segments
func IsAncestor(ancestor, path string) bool {
	a := Segments(ancestor)
	p := Segments(path)
	if len(a) >= len(p) {
		return false
	}
	for i := range a {
		if a[i] != p[i] {
			return false
		}
	}
	return true
}

// Match matches path against a pattern such as "/trips/{uid}/{tripId}".
// Wildcard segments bind the corresponding path segment by name.
func Match(pattern, path string) (map[string]string, bool) {
	ps := Segments(pattern)
	ss := Segments(path)
	if len(ps) != len(ss) {
		return nil, false
	}

	vars := make(map[string]string)
	for i, p := range ps {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") && len(p) > 2 {
			vars[p[1:len(p)-1]] = ss[i]
			continue
		}
		if p != ss[i] {
			return nil, false
		}
	}
	return vars, true
}
