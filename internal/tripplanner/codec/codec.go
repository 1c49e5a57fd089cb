// Package codec maps typed records to the raw field maps stored in the backend.
package codec

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/domain/model"
)

// DateLayout is the stored form of trip dates (dd-MM-yyyy, UTC)
const DateLayout = "02-01-2006"

// KeyField is merged into payloads by the store before decoding
const KeyField = "key"

// Codec converts between a record and its stored payload. Both directions are pure.
type Codec[T model.Record] struct {
	Encode func(T) map[string]interface{}
	Decode func(map[string]interface{}) (T, error)
}

// Clock returns the current time. Decoding a missing date falls back to it.
type Clock func() time.Time

// UserCodec stores {name, email, role}
func UserCodec() Codec[model.User] {
	return Codec[model.User]{Encode: EncodeUser, Decode: DecodeUser}
}

// TripCodec stores the trip payload, using clock for missing dates
func TripCodec(clock Clock) Codec[model.Trip] {
	if clock == nil {
		clock = time.Now
	}
	return Codec[model.Trip]{
		Encode: EncodeTrip,
		Decode: func(m map[string]interface{}) (model.Trip, error) { return decodeTrip(m, clock) },
	}
}

// EncodeUser returns the stored payload of u. The key is never part of it.
func EncodeUser(u model.User) map[string]interface{} {
	role := u.Role
	if !role.IsValid() {
		role = model.RoleUser
	}
	return map[string]interface{}{
		"name":  u.Name,
		"email": u.Email,
		"role":  string(role),
	}
}

// DecodeUser builds a User from a payload, defaulting missing fields
func DecodeUser(m map[string]interface{}) (model.User, error) {
	if m == nil {
		return model.User{}, errors.NewDecodeError("Missing user payload", nil)
	}
	return model.User{
		Key:   stringField(m, KeyField),
		Name:  stringField(m, "name"),
		Email: stringField(m, "email"),
		Role:  model.ParseUserRole(stringField(m, "role")),
	}, nil
}

// EncodeTrip returns the stored payload of t
func EncodeTrip(t model.Trip) map[string]interface{} {
	return map[string]interface{}{
		"destinationName": t.DestinationName,
		"destinationLat":  t.DestinationLatitude,
		"destinationLong": t.DestinationLongitude,
		"startDate":       FormatDate(t.StartDate),
		"endDate":         FormatDate(t.EndDate),
		"comment":         t.Comment,
	}
}

// DecodeTrip builds a Trip from a payload using the wall clock for missing dates
func DecodeTrip(m map[string]interface{}) (model.Trip, error) {
	return decodeTrip(m, time.Now)
}

func decodeTrip(m map[string]interface{}, clock Clock) (model.Trip, error) {
	if m == nil {
		return model.Trip{}, errors.NewDecodeError("Missing trip payload", nil)
	}
	return model.Trip{
		Key:                  stringField(m, KeyField),
		DestinationName:      stringField(m, "destinationName"),
		DestinationLatitude:  floatField(m, "destinationLat"),
		DestinationLongitude: floatField(m, "destinationLong"),
		StartDate:            dateField(m, "startDate", clock),
		EndDate:              dateField(m, "endDate", clock),
		Comment:              stringField(m, "comment"),
	}, nil
}

// FormatDate renders the UTC calendar date of t
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a stored date as midnight UTC
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

func stringField(m map[string]interface{}, name string) string {
	if s, ok := m[name].(string); ok {
		return s
	}
	return ""
}

func floatField(m map[string]interface{}, name string) float64 {
	switch v := m[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func dateField(m map[string]interface{}, name string, clock Clock) time.Time {
	if s, ok := m[name].(string); ok {
		if t, err := ParseDate(s); err == nil {
			return t
		}
	}
	return clock().UTC()
}
