package codec

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestUserCodec_RoundTrip(t *testing.T) {
	c := UserCodec()
	u := model.User{Name: "Ann", Email: "ann@example.com", Role: model.RoleManager}

	payload := c.Encode(u)
	assert.Equal(t, map[string]interface{}{"name": "Ann", "email": "ann@example.com", "role": "manager"}, payload)

	got, err := c.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestDecodeUser_Defaults(t *testing.T) {
	u, err := DecodeUser(map[string]interface{}{"key": "u1", "role": "superuser", "name": 5})
	require.NoError(t, err)
	assert.Equal(t, model.User{Key: "u1", Role: model.RoleUser}, u)

	_, err = DecodeUser(nil)
	assert.True(t, apperrors.IsDecode(err))
}

func TestTripCodec_RoundTripDropsTimeOfDay(t *testing.T) {
	c := TripCodec(fixedClock)
	trip := model.Trip{
		DestinationName:      "Lisbon",
		DestinationLatitude:  38.72,
		DestinationLongitude: -9.14,
		StartDate:            time.Date(2024, 6, 3, 17, 45, 0, 0, time.UTC),
		EndDate:              time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC),
		Comment:              "conference",
	}

	payload := c.Encode(trip)
	assert.Equal(t, "03-06-2024", payload["startDate"])
	assert.Equal(t, "09-06-2024", payload["endDate"])

	got, err := c.Decode(payload)
	require.NoError(t, err)

	want := trip
	want.StartDate = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	want.EndDate = time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
}

func TestDecodeTrip_Defaults(t *testing.T) {
	c := TripCodec(fixedClock)
	got, err := c.Decode(map[string]interface{}{
		"key":             "t1",
		"destinationLat":  "12.5",
		"destinationLong": json.Number("7"),
		"startDate":       "not a date",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Key)
	assert.Equal(t, "", got.DestinationName)
	assert.Equal(t, 12.5, got.DestinationLatitude)
	assert.Equal(t, 7.0, got.DestinationLongitude)
	assert.Equal(t, fixedNow, got.StartDate)
	assert.Equal(t, fixedNow, got.EndDate)
}

func TestDecodeTrip_IntegerCoordinates(t *testing.T) {
	got, err := DecodeTrip(map[string]interface{}{"destinationLat": 10, "destinationLong": int64(-3)})
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.DestinationLatitude)
	assert.Equal(t, -3.0, got.DestinationLongitude)
}

func TestDecodeTrip_NilPayload(t *testing.T) {
	_, err := TripCodec(fixedClock).Decode(nil)
	assert.True(t, apperrors.IsDecode(err))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 31-12-2023 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("2023-12-31")
	assert.Error(t, err)
}
