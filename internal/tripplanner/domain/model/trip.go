package model

import (
	"math"
	"time"
)

// TripStatus describes where a trip is relative to a point in time
type TripStatus string

const (
	TripUpcoming   TripStatus = "upcoming"
	TripInProgress TripStatus = "in_progress"
	TripFinished   TripStatus = "finished"
)

// Trip is a planned journey stored under /trips/<uid>/<tripId>
type Trip struct {
	Key                  string    `json:"key,omitempty"`
	DestinationName      string    `json:"destinationName"`
	DestinationLatitude  float64   `json:"destinationLat"`
	DestinationLongitude float64   `json:"destinationLong"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	Comment              string    `json:"comment"`
}

// StoreKey implements Record
func (t Trip) StoreKey() string { return t.Key }

// HasDestination reports whether a destination was picked
func (t Trip) HasDestination() bool {
	return t.DestinationName != ""
}

// Status classifies the trip against now, at day granularity in UTC
func (t Trip) Status(now time.Time) TripStatus {
	today := StartOfDay(now)
	switch {
	case StartOfDay(t.StartDate).After(today):
		return TripUpcoming
	case StartOfDay(t.EndDate).Before(today):
		return TripFinished
	default:
		return TripInProgress
	}
}

// DaysUntilStart returns the whole days from now until the start date, never negative
func (t Trip) DaysUntilStart(now time.Time) int {
	d := StartOfDay(t.StartDate).Sub(StartOfDay(now)).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Round(d))
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
