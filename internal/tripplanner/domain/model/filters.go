package model

import (
	"sort"
	"strings"
	"time"
)

// TripFilter selects trips by status
type TripFilter string

const (
	FilterAll        TripFilter = "all"
	FilterUpcoming   TripFilter = "upcoming"
	FilterInProgress TripFilter = "in_progress"
	FilterFinished   TripFilter = "finished"
)

// MonthPlanWindow is how far ahead the month plan looks
const MonthPlanWindow = 30 * 24 * time.Hour

// FilterTrips keeps the trips matching filter, preserving order
func FilterTrips(trips []Trip, filter TripFilter, now time.Time) []Trip {
	if filter == FilterAll || filter == "" {
		return append([]Trip(nil), trips...)
	}
	result := make([]Trip, 0, len(trips))
	for _, t := range trips {
		if string(t.Status(now)) == string(filter) {
			result = append(result, t)
		}
	}
	return result
}

// SearchTrips matches query against the destination, case-insensitively
func SearchTrips(trips []Trip, query string) []Trip {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]Trip(nil), trips...)
	}
	result := make([]Trip, 0, len(trips))
	for _, t := range trips {
		if strings.Contains(strings.ToLower(t.DestinationName), q) {
			result = append(result, t)
		}
	}
	return result
}

// MonthPlan returns trips starting after today and within the next 30 days, by start date
func MonthPlan(trips []Trip, now time.Time) []Trip {
	from := StartOfDay(now)
	to := from.Add(MonthPlanWindow)

	result := make([]Trip, 0, len(trips))
	for _, t := range trips {
		if t.StartDate.After(from) && t.StartDate.Before(to) {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result
}

// FilterUsersByRole keeps users with the given role
func FilterUsersByRole(users []User, role UserRole) []User {
	result := make([]User, 0, len(users))
	for _, u := range users {
		if u.Role == role {
			result = append(result, u)
		}
	}
	return result
}

// SearchUsers matches query against name or email, case-insensitively
func SearchUsers(users []User, query string) []User {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]User(nil), users...)
	}
	result := make([]User, 0, len(users))
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
			result = append(result, u)
		}
	}
	return result
}
