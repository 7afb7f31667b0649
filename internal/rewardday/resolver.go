// Package rewardday maps wall-clock instants to canonical reward days.
//
// A reward day is the UTC calendar date of the instant shifted back by a
// configurable hour offset. Both devices of a pair derive the day locally
// from this pure mapping, so no shared clock state exists anywhere.
package rewardday

import (
	"time"
)

// DayFormat is the canonical reward-day layout (UTC calendar date).
const DayFormat = "2006-01-02"

// RewardDay returns the canonical day string for the given instant.
// The offset is taken modulo 24 and may be negative; negative offsets
// express boundaries before UTC midnight.
func RewardDay(at time.Time, offsetHours int) string {
	return shift(at, offsetHours).UTC().Format(DayFormat)
}

// UntilBoundary returns the duration from the given instant to the next
// day-boundary under the same offset transform. The result is always
// positive: an instant exactly on a boundary already belongs to the new
// day, so the next boundary is a full day away.
func UntilBoundary(at time.Time, offsetHours int) time.Duration {
	shifted := shift(at, offsetHours).UTC()
	startOfDay := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	nextBoundary := startOfDay.AddDate(0, 0, 1)
	return nextBoundary.Sub(shifted)
}

// ValidDay reports whether value parses as a canonical day string.
func ValidDay(value string) bool {
	parsed, err := time.Parse(DayFormat, value)
	if err != nil {
		return false
	}
	return parsed.Format(DayFormat) == value
}

func shift(at time.Time, offsetHours int) time.Time {
	normalized := offsetHours % 24
	return at.Add(-time.Duration(normalized) * time.Hour)
}
