package ledger

import (
	"time"
)

// =============================================================================
// SERVICE DAY - The bar's day runs 06:00 to 06:00
// =============================================================================

// ServiceDayStartHour is the local hour at which a new service day begins.
const ServiceDayStartHour = 6

// ServiceDayStart returns the most recent 06:00 boundary in loc at or before now.
// Before 06:00 the service day began at 06:00 the previous calendar day.
func ServiceDayStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), ServiceDayStartHour, 0, 0, 0, loc)
	if local.Before(start) {
		start = time.Date(local.Year(), local.Month(), local.Day()-1, ServiceDayStartHour, 0, 0, 0, loc)
	}
	return start
}

// =============================================================================
// AGE
// =============================================================================

// AgeOn returns the age in whole years on the calendar date of today,
// subtracting one when the birthday has not yet come round this year.
func AgeOn(birthdate, today time.Time) int {
	age := today.Year() - birthdate.Year()
	if today.Month() < birthdate.Month() ||
		(today.Month() == birthdate.Month() && today.Day() < birthdate.Day()) {
		age--
	}
	return age
}

// Date returns the calendar date at UTC midnight, the form used for birthdates.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
