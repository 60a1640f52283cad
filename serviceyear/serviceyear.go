/*
Package serviceyear derives the reporting cycle from calendar dates.

PURPOSE:
  Congregation activity is reported against a "service year", a fiscal
  year running September through August and identified by the calendar
  year in which it ends. Every screen that mentions a year means a
  service year, so the derivation lives in exactly one place.

BOUNDARY RULE:
  A date in September or later belongs to the NEXT calendar year's
  service year:

    2024-08-31 -> service year 2024
    2024-09-01 -> service year 2025

  The rule is applied identically whether the reference date is the
  local clock or the collaborator's reporting anchor. Two call sites
  given the same date must agree.

SEE ALSO:
  - month.go: Year-month period keys and display labels
*/
package serviceyear

import "time"

// Year identifies one September-August reporting cycle by the calendar
// year in which it ends.
type Year int

// boundaryMonth is the first month of a new cycle.
const boundaryMonth = time.September

// For returns the service year containing the given date.
func For(t time.Time) Year {
	if t.Month() >= boundaryMonth {
		return Year(t.Year() + 1)
	}
	return Year(t.Year())
}

// Current returns the service year for the local clock. Call sites that
// have a collaborator-supplied anchor date should use For(anchor)
// instead, and only fall back to Current when the anchor is unavailable.
func Current() Year {
	return For(time.Now())
}

// Span returns the first and last day of the service year.
func (y Year) Span() (start, end time.Time) {
	start = time.Date(int(y)-1, boundaryMonth, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(1, 0, -1)
	return start, end
}

// Months returns the twelve period keys of the service year, September
// through August, in reporting order.
func (y Year) Months() []Month {
	months := make([]Month, 0, 12)
	for i := 0; i < 12; i++ {
		t := time.Date(int(y)-1, boundaryMonth+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		months = append(months, Month{Year: t.Year(), Month: t.Month()})
	}
	return months
}

// Contains reports whether the month falls inside the service year.
func (y Year) Contains(m Month) bool {
	return For(m.First()) == y
}
