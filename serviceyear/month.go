package serviceyear

import (
	"fmt"
	"time"
)

// Month is a year-month period key, the unit every monthly report is
// filed against.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the period key containing the given date.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "2006-01" period key. A full "2006-01-02" date is
// also accepted; the day is ignored.
func ParseMonth(s string) (Month, error) {
	if t, err := time.Parse("2006-01", s); err == nil {
		return MonthOf(t), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid period key %q", s)
	}
	return MonthOf(t), nil
}

// String returns the wire form "2006-01".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// First returns the first day of the month.
func (m Month) First() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Last returns the last day of the month.
func (m Month) Last() time.Time {
	return m.First().AddDate(0, 1, -1)
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return MonthOf(m.First().AddDate(0, -1, 0))
}

// Next returns the following month.
func (m Month) Next() Month {
	return MonthOf(m.First().AddDate(0, 1, 0))
}

// ServiceYear returns the service year the month belongs to.
func (m Month) ServiceYear() Year {
	return For(m.First())
}

// Spanish month names, matching how the records service labels periods.
var monthNames = map[time.Month]string{
	time.January:   "enero",
	time.February:  "febrero",
	time.March:     "marzo",
	time.April:     "abril",
	time.May:       "mayo",
	time.June:      "junio",
	time.July:      "julio",
	time.August:    "agosto",
	time.September: "septiembre",
	time.October:   "octubre",
	time.November:  "noviembre",
	time.December:  "diciembre",
}

// Label returns the display label for the month, e.g. "marzo de 2024".
func (m Month) Label() string {
	return fmt.Sprintf("%s de %d", monthNames[m.Month], m.Year)
}

// WeekdayCount returns how many times the given weekday occurs in the
// month. The annual attendance report lays out one column per meeting
// week, so a month contributes four or five entries.
func (m Month) WeekdayCount(wd time.Weekday) int {
	count := 0
	for d := m.First(); d.Month() == m.Month; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == wd {
			count++
		}
	}
	return count
}

// Weeks returns the maximum number of meeting weeks in the month across
// all weekdays: 5 when any weekday occurs five times, else 4.
func (m Month) Weeks() int {
	if m.First().AddDate(0, 0, 28).Month() == m.Month {
		return 5
	}
	return 4
}
