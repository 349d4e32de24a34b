package generic

import "time"

// =============================================================================
// PERIOD - Inclusive day range
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
type Period struct {
	Start Date
	End   Date
}

// MonthPeriod returns the period covering a whole calendar month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool { return !p.End.Before(p.Start) }

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps returns true if the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// Days returns all days in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Len returns the number of days in the period.
func (p Period) Len() int {
	if !p.Valid() {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
