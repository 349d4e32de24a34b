package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (leave, holidays and accruals are day-granular)
// =============================================================================

// Date is a calendar day at midnight UTC.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }

// Properties
func (d Date) Year() int              { return d.Time.Year() }
func (d Date) Month() time.Month      { return d.Time.Month() }
func (d Date) Day() int               { return d.Time.Day() }
func (d Date) Weekday() time.Weekday  { return d.Time.Weekday() }
func (d Date) IsZero() bool           { return d.Time.IsZero() }
func (d Date) String() string         { return d.Time.Format(dateLayout) }
func (d Date) AddDays(n int) Date     { return Date{Time: d.Time.AddDate(0, 0, n)} }

// AddMonths steps n calendar months forward and lands on anchorDay, clamped to
// the length of the target month. Jan 31 + 1 month is Feb 28 (or 29), never
// Mar 3. An anchorDay of 0 keeps the current day of month.
func (d Date) AddMonths(n, anchorDay int) Date {
	if anchorDay <= 0 {
		anchorDay = d.Day()
	}
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := anchorDay
	if last := DaysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

// At returns the instant this day starts in loc.
func (d Date) At(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b Date) int { return int(b.Time.Sub(a.Time).Hours() / 24) }

func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return NewDate(year, month, DaysInMonth(year, month))
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts "now" so schedulers and engines are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T. Tests advance it by assigning T.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Today returns the current calendar day of clock in loc.
func Today(clock Clock, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(clock.Now().In(loc))
}
