// Package period classifies instants into ISO-8601 weeks and resolves the
// week filters used by transaction listings.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// PreviousWeeksCap bounds the rows returned for the "previous" filter.
	PreviousWeeksCap = 100
	// AllWeeksCap bounds the rows returned for the "all" filter.
	AllWeeksCap = 200
)

var ErrInvalidFilter = errors.New("invalid week filter")

// Week is an ISO-8601 week of an ISO year.
type Week struct {
	Number int `json:"week_number"`
	Year   int `json:"year"`
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}

// Mode selects how a Filter is resolved.
type Mode int

const (
	ModeCurrent Mode = iota
	ModePrevious
	ModeAll
	ModeExplicit
)

func (m Mode) String() string {
	switch m {
	case ModeCurrent:
		return "current"
	case ModePrevious:
		return "previous"
	case ModeAll:
		return "all"
	case ModeExplicit:
		return "explicit"
	}
	return "unknown"
}

// Filter is a parsed week filter token. Week is only meaningful for ModeExplicit.
type Filter struct {
	Mode Mode
	Week Week
}

// Predicate is a resolved filter that a store can apply directly.
type Predicate struct {
	// Exact restricts rows to one week.
	Exact *Week
	// Before restricts rows to Year == Before.Year and week_number < Before.Number.
	Before *Week
	// MaxRows caps the result size; 0 means no cap.
	MaxRows int
	// WeekOrder sorts by week descending before created_at.
	WeekOrder bool
}

// Matches reports whether a row stamped with w satisfies the predicate.
func (p Predicate) Matches(w Week) bool {
	if p.Exact != nil {
		return w == *p.Exact
	}
	if p.Before != nil {
		return w.Year == p.Before.Year && w.Number < p.Before.Number
	}
	return true
}

// Limit combines a caller-requested page size with the predicate cap.
// A result of 0 means unbounded.
func (p Predicate) Limit(requested int) int {
	if p.MaxRows > 0 && (requested <= 0 || requested > p.MaxRows) {
		return p.MaxRows
	}
	if requested < 0 {
		return 0
	}
	return requested
}

// Classifier computes ISO weeks and calendar days in a fixed location.
type Classifier struct {
	loc *time.Location
	now func() time.Time
}

func NewClassifier(loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{loc: loc, now: time.Now}
}

// WithClock returns a copy of the classifier reading time from now.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	return &Classifier{loc: c.loc, now: now}
}

func (c *Classifier) Location() *time.Location { return c.loc }

// Now returns the current instant in the classifier's location.
func (c *Classifier) Now() time.Time { return c.now().In(c.loc) }

// Classify returns the ISO week containing t.
func (c *Classifier) Classify(t time.Time) Week {
	year, week := t.In(c.loc).ISOWeek()
	return Week{Number: week, Year: year}
}

// Current returns the ISO week containing now.
func (c *Classifier) Current() Week {
	return c.Classify(c.Now())
}

// DayStart returns midnight of the calendar day containing t.
func (c *Classifier) DayStart(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// DayEnd returns the last microsecond of the calendar day containing t.
// Microseconds match Postgres timestamp precision.
func (c *Classifier) DayEnd(t time.Time) time.Time {
	return c.DayStart(t).AddDate(0, 0, 1).Add(-time.Microsecond)
}

// WeeksInYear returns 52 or 53. December 28th always falls in the last ISO week.
func WeeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 12, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// ParseFilter parses the week/year query pair. An empty week means "current".
// A numeric week without a year is taken from the current ISO year.
func (c *Classifier) ParseFilter(week, year string) (Filter, error) {
	week = strings.ToLower(strings.TrimSpace(week))
	year = strings.TrimSpace(year)

	switch week {
	case "", "current":
		return Filter{Mode: ModeCurrent}, nil
	case "previous":
		return Filter{Mode: ModePrevious}, nil
	case "all":
		return Filter{Mode: ModeAll}, nil
	}

	n, err := strconv.Atoi(week)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, week)
	}

	y := c.Current().Year
	if year != "" {
		y, err = strconv.Atoi(year)
		if err != nil || y < 1970 || y > 9999 {
			return Filter{}, fmt.Errorf("%w: year %q", ErrInvalidFilter, year)
		}
	}

	if n < 1 || n > WeeksInYear(y) {
		return Filter{}, fmt.Errorf("%w: week %d out of range for %d", ErrInvalidFilter, n, y)
	}

	return Filter{Mode: ModeExplicit, Week: Week{Number: n, Year: y}}, nil
}

// Resolve turns a filter into a predicate relative to the current week.
func (c *Classifier) Resolve(f Filter) Predicate {
	switch f.Mode {
	case ModePrevious:
		cur := c.Current()
		return Predicate{Before: &cur, MaxRows: PreviousWeeksCap, WeekOrder: true}
	case ModeAll:
		return Predicate{MaxRows: AllWeeksCap}
	case ModeExplicit:
		w := f.Week
		return Predicate{Exact: &w}
	default:
		cur := c.Current()
		return Predicate{Exact: &cur}
	}
}
