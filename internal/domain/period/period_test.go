package period_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fleetops/driver-ledger/internal/domain/period"
)

func fixedClassifier(now time.Time) *period.Classifier {
	return period.NewClassifier(time.UTC).WithClock(func() time.Time { return now })
}

func TestClassifyYearBoundaries(t *testing.T) {
	c := period.NewClassifier(time.UTC)

	cases := []struct {
		date string
		want period.Week
	}{
		// 2020 has 53 ISO weeks; the first days of January 2021 still belong to it.
		{"2020-12-31", period.Week{Number: 53, Year: 2020}},
		{"2021-01-01", period.Week{Number: 53, Year: 2020}},
		{"2021-01-03", period.Week{Number: 53, Year: 2020}},
		{"2021-01-04", period.Week{Number: 1, Year: 2021}},
		// The last days of December 2024 belong to week 1 of 2025.
		{"2024-12-29", period.Week{Number: 52, Year: 2024}},
		{"2024-12-30", period.Week{Number: 1, Year: 2025}},
		{"2024-12-31", period.Week{Number: 1, Year: 2025}},
		{"2025-01-01", period.Week{Number: 1, Year: 2025}},
		{"2018-12-31", period.Week{Number: 1, Year: 2019}},
		{"2015-12-31", period.Week{Number: 53, Year: 2015}},
		{"2016-01-01", period.Week{Number: 53, Year: 2015}},
		{"2025-12-31", period.Week{Number: 1, Year: 2026}},
		{"2026-01-01", period.Week{Number: 1, Year: 2026}},
		{"2026-10-14", period.Week{Number: 42, Year: 2026}},
	}

	for _, tc := range cases {
		t.Run(tc.date, func(t *testing.T) {
			d, err := time.Parse("2006-01-02", tc.date)
			if err != nil {
				t.Fatalf("parse date: %v", err)
			}
			got := c.Classify(d.Add(12 * time.Hour))
			if got != tc.want {
				t.Fatalf("Classify(%s) = %s, want %s", tc.date, got, tc.want)
			}
		})
	}
}

func TestClassifyUsesConfiguredLocation(t *testing.T) {
	// Sunday 23:30 UTC is already Monday in UTC+5.
	instant := time.Date(2024, time.December, 29, 23, 30, 0, 0, time.UTC)

	utc := period.NewClassifier(time.UTC).Classify(instant)
	if utc != (period.Week{Number: 52, Year: 2024}) {
		t.Fatalf("utc week = %s", utc)
	}

	local := period.NewClassifier(time.FixedZone("UTC+5", 5*3600)).Classify(instant)
	if local != (period.Week{Number: 1, Year: 2025}) {
		t.Fatalf("UTC+5 week = %s", local)
	}
}

func TestWeeksInYear(t *testing.T) {
	cases := map[int]int{2015: 53, 2019: 52, 2020: 53, 2021: 52, 2024: 52, 2026: 53}
	for year, want := range cases {
		if got := period.WeeksInYear(year); got != want {
			t.Fatalf("WeeksInYear(%d) = %d, want %d", year, got, want)
		}
	}
}

func TestParseFilter(t *testing.T) {
	c := fixedClassifier(time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC))

	cases := []struct {
		name    string
		week    string
		year    string
		want    period.Filter
		wantErr bool
	}{
		{name: "empty is current", want: period.Filter{Mode: period.ModeCurrent}},
		{name: "current", week: "current", want: period.Filter{Mode: period.ModeCurrent}},
		{name: "previous mixed case", week: "Previous", want: period.Filter{Mode: period.ModePrevious}},
		{name: "all", week: "all", want: period.Filter{Mode: period.ModeAll}},
		{name: "explicit with year", week: "53", year: "2020", want: period.Filter{Mode: period.ModeExplicit, Week: period.Week{Number: 53, Year: 2020}}},
		{name: "explicit defaults year", week: "7", want: period.Filter{Mode: period.ModeExplicit, Week: period.Week{Number: 7, Year: 2026}}},
		{name: "week 53 in 52-week year", week: "53", year: "2021", wantErr: true},
		{name: "week zero", week: "0", wantErr: true},
		{name: "garbage", week: "last", wantErr: true},
		{name: "bad year", week: "3", year: "twenty", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.ParseFilter(tc.week, tc.year)
			if tc.wantErr {
				if !errors.Is(err, period.ErrInvalidFilter) {
					t.Fatalf("expected ErrInvalidFilter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	c := fixedClassifier(time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC))
	current := period.Week{Number: 42, Year: 2026}

	t.Run("current", func(t *testing.T) {
		p := c.Resolve(period.Filter{Mode: period.ModeCurrent})
		if p.Exact == nil || *p.Exact != current || p.MaxRows != 0 {
			t.Fatalf("unexpected predicate %+v", p)
		}
		if !p.Matches(current) || p.Matches(period.Week{Number: 41, Year: 2026}) {
			t.Fatal("current predicate matched the wrong weeks")
		}
	})

	t.Run("previous", func(t *testing.T) {
		p := c.Resolve(period.Filter{Mode: period.ModePrevious})
		if p.MaxRows != period.PreviousWeeksCap || !p.WeekOrder {
			t.Fatalf("unexpected predicate %+v", p)
		}
		if !p.Matches(period.Week{Number: 41, Year: 2026}) {
			t.Fatal("expected previous week to match")
		}
		if p.Matches(current) {
			t.Fatal("current week must not match previous")
		}
		if p.Matches(period.Week{Number: 50, Year: 2025}) {
			t.Fatal("previous is limited to the current year")
		}
	})

	t.Run("all", func(t *testing.T) {
		p := c.Resolve(period.Filter{Mode: period.ModeAll})
		if p.MaxRows != period.AllWeeksCap || p.Exact != nil || p.Before != nil {
			t.Fatalf("unexpected predicate %+v", p)
		}
		if !p.Matches(period.Week{Number: 1, Year: 1999}) {
			t.Fatal("all must match every week")
		}
	})

	t.Run("explicit", func(t *testing.T) {
		w := period.Week{Number: 1, Year: 2025}
		p := c.Resolve(period.Filter{Mode: period.ModeExplicit, Week: w})
		if p.Exact == nil || *p.Exact != w || p.MaxRows != 0 {
			t.Fatalf("unexpected predicate %+v", p)
		}
	})
}

func TestPredicateLimit(t *testing.T) {
	capped := period.Predicate{MaxRows: 100}
	uncapped := period.Predicate{}

	cases := []struct {
		name string
		p    period.Predicate
		req  int
		want int
	}{
		{"cap applies to zero", capped, 0, 100},
		{"cap applies to oversize", capped, 500, 100},
		{"smaller request wins", capped, 20, 20},
		{"uncapped zero is unbounded", uncapped, 0, 0},
		{"uncapped passes through", uncapped, 30, 30},
		{"negative is unbounded", uncapped, -1, 0},
	}
	for _, tc := range cases {
		if got := tc.p.Limit(tc.req); got != tc.want {
			t.Fatalf("%s: Limit(%d) = %d, want %d", tc.name, tc.req, got, tc.want)
		}
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	c := period.NewClassifier(loc)
	instant := time.Date(2026, time.March, 1, 21, 0, 0, 0, time.UTC) // 02:00 on March 2nd locally

	start := c.DayStart(instant)
	if start.Day() != 2 || start.Hour() != 0 || start.Location() != loc {
		t.Fatalf("unexpected day start %v", start)
	}
	end := c.DayEnd(instant)
	if !end.After(instant) || end.Sub(start) != 24*time.Hour-time.Microsecond {
		t.Fatalf("unexpected day end %v", end)
	}
}
