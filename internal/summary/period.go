// Package summary models time-period overviews of products and the
// generator that keeps them up to date.
package summary

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodType names the granularity of a summary.
type PeriodType string

const (
	PeriodAll   PeriodType = "all"
	PeriodYear  PeriodType = "year"
	PeriodMonth PeriodType = "month"
	PeriodDay   PeriodType = "day"
)

// Key identifies one summary: a product and an optional year, month and
// day. Zero fields are unset. An empty Product means every product.
type Key struct {
	Product string
	Year    int
	Month   int
	Day     int
}

// Period is the granularity implied by the set fields of k.
func (k Key) Period() PeriodType {
	switch {
	case k.Year != 0 && k.Month != 0 && k.Day != 0:
		return PeriodDay
	case k.Year != 0 && k.Month != 0:
		return PeriodMonth
	case k.Year != 0:
		return PeriodYear
	}
	return PeriodAll
}

// StartDay is the first day covered by k, used as the storage key of a
// period. Unset fields default to 1900, January and the 1st.
func (k Key) StartDay() time.Time {
	y, m, d := k.Year, k.Month, k.Day
	if y == 0 {
		y = 1900
	}
	if m == 0 {
		m = 1
	}
	if d == 0 {
		d = 1
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// Validate rejects keys whose fields are out of range or set without
// their parent field.
func (k Key) Validate() error {
	if k.Month != 0 && k.Year == 0 {
		return fmt.Errorf("month given without year")
	}
	if k.Day != 0 && k.Month == 0 {
		return fmt.Errorf("day given without month")
	}
	if k.Month < 0 || k.Month > 12 {
		return fmt.Errorf("month %d out of range", k.Month)
	}
	if k.Day < 0 || k.Day > 31 {
		return fmt.Errorf("day %d out of range", k.Day)
	}
	if k.Day != 0 {
		start := time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
		if start.Day() != k.Day {
			return fmt.Errorf("no day %d in %d-%02d", k.Day, k.Year, k.Month)
		}
	}
	return nil
}

// Parent is the key one level up: day to month, month to year, year to
// the whole product.
func (k Key) Parent() Key {
	switch k.Period() {
	case PeriodDay:
		k.Day = 0
	case PeriodMonth:
		k.Month = 0
	case PeriodYear:
		k.Year = 0
	}
	return k
}

func (k Key) String() string {
	parts := []string{k.Product}
	if k.Product == "" {
		parts[0] = "*"
	}
	for _, v := range []int{k.Year, k.Month, k.Day} {
		if v == 0 {
			break
		}
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, "/")
}

// ParseKey builds a key from a product name and up to three path
// segments for year, month and day.
func ParseKey(product string, segments []string) (Key, error) {
	k := Key{Product: product}
	if len(segments) > 3 {
		return Key{}, fmt.Errorf("too many period segments")
	}
	dst := []*int{&k.Year, &k.Month, &k.Day}
	for i, s := range segments {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return Key{}, fmt.Errorf("invalid period segment %q", s)
		}
		*dst[i] = v
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// TimeRange is a half-open interval [Begin, End). A zero bound is
// unbounded on that side.
type TimeRange struct {
	Begin time.Time
	End   time.Time
}

// IsZero reports whether both bounds are unset.
func (r TimeRange) IsZero() bool { return r.Begin.IsZero() && r.End.IsZero() }

// Contains reports whether t falls inside r.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Begin.IsZero() && t.Before(r.Begin) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// AsTimeRange returns the interval covered by a year, month and day in
// loc: a day, a calendar month, a calendar year, or unbounded when year is
// zero.
func AsTimeRange(year, month, day int, loc *time.Location) TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case year != 0 && month != 0 && day != 0:
		start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		return TimeRange{Begin: start, End: start.AddDate(0, 0, 1)}
	case year != 0 && month != 0:
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
		return TimeRange{Begin: start, End: start.AddDate(0, 1, 0)}
	case year != 0:
		start := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
		return TimeRange{Begin: start, End: start.AddDate(1, 0, 0)}
	}
	return TimeRange{}
}

// Range is the interval covered by k in loc.
func (k Key) Range(loc *time.Location) TimeRange {
	return AsTimeRange(k.Year, k.Month, k.Day, loc)
}
