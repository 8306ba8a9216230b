package timeutil

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MinutesPerDay is the number of wall-clock minutes in a local day. Intervals
// touching the next day are clamped to this value instead of computing past
// midnight.
const MinutesPerDay = 1440

// ZoneCache is a bounded cache over time.LoadLocation. IANA names are a small
// finite set, so eviction is a formality; the bound keeps hostile input from
// growing the cache without limit.
type ZoneCache struct {
	cache *lru.Cache[string, *time.Location]
}

// NewZoneCache creates a cache holding at most size locations.
func NewZoneCache(size int) *ZoneCache {
	c, err := lru.New[string, *time.Location](size)
	if err != nil {
		// Only possible with size <= 0.
		panic(err)
	}
	return &ZoneCache{cache: c}
}

// Load resolves an IANA zone name, caching successful lookups.
func (z *ZoneCache) Load(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone name is empty")
	}
	if loc, ok := z.cache.Get(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	z.cache.Add(name, loc)
	return loc, nil
}

// Valid reports whether name resolves to a known IANA zone.
func (z *ZoneCache) Valid(name string) bool {
	_, err := z.Load(name)
	return err == nil
}

var zones = NewZoneCache(256)

// LoadZone resolves an IANA zone name through the shared cache.
func LoadZone(name string) (*time.Location, error) {
	return zones.Load(name)
}

// ValidZone reports whether name is a valid IANA zone name.
func ValidZone(name string) bool {
	return zones.Valid(name)
}

// LocalDate is a calendar date with no zone attached. The same LocalDate
// denotes different UTC ranges in different zones.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseLocalDate parses a YYYY-MM-DD string.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Weekday returns the day of week (Sunday = 0). Zone-independent.
func (d LocalDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// AddDays returns the date n calendar days later (or earlier for negative n).
func (d LocalDate) AddDays(n int) LocalDate {
	t := time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DateOf returns the local calendar date of a UTC instant in loc.
func DateOf(t time.Time, loc *time.Location) LocalDate {
	lt := t.In(loc)
	return LocalDate{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

// DayBoundsUTC returns the UTC instants bounding the local day [start, end).
// On DST transition days the day is shorter or longer than 24 hours; both
// bounds are anchored to local midnight so the range is still exact.
func DayBoundsUTC(d LocalDate, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	next := d.AddDays(1)
	end := time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

// AtMinute converts a local wall-clock minute of day to a UTC instant.
// time.Date normalizes the overflowing minute field, so minute 570 yields
// local 09:30 even on a DST transition day.
func AtMinute(d LocalDate, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, minute, 0, 0, loc).UTC()
}

// MinuteOfDay returns the wall-clock minute of day of a UTC instant in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}

// ClampToDay converts a UTC interval to local minutes within the given local
// day, clipping to the day's bounds. An interval ending on a following day is
// clamped to MinutesPerDay. Returns ok=false when the interval does not touch
// the day at all.
func ClampToDay(startAt, endAt time.Time, d LocalDate, loc *time.Location) (startMin, endMin int, ok bool) {
	dayStart, dayEnd := DayBoundsUTC(d, loc)
	if !startAt.Before(dayEnd) || !endAt.After(dayStart) {
		return 0, 0, false
	}
	if startAt.Before(dayStart) {
		startMin = 0
	} else {
		startMin = MinuteOfDay(startAt, loc)
	}
	if !endAt.Before(dayEnd) {
		endMin = MinutesPerDay
	} else {
		endMin = MinuteOfDay(endAt, loc)
	}
	if endMin <= startMin {
		return 0, 0, false
	}
	return startMin, endMin, true
}
