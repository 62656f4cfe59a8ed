package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"BatchSend/internal/models"
)

// ParseOffset reads a client GMT offset such as "+05:30", "-0400", "+3" or
// "GMT+05:30" into a fixed zone.
func ParseOffset(gmt string) (*time.Location, error) {
	s := strings.TrimSpace(strings.ToUpper(gmt))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "GMT"), "UTC")
	if s == "" || s == "Z" {
		return time.UTC, nil
	}

	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	if strings.ContainsAny(s, "+-") {
		return nil, fmt.Errorf("invalid gmt offset %q", gmt)
	}

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		hh, mm, _ = strings.Cut(s, ":")
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		hh, mm = s, "0"
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return nil, fmt.Errorf("invalid gmt offset %q", gmt)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return nil, fmt.Errorf("invalid gmt offset %q", gmt)
	}

	offset := sign * (h*3600 + m*60)
	return time.FixedZone("GMT"+gmt, offset), nil
}

// ServerTime converts a client wall clock time in the given offset to the
// same instant in loc. It returns both values.
func ServerTime(gmt, clientTime string, loc *time.Location) (clientAt, serverAt time.Time, err error) {
	zone, err := ParseOffset(gmt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	clientAt, err = time.ParseInLocation(models.ScheduleTimeLayout, strings.TrimSpace(clientTime), zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid schedule time %q: %w", clientTime, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return clientAt, clientAt.In(loc), nil
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
