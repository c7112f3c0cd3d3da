package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoTime is returned by TimeToMinutes for missing or unparseable input.
// Callers must skip timetable entries carrying this sentinel.
const NoTime = -1

const minutesPerDay = 24 * 60

// TimeToMinutes parses a "H:MM" or "HH:MM" wall-clock string into
// minutes since midnight. Returns NoTime for empty or malformed input.
func TimeToMinutes(hhmm string) int {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return NoTime
	}

	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 {
		return NoTime
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return NoTime
	}

	return hour*60 + minute
}

// MinutesToTime formats minutes since midnight as a zero-padded "HH:MM"
// string, wrapping past midnight (e.g. 1505 -> "01:05").
func MinutesToTime(minutes int) string {
	m := ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// NowMinutes returns the current local wall-clock time as minutes since
// midnight. Schedule times are authored in server-local time, so the
// same basis is used here.
func NowMinutes() int {
	now := time.Now()
	return now.Hour()*60 + now.Minute()
}
