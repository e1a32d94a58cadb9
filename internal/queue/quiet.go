package queue

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"notification-pipeline/internal/models"
)

// ResolveLocation loads an IANA zone. Empty or unknown zones resolve to UTC.
func ResolveLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// InQuietHours reports whether now, in the user's zone, falls inside the
// configured window. Windows with start after end wrap midnight.
func InQuietHours(prefs *models.Preferences, now time.Time) bool {
	if prefs == nil || !prefs.QuietEnabled {
		return false
	}
	start, err := parseClock(prefs.QuietStart)
	if err != nil {
		return false
	}
	end, err := parseClock(prefs.QuietEnd)
	if err != nil || start == end {
		return false
	}

	local := now.In(ResolveLocation(prefs.Timezone))
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// Suppressed reports whether a request must stay pending because of quiet hours.
func Suppressed(prefs *models.Preferences, trigger string, priority models.Priority, now time.Time) bool {
	if priority == models.PriorityCritical || prefs == nil {
		return false
	}
	for _, exc := range prefs.QuietExceptions {
		if exc == trigger {
			return false
		}
	}
	return InQuietHours(prefs, now)
}
