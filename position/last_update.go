package position

import (
	"fmt"
	"math"
	"time"
)

type UpdateStatus int

const (
	UpdatePending UpdateStatus = iota
	UpdateSuccess
	UpdateFailed
)

func (us UpdateStatus) String() string {
	switch us {
	case UpdateSuccess:
		return "Successful"
	case UpdateFailed:
		return "Failed"
	default:
		return notAvailable
	}
}

const notAvailable = "n/a"

// LastUpdate records when the device position was last polled and how it went.
type LastUpdate struct {
	Time   time.Time
	Status UpdateStatus
}

func (lu LastUpdate) Known() bool {
	return !lu.Time.IsZero()
}

// Describe formats the update time as "H:m - <time ago>" relative to now.
func (lu LastUpdate) Describe(now time.Time) string {
	return FormatTimestamp(lu.Time, now)
}

// FormatTimestamp renders ts in local time followed by a relative description,
// e.g. "9:5 - a few seconds ago". A zero ts yields "n/a".
func FormatTimestamp(ts, now time.Time) string {
	if ts.IsZero() {
		return notAvailable
	}
	local := ts.Local()
	return fmt.Sprintf("%d:%d - %s", local.Hour(), local.Minute(), TimeAgo(ts, now))
}

// TimeAgo describes the distance between ts and now using the same
// thresholds as moment.js humanize.
func TimeAgo(ts, now time.Time) string {
	d := now.Sub(ts)
	suffix := "ago"
	prefix := ""
	if d < 0 {
		d = -d
		suffix = ""
		prefix = "in "
	}

	// each unit is rounded on its own and a branch only applies once the
	// larger unit no longer rounds to one, as moment.js does
	seconds := math.Round(d.Seconds())
	minutes := math.Round(d.Minutes())
	hours := math.Round(d.Hours())
	days := math.Round(d.Hours() / 24)
	months := math.Round(d.Hours() / 24 * 4800 / 146097)
	years := math.Round(d.Hours() / 24 * 400 / 146097)

	var text string
	switch {
	case seconds < 45:
		text = "a few seconds"
	case minutes <= 1:
		text = "a minute"
	case minutes < 45:
		text = fmt.Sprintf("%d minutes", int(minutes))
	case hours <= 1:
		text = "an hour"
	case hours < 22:
		text = fmt.Sprintf("%d hours", int(hours))
	case days <= 1:
		text = "a day"
	case days < 26:
		text = fmt.Sprintf("%d days", int(days))
	case months <= 1:
		text = "a month"
	case months < 11:
		text = fmt.Sprintf("%d months", int(months))
	case years <= 1:
		text = "a year"
	default:
		text = fmt.Sprintf("%d years", int(years))
	}

	if suffix == "" {
		return prefix + text
	}
	return text + " " + suffix
}
