package position

import (
	"testing"
	"time"
)

func TestTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "a few seconds ago"},
		{44 * time.Second, "a few seconds ago"},
		{45 * time.Second, "a minute ago"},
		{89 * time.Second, "a minute ago"},
		{89*time.Second + 600*time.Millisecond, "a minute ago"},
		{90 * time.Second, "2 minutes ago"},
		{44 * time.Minute, "44 minutes ago"},
		{45 * time.Minute, "an hour ago"},
		{time.Hour + 29*time.Minute + 40*time.Second, "an hour ago"},
		{time.Hour + 30*time.Minute, "2 hours ago"},
		{3 * time.Hour, "3 hours ago"},
		{21*time.Hour + 29*time.Minute, "21 hours ago"},
		{23 * time.Hour, "a day ago"},
		{35*time.Hour + 40*time.Minute, "a day ago"},
		{36 * time.Hour, "2 days ago"},
		{5 * 24 * time.Hour, "5 days ago"},
		{25 * 24 * time.Hour, "25 days ago"},
		{26 * 24 * time.Hour, "a month ago"},
		{45 * 24 * time.Hour, "a month ago"},
		{46 * 24 * time.Hour, "2 months ago"},
		{30 * 24 * time.Hour, "a month ago"},
		{91 * 24 * time.Hour, "3 months ago"},
		{320 * 24 * time.Hour, "a year ago"},
		{400 * 24 * time.Hour, "a year ago"},
		{3 * 365 * 24 * time.Hour, "3 years ago"},
		{-10 * time.Minute, "in 10 minutes"},
	}

	for _, tt := range tests {
		got := TimeAgo(now.Add(-tt.ago), now)
		if got != tt.want {
			t.Errorf("TimeAgo(%v) got %q want %q", tt.ago, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 5, 30, 0, time.Local)

	assertStrings(t, FormatTimestamp(time.Time{}, now), "n/a")
	assertStrings(t, FormatTimestamp(now.Add(-10*time.Second), now), "9:5 - a few seconds ago")
}

func TestLastUpdateDescribe(t *testing.T) {
	var lu LastUpdate
	if lu.Known() {
		t.Error("zero LastUpdate must be unknown")
	}
	assertStrings(t, lu.Describe(time.Now()), "n/a")
	assertStrings(t, lu.Status.String(), "n/a")

	lu = LastUpdate{Time: time.Now(), Status: UpdateFailed}
	if !lu.Known() {
		t.Error("LastUpdate with time must be known")
	}
	assertStrings(t, lu.Status.String(), "Failed")
	assertStrings(t, UpdateSuccess.String(), "Successful")
}

func TestLowBattery(t *testing.T) {
	if LowBattery(15, true) != BatteryLow {
		t.Error("15 should be low")
	}
	if LowBattery(20, true) != BatteryLow {
		t.Error("20 should be low")
	}
	if LowBattery(21, true) != BatteryNormal {
		t.Error("21 should be normal")
	}
	if LowBattery(0, false) != BatteryNormal {
		t.Error("unknown level should be normal")
	}
	assertStrings(t, BatteryLow.String(), "low")
	assertStrings(t, BatteryNormal.String(), "normal")
}
