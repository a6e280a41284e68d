package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestSendWindowCrossingMidnightWithWeekdays(t *testing.T) {
	w, err := ParseSendWindow("21:00", "08:00", "America/New_York", []string{"mon", "Tue", "wednesday", "thu", "fri"})
	require.NoError(t, err)
	ny := mustLocation(t, "America/New_York")
	at := func(day, hour, minute int) time.Time { return time.Date(2026, time.March, day, hour, minute, 0, 0, ny) }

	tests := []struct {
		name     string
		now      time.Time
		open     bool
		nextOpen time.Time
	}{
		{"weekday morning", at(11, 10, 0), true, at(11, 10, 0)},
		{"weekday late evening", at(11, 22, 0), false, at(12, 8, 0)},
		{"weekday before quiet end", at(11, 7, 59), false, at(11, 8, 0)},
		{"quiet start is inclusive", at(11, 21, 0), false, at(12, 8, 0)},
		{"friday night rolls to monday", at(13, 22, 0), false, at(16, 8, 0)},
		{"saturday noon rolls to monday", at(14, 12, 0), false, at(16, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, w.Open(tt.now))
			assert.True(t, tt.nextOpen.Equal(w.NextOpen(tt.now)), "next open %s, want %s", w.NextOpen(tt.now), tt.nextOpen)
		})
	}
}

func TestSendWindowEvaluatesInLocalTime(t *testing.T) {
	w, err := ParseSendWindow("21:00", "08:00", "America/Los_Angeles", nil)
	require.NoError(t, err)
	// 03:00 UTC is 20:00 the previous day in Los Angeles (PDT).
	utc := time.Date(2026, time.June, 10, 3, 0, 0, 0, time.UTC)
	assert.True(t, w.Open(utc))
	assert.False(t, w.Open(utc.Add(time.Hour)))
}

func TestSendWindowSimpleQuietWindow(t *testing.T) {
	w, err := ParseSendWindow("12:00", "13:00", "UTC", nil)
	require.NoError(t, err)
	noon := time.Date(2026, time.March, 11, 12, 30, 0, 0, time.UTC)
	assert.False(t, w.Open(noon))
	assert.Equal(t, time.Date(2026, time.March, 11, 13, 0, 0, 0, time.UTC), w.NextOpen(noon).UTC())
	assert.True(t, w.Open(noon.Add(-time.Hour)))
}

func TestSendWindowEqualBoundsDisableQuietHours(t *testing.T) {
	w, err := ParseSendWindow("00:00", "00:00", "", nil)
	require.NoError(t, err)
	for h := 0; h < 24; h++ {
		now := time.Date(2026, time.March, 11, h, 0, 0, 0, time.UTC)
		assert.True(t, w.Open(now), "hour %d", h)
		assert.True(t, now.Equal(w.NextOpen(now)))
	}
}

func TestAlwaysOpen(t *testing.T) {
	w := AlwaysOpen()
	now := time.Date(2026, time.March, 15, 3, 0, 0, 0, time.UTC)
	assert.True(t, w.Open(now))
}

func TestParseSendWindowValidationErrors(t *testing.T) {
	_, err := ParseSendWindow("", "07:00", "UTC", nil)
	assert.Error(t, err)
	_, err = ParseSendWindow("07:00", "8am", "UTC", nil)
	assert.Error(t, err)
	_, err = ParseSendWindow("07:00", "08:00", "Mars/Phobos", nil)
	assert.Error(t, err)
	_, err = ParseSendWindow("07:00", "08:00", "UTC", []string{"funday"})
	assert.Error(t, err)
}
