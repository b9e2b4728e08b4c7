package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{"empty is unbounded", "", time.Time{}},
		{"blank is unbounded", "   ", time.Time{}},
		{"now", "now", now},
		{"today", "today", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"yesterday", "Yesterday", time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)},
		{"go duration", "2h", now.Add(-2 * time.Hour)},
		{"combined duration", "1h30m", now.Add(-90 * time.Minute)},
		{"days", "3d", now.Add(-72 * time.Hour)},
		{"words with ago", "3 days ago", now.Add(-72 * time.Hour)},
		{"ago without space", "30m ago", now.Add(-30 * time.Minute)},
		{"upper case ago", "1 WEEK AGO", now.Add(-7 * 24 * time.Hour)},
		{"rfc3339", "2024-06-01T08:00:00Z", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2024-06-01T10:00:00+02:00", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		{"datetime", "2024-06-01 08:15", time.Date(2024, 6, 1, 8, 15, 0, 0, time.UTC)},
		{"date", "2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestParseSince_Errors(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	for _, input := range []string{"soon", "ago", "-2h", "2024-13-45", "3 fortnights"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSince(input, now)
			assert.Error(t, err)
		})
	}
}

func TestParseSince_UsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, loc)

	got, err := ParseSince("2024-06-15", now)
	require.NoError(t, err)
	assert.Equal(t, loc, got.Location())
	assert.True(t, got.Equal(time.Date(2024, 6, 14, 14, 0, 0, 0, time.UTC)))
}
