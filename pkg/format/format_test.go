package format

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestBitrate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 bps"},
		{800, "800 bps"},
		{96_000, "96 kbps"},
		{2_500_000, "2.5 Mbps"},
		{1.2e9, "1.2 Gbps"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bitrate(tt.in))
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "1.2M", NumberCompact(1234567))
	assert.Equal(t, "999", NumberCompact(999))
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
}

func TestPosition(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00.0"},
		{8.25, "0:08.2"},
		{75, "1:15.0"},
		{3723.25, "1:02:03.2"},
		{-2.5, "-0:02.5"},
		{math.Inf(1), "--:--"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Position(tt.in), "%v", tt.in)
	}
	assert.Equal(t, "12.3s", Seconds(12.345))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-time.Minute), "1 minute ago"},
		{now.Add(-5 * time.Minute), "5 minutes ago"},
		{now.Add(-3 * time.Hour), "3 hours ago"},
		{now.Add(-49 * time.Hour), "2 days ago"},
		{now.Add(30 * time.Second), "in a moment"},
		{now.Add(2 * time.Hour), "in 2 hours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTime(now, tt.at))
	}
}
