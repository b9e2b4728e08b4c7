package manifest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"PT0S", 0, false},
		{"PT1H2M3.5S", 3723.5, false},
		{"PT634.566S", 634.566, false},
		{"P1DT1S", 86401, false},
		{"P1Y", 365 * 86400, false},
		{"-PT5S", -5, false},
		{"P", 0, true},
		{"PT", 0, true},
		{"1H", 0, true},
		{"PT5X", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseOptionalDuration(t *testing.T) {
	got, err := parseOptionalDuration(" ", math.Inf(1))
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))

	got, err = parseOptionalDuration("PT2S", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}
