package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"plain date", "2024-04-26", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC), false},
		{"surrounding spaces", "  2018-01-01 ", time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"datetime suffix", "2024-04-26 00:00:00", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339", "2024-04-26T00:00:00Z", time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
		{"invalid month", "2024-13-01", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		missing bool
		wantErr bool
	}{
		{"integer", "42", 42, false, false},
		{"decimal", "0.0125", 0.0125, false, false},
		{"negative", "-3.5", -3.5, false, false},
		{"empty", "", 0, true, false},
		{"NaN sentinel", "NaN", 0, true, false},
		{"null sentinel", "null", 0, true, false},
		{"padded", " 7 ", 7, false, false},
		{"garbage", "abc", 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.missing {
				assert.True(t, IsMissing(got))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(Missing()))
	assert.Equal(t, "12.5", FormatValue(12.5))
	assert.Equal(t, "0.1", FormatValue(0.1))

	// Round-trips without precision loss.
	v := 1.0 / 3.0
	got, err := ParseValue(FormatValue(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"padded", "07:00", "07:00", false},
		{"unpadded hour", "7:00", "07:00", false},
		{"four digits", "1500", "15:00", false},
		{"midnight", "00:00", "00:00", false},
		{"invalid hour", "25:00", "", true},
		{"invalid minute", "12:99", "", true},
		{"empty", "", "", true},
		{"too short", "12", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewSiteID(t *testing.T) {
	assert.Equal(t, SiteID("6371103"), NewSiteID("06", "037", "1103"))
	assert.Equal(t, SiteID("6371103"), NewSiteID("6", "37", "1103"))
	assert.Equal(t, SiteID("110"), NewSiteID("1", "01", "0"))
}

func TestValueColumn(t *testing.T) {
	assert.Equal(t, "AQI", ValueColumn("AQI"))
	assert.Equal(t, "Arithmetic Mean", ValueColumn("SO2"))
	assert.Equal(t, "Arithmetic Mean", ValueColumn("PM2.5 FRM"))
}
