package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    time.Time
		wantErr bool
	}{
		{"duration is in the past", "1h30m", now.Add(-90 * time.Minute), false},
		{"rfc3339", "2026-02-28T09:00:00Z", time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}
}

func TestParseDeadline(t *testing.T) {
	got, err := ParseDeadline("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), got)

	got, err = ParseDeadline(" 2026-03-02T08:00:00Z ", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), got.UTC())

	for _, spec := range []string{"", "-5m", "0s", "2026-02-01T00:00:00Z", "soon"} {
		_, err := ParseDeadline(spec, now)
		assert.Error(t, err, spec)
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.Less(t, since, until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = ParseRange("1h", "2h", now)
	assert.EqualError(t, err, "--since must be before --until")

	_, _, err = ParseRange("bogus", "", now)
	assert.ErrorContains(t, err, "invalid --since")
}
