package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchexports/internal/types"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestBuild_FixedIntervals(t *testing.T) {
	tests := []struct {
		name       string
		in         BuildInput
		wantEvery  time.Duration
		wantOffset time.Duration
		wantJitter time.Duration
	}{
		{
			name:       "hourly without offsets keeps jitter",
			in:         BuildInput{Interval: types.IntervalHour, Jitter: 9 * time.Minute},
			wantEvery:  time.Hour,
			wantJitter: 9 * time.Minute,
		},
		{
			name:       "offset that wraps to zero keeps jitter",
			in:         BuildInput{Interval: types.IntervalHour, OffsetHour: intPtr(2), Jitter: time.Minute},
			wantEvery:  time.Hour,
			wantJitter: time.Minute,
		},
		{
			name:       "custom interval with offset drops jitter",
			in:         BuildInput{Interval: "every 90 minutes", OffsetHour: intPtr(1), Jitter: time.Minute},
			wantEvery:  90 * time.Minute,
			wantOffset: time.Hour,
		},
		{
			name:       "offset day contributes whole days",
			in:         BuildInput{Interval: "every 7 hours", OffsetDay: intPtr(1)},
			wantEvery:  7 * time.Hour,
			wantOffset: 3 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Build(tt.in)
			require.NoError(t, err)
			require.Len(t, spec.Intervals, 1)
			assert.Empty(t, spec.Calendars)
			assert.Equal(t, tt.wantEvery, spec.Intervals[0].Every)
			assert.Equal(t, tt.wantOffset, spec.Intervals[0].Offset)
			assert.Equal(t, tt.wantJitter, spec.Jitter)
			assert.Equal(t, "UTC", spec.Timezone)
		})
	}
}

func TestBuild_Calendars(t *testing.T) {
	daily, err := Build(BuildInput{
		Interval:   types.IntervalDay,
		Timezone:   strPtr("Europe/Berlin"),
		OffsetHour: intPtr(5),
		Jitter:     time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, daily.Calendars, 1)
	assert.Empty(t, daily.Intervals)
	assert.Equal(t, CalendarSpec{Hour: 5, DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6}}, daily.Calendars[0])
	assert.Zero(t, daily.Jitter, "calendar specs never carry jitter")
	assert.Equal(t, "Europe/Berlin", daily.Timezone)

	weekly, err := Build(BuildInput{Interval: types.IntervalWeek, OffsetDay: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, CalendarSpec{Hour: 0, DaysOfWeek: []int{1}}, weekly.Calendars[0])
	assert.Equal(t, "UTC", weekly.Timezone)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(BuildInput{Interval: "fortnightly"})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidInterval))

	_, err = Build(BuildInput{Interval: types.IntervalDay, Timezone: strPtr("Not/AZone")})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidTimezone))

	_, err = Build(BuildInput{Interval: types.IntervalWeek, OffsetDay: intPtr(9)})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidOffset))
}

func TestBuild_Deterministic(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	in := BuildInput{Interval: types.IntervalHour, StartAt: &start, Jitter: time.Minute}
	a, err := Build(in)
	require.NoError(t, err)
	b, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, time.UTC, a.StartAt.Location())
}

func TestInputFromExport_IgnoresTeamTimezone(t *testing.T) {
	e := &types.Export{Interval: types.IntervalDay, OffsetHour: intPtr(3)}
	spec, err := Build(InputFromExport(e))
	require.NoError(t, err)
	assert.Equal(t, "UTC", spec.Timezone)
}

func TestDefaultJitter(t *testing.T) {
	assert.Equal(t, 9*time.Minute, DefaultJitter(types.IntervalHour))
	assert.Equal(t, 45*time.Second, DefaultJitter(types.EveryMinutes(5)))
	assert.Equal(t, time.Hour, DefaultJitter("every 12 hours"))
	assert.Zero(t, DefaultJitter(types.IntervalDay))
	assert.Zero(t, DefaultJitter(types.IntervalWeek))
}
