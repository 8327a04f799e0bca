package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

func hm(h, m int) TimeOfDay { return TimeOfDay{Hour: h, Minute: m} }

func TestNormalizeSplitsWindowsAcrossMidnight(t *testing.T) {
	got := Normalize([]Window{{Start: hm(22, 0), End: hm(6, 0)}})

	require.Len(t, got, 2)
	assert.Equal(t, Window{Start: hm(0, 0), End: hm(6, 0)}, got[0])
	assert.Equal(t, Window{Start: hm(22, 0), End: hm(23, 59)}, got[1])
}

func TestNormalizeSortsByStart(t *testing.T) {
	got := Normalize([]Window{
		{Start: hm(14, 0), End: hm(16, 0)},
		{Start: hm(9, 0), End: hm(10, 0)},
	})

	require.Len(t, got, 2)
	assert.Equal(t, hm(9, 0), got[0].Start)
	assert.Equal(t, hm(14, 0), got[1].Start)
}

func TestScheduledTimeInsideOvernightWindow(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 23, 30, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, []Window{{Start: hm(22, 0), End: hm(6, 0)}}, nil)

	require.NoError(t, err)
	assert.True(t, got.Equal(now), "expected %s, got %s", now, got)
}

func TestScheduledTimeSnapsForwardToWindowStart(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 7, 15, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, []Window{{Start: hm(9, 30), End: hm(17, 0)}}, nil)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC), got)
}

func TestScheduledTimeRollsToNextDay(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 18, 0, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, []Window{{Start: hm(9, 0), End: hm(17, 0)}}, nil)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 6, 9, 0, 0, 0, time.UTC), got)
}

func TestScheduledTimeHonoursWeekdayWhitelist(t *testing.T) {
	calc := NewCalculator(nil)
	// 2024-03-05 is a Tuesday.
	now := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, []Window{{Start: hm(9, 0), End: hm(17, 0)}}, []time.Weekday{time.Monday})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestScheduledTimeWeekdaysWithoutWindowsAllowWholeDay(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, nil, []time.Weekday{time.Thursday})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC), got)
}

func TestScheduledTimeWithoutRestrictionsReturnsNow(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestScheduledTimeUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	calc := NewCalculator(loc)
	// 13:00 UTC is 08:00 in the fixed zone, before a 09:00 window.
	now := time.Date(2024, time.March, 5, 13, 0, 0, 0, time.UTC)

	got, err := calc.ScheduledTime(now, []Window{{Start: hm(9, 0), End: hm(17, 0)}}, nil)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 5, 14, 0, 0, 0, time.UTC), got.UTC())
}

func TestScheduledTimeRejectsInvalidConfiguration(t *testing.T) {
	calc := NewCalculator(nil)
	now := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

	_, err := calc.ScheduledTime(now, []Window{{Start: hm(25, 0), End: hm(6, 0)}}, nil)
	require.Error(t, err)
	assert.True(t, execution.HasCode(err, execution.ErrCodeInvalidConfig))

	_, err = calc.ScheduledTime(now, nil, []time.Weekday{time.Weekday(9)})
	require.Error(t, err)
}
