package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviousMonth(t *testing.T) {
	prev, err := PreviousMonth("2024-01")
	require.NoError(t, err)
	assert.Equal(t, "2023-12", prev)

	prev, err = PreviousMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, "2024-02", prev)

	_, err = PreviousMonth("2024-13")
	assert.Error(t, err)
}

func TestNextMonth(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	next, ok, err := NextMonth("2024-12", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-01", next)

	next, ok, err = NextMonth("2026-09", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-10", next)

	_, ok, err = NextMonth("2026-10", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = NextMonth("2030-01", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = NextMonth("January", now)
	assert.Error(t, err)
}

func TestMonthBounds(t *testing.T) {
	from, to, err := monthBounds("2024-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), to)

	_, _, err = monthBounds("2024-2", time.UTC)
	assert.Error(t, err)
}

func TestMonthBoundsFollowLocalCalendar(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	from, to, err := monthBounds("2024-02", tokyo)
	require.NoError(t, err)

	// 2024-02-01 00:30 JST is still January in UTC
	justAfterMidnight := time.Date(2024, 1, 31, 15, 30, 0, 0, time.UTC)
	assert.False(t, justAfterMidnight.Before(from))
	assert.True(t, justAfterMidnight.Before(to))

	lastEvening := time.Date(2024, 2, 29, 15, 30, 0, 0, time.UTC)
	assert.False(t, lastEvening.Before(to))

	assert.True(t, from.Equal(time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC)))
}
