package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable time source for tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newClock(s string) *fakeClock {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &fakeClock{t: t}
}

func TestUsageTrackerDailyLimit(t *testing.T) {
	clock := newClock("2024-05-10T09:00:00Z")
	tracker := NewUsageTracker(UsageLimits{Daily: 3, Monthly: 100, CostPerRequest: 0.01}, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, tracker.CanMakeRequest().Allowed)
		tracker.RecordRequest()
	}

	decision := tracker.CanMakeRequest()
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "本日")

	stats := tracker.GetUsageStats()
	assert.Equal(t, 3, stats.DailyCount)
	assert.Equal(t, 3, stats.MonthlyCount)
	assert.InDelta(t, 0.03, stats.EstimatedCost, 1e-9)
}

func TestUsageTrackerDayRollover(t *testing.T) {
	clock := newClock("2024-05-10T23:59:00Z")
	tracker := NewUsageTracker(UsageLimits{Daily: 1, Monthly: 100}, clock.Now)

	tracker.RecordRequest()
	assert.False(t, tracker.CanMakeRequest().Allowed)

	clock.t = clock.t.Add(2 * time.Minute)

	assert.True(t, tracker.CanMakeRequest().Allowed)
	stats := tracker.GetUsageStats()
	assert.Equal(t, 0, stats.DailyCount)
	assert.Equal(t, 1, stats.MonthlyCount)
	assert.Equal(t, "2024-05-11", stats.LastRequestDate)
}

func TestUsageTrackerMonthlyLimitAndRollover(t *testing.T) {
	clock := newClock("2024-05-31T10:00:00Z")
	tracker := NewUsageTracker(UsageLimits{Daily: 10, Monthly: 2, CostPerRequest: 0.5}, clock.Now)

	tracker.RecordRequest()
	tracker.RecordRequest()

	decision := tracker.CanMakeRequest()
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "今月")

	clock.t = newClock("2024-06-01T10:00:00Z").t

	assert.True(t, tracker.CanMakeRequest().Allowed)
	stats := tracker.GetUsageStats()
	assert.Equal(t, 0, stats.MonthlyCount)
	assert.Zero(t, stats.EstimatedCost)
	assert.Equal(t, "2024-06", stats.Month)
}

func TestUsageTrackerReset(t *testing.T) {
	clock := newClock("2024-05-10T09:00:00Z")
	tracker := NewUsageTracker(UsageLimits{Daily: 1, Monthly: 1}, clock.Now)

	tracker.RecordRequest()
	assert.False(t, tracker.CanMakeRequest().Allowed)

	tracker.ResetUsage()

	assert.True(t, tracker.CanMakeRequest().Allowed)
	assert.Equal(t, 0, tracker.GetUsageStats().DailyCount)
}

func TestUsageRegistryIsolatesUsers(t *testing.T) {
	registry := NewUsageRegistry(UsageLimits{Daily: 1, Monthly: 10}, nil)

	registry.For("alice").RecordRequest()

	assert.False(t, registry.For("alice").CanMakeRequest().Allowed)
	assert.True(t, registry.For("bob").CanMakeRequest().Allowed)
	assert.Same(t, registry.For("alice"), registry.For("alice"))
}
