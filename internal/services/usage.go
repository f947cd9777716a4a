package services

import (
	"fmt"
	"sync"
	"time"

	"omoide-backend/internal/models"
)

// UsageLimits are the quotas of a usage tracker
type UsageLimits struct {
	Daily          int
	Monthly        int
	CostPerRequest float64
}

// DefaultUsageLimits returns the standard quotas (20/day, 300/month)
func DefaultUsageLimits() UsageLimits {
	return UsageLimits{Daily: 20, Monthly: 300, CostPerRequest: 0.002}
}

// UsageDecision is the answer of CanMakeRequest
type UsageDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// UsageTracker counts outbound AI requests against daily and monthly quotas.
// It is advisory cost control: state lives in this process only.
type UsageTracker struct {
	mu     sync.Mutex
	limits UsageLimits
	now    func() time.Time
	stats  models.UsageStats
}

// NewUsageTracker creates a tracker. now may be nil to use time.Now.
func NewUsageTracker(limits UsageLimits, now func() time.Time) *UsageTracker {
	if now == nil {
		now = time.Now
	}
	return &UsageTracker{limits: limits, now: now}
}

// CanMakeRequest reports whether another AI request fits in the quotas
func (t *UsageTracker) CanMakeRequest() UsageDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.stats.DailyCount >= t.limits.Daily {
		return UsageDecision{
			Reason: fmt.Sprintf("本日のAI利用上限（%d回）に達しました。明日また お試しください。", t.limits.Daily),
		}
	}
	if t.stats.MonthlyCount >= t.limits.Monthly {
		return UsageDecision{
			Reason: fmt.Sprintf("今月のAI利用上限（%d回）に達しました。来月また お試しください。", t.limits.Monthly),
		}
	}
	return UsageDecision{Allowed: true}
}

// RecordRequest counts one request
func (t *UsageTracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	t.stats.DailyCount++
	t.stats.MonthlyCount++
	t.stats.EstimatedCost += t.limits.CostPerRequest
}

// ResetUsage clears all counters
func (t *UsageTracker) ResetUsage() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.stats = models.UsageStats{
		LastRequestDate: now.Format(time.DateOnly),
		Month:           now.Format(monthLayout),
	}
}

// GetUsageStats returns a snapshot of the counters
func (t *UsageTracker) GetUsageStats() models.UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.stats
}

// rollover resets the daily counter on a new day and the monthly counter
// and cost on a new month. Callers hold mu.
func (t *UsageTracker) rollover() {
	now := t.now()
	today := now.Format(time.DateOnly)
	month := now.Format(monthLayout)

	if t.stats.LastRequestDate != today {
		t.stats.DailyCount = 0
		t.stats.LastRequestDate = today
	}
	if t.stats.Month != month {
		t.stats.MonthlyCount = 0
		t.stats.EstimatedCost = 0
		t.stats.Month = month
	}
}

// UsageRegistry owns one tracker per user for the lifetime of the app
type UsageRegistry struct {
	mu       sync.Mutex
	limits   UsageLimits
	now      func() time.Time
	trackers map[string]*UsageTracker
}

// NewUsageRegistry creates an empty registry
func NewUsageRegistry(limits UsageLimits, now func() time.Time) *UsageRegistry {
	return &UsageRegistry{
		limits:   limits,
		now:      now,
		trackers: make(map[string]*UsageTracker),
	}
}

// For returns the tracker of a user, creating it on first use
func (r *UsageRegistry) For(userID string) *UsageTracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracker, ok := r.trackers[userID]
	if !ok {
		tracker = NewUsageTracker(r.limits, r.now)
		r.trackers[userID] = tracker
	}
	return tracker
}
