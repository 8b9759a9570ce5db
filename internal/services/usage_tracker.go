// internal/services/usage_tracker.go
package services

import (
	"maps"
	"sync"
	"time"

	"github.com/Corphon/AIHouse/internal/storage"
)

const (
	usageDir      = "stats"
	usageFile     = "llm_usage.json"
	usageSaveSpan = 30 * time.Second
)

// UsageStats LLM 调用统计
type UsageStats struct {
	TodayRequests int            `json:"today_requests"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyStats    map[string]int `json:"daily_stats"`
	MonthlyStats  map[string]int `json:"monthly_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

func newUsageStats(now time.Time) *UsageStats {
	return &UsageStats{
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  now,
	}
}

// UsageTracker 累计 LLM 请求数与 token 数，批量写入 DataDir/stats。
// 跨天重置当日计数，跨月重置月度 token。
type UsageTracker struct {
	store *storage.FileStorage
	clock func() time.Time

	mutex        sync.Mutex
	stats        *UsageStats
	isDirty      bool
	lastSaveTime time.Time
}

// NewUsageTracker 创建统计器，store 为空时只在内存中统计
func NewUsageTracker(store *storage.FileStorage) *UsageTracker {
	t := &UsageTracker{store: store, clock: time.Now}
	t.stats = t.load()
	return t
}

func (t *UsageTracker) load() *UsageStats {
	now := t.clock()
	if t.store == nil || !t.store.FileExists(usageDir, usageFile) {
		return newUsageStats(now)
	}
	var stats UsageStats
	if err := t.store.LoadJSONFile(usageDir, usageFile, &stats); err != nil {
		return newUsageStats(now)
	}
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}
	if stats.MonthlyStats == nil {
		stats.MonthlyStats = make(map[string]int)
	}
	return &stats
}

// rollPeriod 跨天/跨月时重置计数（调用方持锁）
func (t *UsageTracker) rollPeriod(now time.Time) {
	last := t.stats.LastUpdated
	if now.Format("2006-01-02") != last.Format("2006-01-02") {
		t.stats.TodayRequests = 0
		t.isDirty = true
	}
	if now.Format("2006-01") != last.Format("2006-01") {
		t.stats.MonthlyTokens = 0
		t.isDirty = true
	}
}

// RecordRequest 记录一次请求
func (t *UsageTracker) RecordRequest(tokens int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.clock()
	t.rollPeriod(now)

	t.stats.TodayRequests++
	t.stats.MonthlyTokens += tokens
	t.stats.DailyStats[now.Format("2006-01-02")]++
	t.stats.MonthlyStats[now.Format("2006-01")] += tokens
	t.stats.LastUpdated = now
	t.isDirty = true

	if now.Sub(t.lastSaveTime) > usageSaveSpan {
		return t.saveLocked()
	}
	return nil
}

// Stats 统计副本
func (t *UsageTracker) Stats() UsageStats {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.rollPeriod(t.clock())
	return UsageStats{
		TodayRequests: t.stats.TodayRequests,
		MonthlyTokens: t.stats.MonthlyTokens,
		DailyStats:    maps.Clone(t.stats.DailyStats),
		MonthlyStats:  maps.Clone(t.stats.MonthlyStats),
		LastUpdated:   t.stats.LastUpdated,
	}
}

func (t *UsageTracker) saveLocked() error {
	if !t.isDirty || t.store == nil {
		return nil
	}
	if _, err := t.store.SaveJSONFile(usageDir, usageFile, t.stats); err != nil {
		return err
	}
	t.isDirty = false
	t.lastSaveTime = t.clock()
	return nil
}

// Close 保存未写入的数据
func (t *UsageTracker) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.saveLocked()
}
