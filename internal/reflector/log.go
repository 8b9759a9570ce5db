// internal/reflector/log.go
package reflector

import (
	"time"

	"github.com/Corphon/AIHouse/internal/models"
)

const (
	DefaultMaxLogSize     = 100
	DefaultSummaryHistory = 10
	MaxRecentTriggers     = 5
)

// MessageLog 定长环形缓冲，超出容量时按 FIFO 淘汰最旧消息。
// 非并发安全，由 Reflector 统一加锁。
type MessageLog struct {
	buf   []models.Message
	start int
	size  int
}

// NewMessageLog 创建日志，max<=0 时使用默认容量
func NewMessageLog(max int) *MessageLog {
	if max <= 0 {
		max = DefaultMaxLogSize
	}
	return &MessageLog{buf: make([]models.Message, max)}
}

// Append 追加一条消息
func (l *MessageLog) Append(msg models.Message) {
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = msg
		l.size++
		return
	}
	// 满了，覆盖最旧的
	l.buf[l.start] = msg
	l.start = (l.start + 1) % capacity
}

// Len 当前消息数
func (l *MessageLog) Len() int { return l.size }

// Cap 最大容量
func (l *MessageLog) Cap() int { return len(l.buf) }

// Tail 返回最后 n 条消息的副本，按追加顺序
func (l *MessageLog) Tail(n int) []models.Message {
	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return []models.Message{}
	}
	out := make([]models.Message, n)
	capacity := len(l.buf)
	first := l.start + l.size - n
	for i := 0; i < n; i++ {
		out[i] = l.buf[(first+i)%capacity]
	}
	return out
}

// All 返回全部消息副本
func (l *MessageLog) All() []models.Message {
	return l.Tail(l.size)
}

// SummaryStore 有界的摘要历史，Current 总是最新一条
type SummaryStore struct {
	items []models.SceneSummary
	max   int
}

// NewSummaryStore 创建摘要历史
func NewSummaryStore(max int) *SummaryStore {
	if max <= 0 {
		max = DefaultSummaryHistory
	}
	return &SummaryStore{max: max}
}

// Add 追加摘要并保持上限
func (s *SummaryStore) Add(summary models.SceneSummary) {
	s.items = append(s.items, summary)
	if over := len(s.items) - s.max; over > 0 {
		s.items = append([]models.SceneSummary(nil), s.items[over:]...)
	}
}

// Current 最新摘要
func (s *SummaryStore) Current() (models.SceneSummary, bool) {
	if len(s.items) == 0 {
		return models.SceneSummary{}, false
	}
	return s.items[len(s.items)-1], true
}

// All 按生成顺序返回副本
func (s *SummaryStore) All() []models.SceneSummary {
	return append([]models.SceneSummary{}, s.items...)
}

// Len 摘要数量
func (s *SummaryStore) Len() int { return len(s.items) }

// ActiveSet 活跃角色集合：按首次出现顺序列出，
// 超过 ttl 未发言的角色被移除，超过容量时淘汰最久未发言者。
// ttl<=0 表示永不过期。
type ActiveSet struct {
	order    []string
	lastSeen map[string]time.Time
	ttl      time.Duration
	capacity int
}

// NewActiveSet 创建活跃角色集合
func NewActiveSet(ttl time.Duration, capacity int) *ActiveSet {
	if capacity <= 0 {
		capacity = 32
	}
	return &ActiveSet{
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		capacity: capacity,
	}
}

// Touch 记录一次发言
func (a *ActiveSet) Touch(id string, now time.Time) {
	if _, ok := a.lastSeen[id]; !ok {
		a.order = append(a.order, id)
	}
	a.lastSeen[id] = now

	for len(a.order) > a.capacity {
		a.remove(a.oldest())
	}
}

// Members 返回当前活跃角色，顺带清理过期项
func (a *ActiveSet) Members(now time.Time) []string {
	if a.ttl > 0 {
		for _, id := range append([]string(nil), a.order...) {
			if now.Sub(a.lastSeen[id]) > a.ttl {
				a.remove(id)
			}
		}
	}
	return append([]string{}, a.order...)
}

// Contains 是否活跃
func (a *ActiveSet) Contains(id string, now time.Time) bool {
	seen, ok := a.lastSeen[id]
	if !ok {
		return false
	}
	return a.ttl <= 0 || now.Sub(seen) <= a.ttl
}

func (a *ActiveSet) oldest() string {
	var (
		oldestID string
		oldestAt time.Time
	)
	for i, id := range a.order {
		if i == 0 || a.lastSeen[id].Before(oldestAt) {
			oldestID, oldestAt = id, a.lastSeen[id]
		}
	}
	return oldestID
}

func (a *ActiveSet) remove(id string) {
	delete(a.lastSeen, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}
