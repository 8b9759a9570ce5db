// internal/bus/bus.go
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Corphon/AIHouse/internal/utils"
)

// ExchangeType 交换消息类别
type ExchangeType string

const (
	ExchangeText    ExchangeType = "text"
	ExchangeEvent   ExchangeType = "event"
	ExchangeControl ExchangeType = "control"
)

// 常用主题
const (
	TopicShowEvent     = "show.event"
	TopicCharacterFmt  = "character.%s"
	TopicHandoffFmt    = "handoff.%s"
	TopicRoomFmt       = "room.%s"
	PatternCharacters  = "character.*"
	PatternRooms       = "room.*"
	PatternHandoffs    = "handoff.*"
	defaultSubscribeSz = 64
)

// CharacterTopic 角色发言主题
func CharacterTopic(id string) string { return fmt.Sprintf(TopicCharacterFmt, id) }

// HandoffTopic 转交主题
func HandoffTopic(target string) string { return fmt.Sprintf(TopicHandoffFmt, target) }

// RoomTopic 房间主题
func RoomTopic(room string) string { return fmt.Sprintf(TopicRoomFmt, room) }

// Metadata 交换消息附带信息。Orchestrated 表示该消息由编排层产生，监听者不得再次转交。
type Metadata struct {
	Orchestrated bool                   `json:"orchestrated"`
	Hops         int                    `json:"hops"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Exchange 总线上流转的消息
type Exchange struct {
	ID        string       `json:"id"`
	Topic     string       `json:"topic"`
	Source    string       `json:"source"`
	Target    string       `json:"target,omitempty"`
	Content   interface{}  `json:"content"`
	Type      ExchangeType `json:"type"`
	Metadata  Metadata     `json:"metadata"`
	Timestamp time.Time    `json:"timestamp"`
}

// DropCounter 丢弃计数回调
type DropCounter interface {
	BusDropped(topic string)
}

// Subscription 一个订阅，按主题模式接收交换消息
type Subscription struct {
	id       string
	patterns []glob.Glob
	raw      []string
	ch       chan Exchange
	bus      *Bus
	closed   atomic.Bool
	once     sync.Once
}

// C 返回接收通道，订阅关闭后通道关闭
func (s *Subscription) C() <-chan Exchange { return s.ch }

// Patterns 订阅的原始模式
func (s *Subscription) Patterns() []string { return append([]string(nil), s.raw...) }

// Close 取消订阅
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) matches(topic string) bool {
	for _, g := range s.patterns {
		if g.Match(topic) {
			return true
		}
	}
	return false
}

// Bus 进程内发布/订阅总线。发布不阻塞：订阅者队列满时丢弃并记录警告。
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	buffer  int
	closed  bool
	logger  *utils.Logger
	metrics DropCounter
}

// New 创建总线
func New(buffer int, logger *utils.Logger, metrics DropCounter) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscribeSz
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Bus{
		subs:    make(map[string]*Subscription),
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe 以 '.' 为分隔符编译主题模式，如 "character.*"
func (b *Bus) Subscribe(patterns ...string) (*Subscription, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("至少需要一个主题模式")
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("无效的主题模式 %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("总线已关闭")
	}

	sub := &Subscription{
		id:       uuid.New().String(),
		patterns: compiled,
		raw:      append([]string(nil), patterns...),
		ch:       make(chan Exchange, b.buffer),
		bus:      b,
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Publish 投递到所有匹配订阅，每个订阅最多收到一次
func (b *Bus) Publish(ctx context.Context, topic string, ex Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	if ex.Type == "" {
		ex.Type = ExchangeText
	}
	ex.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("总线已关闭")
	}

	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ex:
		default:
			b.logger.Warn("⚠️ 订阅者队列已满，丢弃消息", map[string]interface{}{
				"topic":        topic,
				"subscription": sub.id,
				"source":       ex.Source,
			})
			if b.metrics != nil {
				b.metrics.BusDropped(topic)
			}
		}
	}
	return nil
}

// SubscriberCount 当前订阅数
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) unsubscribe(s *Subscription) {
	s.once.Do(func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
		s.closed.Store(true)
		close(s.ch)
	})
}

// Close 关闭总线及全部订阅
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.unsubscribe(s)
	}
}
