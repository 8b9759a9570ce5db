// internal/models/message.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageType 消息来源类别
type MessageType string

const (
	MessageTypeUser       MessageType = "user"
	MessageTypeAI         MessageType = "ai"
	MessageTypeScene      MessageType = "scene"
	MessageTypeSystem     MessageType = "system"
	MessageTypeAutonomous MessageType = "autonomous"
)

// UserSpeaker 观众/玩家的固定发言者标识
const UserSpeaker = "user"

// Valid 判断是否为已知类型
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeUser, MessageTypeAI, MessageTypeScene, MessageTypeSystem, MessageTypeAutonomous:
		return true
	}
	return false
}

// Message 一条对话记录，追加到日志后不再修改
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Speaker   string      `json:"speaker"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Triggers  []string    `json:"triggers,omitempty"`
}

// NewMessageID 生成按时间有序的消息ID
func NewMessageID() string {
	return ulid.Make().String()
}

// Content 是流经消息管道的负载：Text 或 StructuredReply
type Content interface {
	isContent()
}

// Text 纯文本负载
type Text string

func (Text) isContent() {}

// StructuredReply 角色 Think 的结构化返回
type StructuredReply struct {
	Response  string                 `json:"response,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Character string                 `json:"character,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

func (StructuredReply) isContent() {}

// Text 返回规范文本：优先 Response，其次 Content
func (r StructuredReply) Text() string {
	if r.Response != "" {
		return r.Response
	}
	if r.Content != "" {
		return r.Content
	}
	if len(r.Extra) > 0 {
		return fmt.Sprint(r.Extra)
	}
	return ""
}

// NormalizeContent 在入口处把任意负载转换为文本。
// 从不拒绝输入：无法识别的结构直接字符串化。
func NormalizeContent(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case Text:
		return string(c)
	case StructuredReply:
		return c.Text()
	case *StructuredReply:
		if c == nil {
			return ""
		}
		return c.Text()
	case []byte:
		return string(c)
	case map[string]interface{}:
		for _, key := range []string{"response", "content"} {
			if val, ok := c[key]; ok && val != nil {
				return NormalizeContent(val)
			}
		}
		return fmt.Sprint(c)
	case map[string]string:
		if val, ok := c["response"]; ok {
			return val
		}
		if val, ok := c["content"]; ok {
			return val
		}
		return fmt.Sprint(c)
	case fmt.Stringer:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}

// NormalizeSpeaker 统一发言者标识为小写
func NormalizeSpeaker(speaker string) string {
	return strings.ToLower(strings.TrimSpace(speaker))
}
