// internal/models/message_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stringer struct{}

func (stringer) String() string { return "from stringer" }

// TestNormalizeContent 测试各种负载的文本化
func TestNormalizeContent(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"plain", "hello", "hello"},
		{"text", Text("hi there"), "hi there"},
		{"reply response first", StructuredReply{Response: "r", Content: "c"}, "r"},
		{"reply content fallback", &StructuredReply{Content: "c"}, "c"},
		{"nil reply pointer", (*StructuredReply)(nil), ""},
		{"map response", map[string]interface{}{"response": "yo", "content": "no"}, "yo"},
		{"map content", map[string]interface{}{"content": "only content"}, "only content"},
		{"string map", map[string]string{"content": "sm"}, "sm"},
		{"bytes", []byte("raw"), "raw"},
		{"stringer", stringer{}, "from stringer"},
		{"number", 42, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeContent(tc.in))
		})
	}
}

// TestNormalizeContentUnknownMap 无法识别的结构直接字符串化，不报错
func TestNormalizeContentUnknownMap(t *testing.T) {
	out := NormalizeContent(map[string]interface{}{"mood": "happy"})
	assert.Contains(t, out, "mood")
	assert.Contains(t, out, "happy")
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, MessageTypeAutonomous.Valid())
	assert.False(t, MessageType("shout").Valid())
}

func TestNewMessageIDOrdered(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
