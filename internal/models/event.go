// internal/models/event.go
package models

import "time"

// ShowEventType 推送给前端的节目事件类别
type ShowEventType string

const (
	EventMessage    ShowEventType = "message"
	EventSummary    ShowEventType = "summary"
	EventTransition ShowEventType = "arc_transition"
	EventArc        ShowEventType = "arc"
	EventHandoff    ShowEventType = "handoff"
	EventScenario   ShowEventType = "scenario"
)

// ShowEvent 通过 websocket 广播的事件
type ShowEvent struct {
	Type      ShowEventType `json:"type"`
	Payload   interface{}   `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
}
