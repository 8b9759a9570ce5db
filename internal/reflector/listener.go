// internal/reflector/listener.go
package reflector

import (
	"context"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/models"
)

// MetaMessageType 交换消息 Extra 中指定消息类别的键
const MetaMessageType = "message_type"

// Listen 订阅全部角色与房间主题，把消息写入日志并在点名时转交。
// 已编排的交换消息被忽略；达到 maxHops 的回复只记录不再转交。
// 阻塞直到 ctx 结束或总线关闭。
func (r *Reflector) Listen(ctx context.Context, b *bus.Bus, maxHops int) error {
	sub, err := b.Subscribe(bus.PatternCharacters, bus.PatternRooms)
	if err != nil {
		return err
	}
	defer sub.Close()

	r.logger.Info("👂 反射器开始监听总线", map[string]interface{}{
		"patterns": sub.Patterns(),
		"max_hops": maxHops,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case ex, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.Ingest(ctx, b, ex, maxHops)
		}
	}
}

// Ingest 处理一条交换消息，返回写入的消息；被过滤时返回 false
func (r *Reflector) Ingest(ctx context.Context, b *bus.Bus, ex bus.Exchange, maxHops int) (models.Message, bool) {
	if ex.Metadata.Orchestrated {
		r.logger.Debug("跳过已编排消息", map[string]interface{}{
			"topic":  ex.Topic,
			"source": ex.Source,
		})
		return models.Message{}, false
	}
	if ex.Type != "" && ex.Type != bus.ExchangeText {
		return models.Message{}, false
	}

	msgType := models.MessageTypeAI
	if v, ok := ex.Metadata.Extra[MetaMessageType].(string); ok && models.MessageType(v).Valid() {
		msgType = models.MessageType(v)
	}
	var triggers []string
	if v, ok := ex.Metadata.Extra["triggers"].([]string); ok {
		triggers = v
	}

	msg := r.AddMessage(ctx, ex.Source, ex.Content, msgType, triggers...)

	target, addressed := r.DetectAddressee(msg.Speaker, msg.Content)
	if !addressed || b == nil {
		return msg, true
	}

	if ex.Metadata.Hops >= maxHops {
		r.logger.Warn("✋ 转交链达到上限，停止转交", map[string]interface{}{
			"speaker": msg.Speaker,
			"target":  target,
			"hops":    ex.Metadata.Hops,
		})
		r.metrics.HandoffTruncated()
		return msg, true
	}

	handoff := bus.Exchange{
		Source:  msg.Speaker,
		Target:  target,
		Content: msg.Content,
		Type:    bus.ExchangeText,
		Metadata: bus.Metadata{
			Orchestrated: true,
			Hops:         ex.Metadata.Hops + 1,
			Extra: map[string]interface{}{
				"message_id": msg.ID,
			},
		},
	}
	if err := b.Publish(ctx, bus.HandoffTopic(target), handoff); err != nil {
		r.logger.Warn("⚠️ 转交发布失败", map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
		return msg, true
	}

	r.metrics.Handoff()
	r.logger.Info("🔀 检测到点名，转交消息", map[string]interface{}{
		"from": msg.Speaker,
		"to":   target,
		"hops": handoff.Metadata.Hops,
	})
	return msg, true
}
