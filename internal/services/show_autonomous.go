// internal/services/show_autonomous.go
package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/AIHouse/internal/bus"
	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/models"
)

// AutonomousTick 所有已初始化角色并发生成一句自发发言，按角色名顺序写入日志
func (s *ShowService) AutonomousTick(ctx context.Context) ([]models.Message, error) {
	ids := s.initialized()
	if len(ids) == 0 {
		return nil, nil
	}

	sceneCtx := s.contexts.BuildContext("", "").SceneContext
	arcCtx := s.registry.CurrentArcContext()

	lines := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		m, err := s.member(id)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			return s.turns.Do(id, func() error {
				line, err := m.resident.GenerateAutonomousMessage(gctx, sceneCtx, arcCtx)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					line = m.resident.CannedLine()
				}
				lines[i] = line
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(ids))
	for i, id := range ids {
		if lines[i] == "" {
			continue
		}
		msg, _ := s.deliver(ctx, id, lines[i], models.MessageTypeAutonomous, 0)
		out = append(out, msg)
	}
	return out, nil
}

// StartAutonomous 按 AutonomousInterval 定时触发自发发言，阻塞直到 ctx 结束。
// 间隔为 0 时立即返回。
func (s *ShowService) StartAutonomous(ctx context.Context) error {
	interval := s.cfg.AutonomousInterval
	if interval <= 0 {
		return nil
	}
	s.logger.Info("⏰ 自发发言已启动", map[string]interface{}{"interval": interval.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msgs, err := s.AutonomousTick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("⚠️ 自发发言失败", map[string]interface{}{"error": err.Error()})
				continue
			}
			s.logger.Debug("自发发言", map[string]interface{}{"count": len(msgs)})
		}
	}
}

// ConsumeHandoffs 订阅 handoff.*，让被点名的角色回应；回应沿用转交消息的 hops，
// 超过上限后由反射器停止继续转交。阻塞直到 ctx 结束或总线关闭。
func (s *ShowService) ConsumeHandoffs(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Subscribe(bus.PatternHandoffs)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ex, ok := <-sub.C():
			if !ok {
				return nil
			}
			s.HandleHandoff(ctx, ex)
		}
	}
}

// HandleHandoff 处理一条转交消息，返回目标角色的回应
func (s *ShowService) HandleHandoff(ctx context.Context, ex bus.Exchange) (models.Message, bool) {
	target := models.NormalizeSpeaker(ex.Target)
	if _, known := cast.LookupPersona(target); !known {
		s.logger.Warn("⚠️ 转交目标不是节目角色", map[string]interface{}{"target": ex.Target, "source": ex.Source})
		return models.Message{}, false
	}
	m, err := s.member(target)
	if err != nil {
		return models.Message{}, false
	}

	s.emit(models.EventHandoff, map[string]interface{}{
		"from": ex.Source,
		"to":   target,
		"hops": ex.Metadata.Hops,
	})

	prompt := fmt.Sprintf("%s said to you: %s", ex.Source, models.NormalizeContent(ex.Content))
	reply, _, err := s.takeTurn(ctx, m, prompt)
	if err != nil {
		return models.Message{}, false
	}
	msg, _ := s.deliver(ctx, target, reply, models.MessageTypeAI, ex.Metadata.Hops)
	return msg, true
}
