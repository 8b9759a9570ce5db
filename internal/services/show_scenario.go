// internal/services/show_scenario.go
package services

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Corphon/AIHouse/internal/errors"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
)

// ScenarioPlayback 剧本演出结果
type ScenarioPlayback struct {
	narrative.ExecutionResult
	Played   []models.Message `json:"played"`
	Complete bool             `json:"complete"`
}

// ExecuteScenario 一次性执行剧本并逐行演出。ctx 取消时停止，已演出的台词保留在日志中。
func (s *ShowService) ExecuteScenario(ctx context.Context, scenarioID string) (*ScenarioPlayback, error) {
	exec := s.registry.ExecuteScenario(scenarioID)
	if !exec.OK() {
		if exec.Executed {
			return nil, apperrors.NewConflictError(exec.Error, nil)
		}
		return nil, apperrors.NewNotFoundError(exec.Error, nil)
	}
	return s.play(ctx, exec)
}

// play 按 delay 依次写入 scene 消息，delay 是相对剧本开始的秒数
func (s *ShowService) play(ctx context.Context, exec narrative.ExecutionResult) (*ScenarioPlayback, error) {
	out := &ScenarioPlayback{ExecutionResult: exec, Played: make([]models.Message, 0, len(exec.Script))}
	start := time.Now()

	for _, line := range exec.Script {
		due := time.Duration(line.DelaySeconds)*time.Second - time.Since(start)
		if err := s.wait(ctx, due); err != nil {
			s.logger.Warn("⏹️ 剧本演出被中断", map[string]interface{}{
				"scenario_id": exec.ScenarioID,
				"played":      len(out.Played),
				"total":       len(exec.Script),
			})
			return out, apperrors.NewTimeoutError(fmt.Sprintf("剧本 %s 演出中断", exec.ScenarioID), err)
		}
		msg := s.reflector.AddMessage(ctx, line.Character, line.Message, models.MessageTypeScene, line.Action)
		s.advanceArcs(line.Message, line.Character)
		out.Played = append(out.Played, msg)
	}

	out.Complete = true
	s.logger.Info("🎬 剧本演出完成", map[string]interface{}{
		"scenario_id": exec.ScenarioID,
		"lines":       len(out.Played),
	})
	return out, nil
}

// playInBackground 触发词命中的剧本在后台演出，Shutdown 时取消
func (s *ShowService) playInBackground(exec narrative.ExecutionResult) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.bgCtx.Err() != nil {
		s.logger.Warn("⚠️ 节目正在关闭，跳过剧本演出", map[string]interface{}{"scenario_id": exec.ScenarioID})
		return false
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if _, err := s.play(s.bgCtx, exec); err != nil {
			s.logger.Debug("后台剧本未完成", map[string]interface{}{"scenario_id": exec.ScenarioID})
		}
	}()
	return true
}
