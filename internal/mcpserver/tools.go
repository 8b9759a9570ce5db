// internal/mcpserver/tools.go
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Corphon/AIHouse/internal/narrative"
	"github.com/Corphon/AIHouse/internal/reflector"
	"github.com/Corphon/AIHouse/internal/services"
	"github.com/Corphon/AIHouse/internal/utils"
)

var (
	tracer     trace.Tracer = otel.Tracer("aihouse/mcp")
	serverSpan              = trace.WithSpanKind(trace.SpanKindServer)
)

// Handlers 工具实现
type Handlers struct {
	show      *services.ShowService
	reflector *reflector.Reflector
	registry  *narrative.Registry
	logger    *utils.Logger
}

// NewHandlers 创建工具实现
func NewHandlers(show *services.ShowService, r *reflector.Reflector, reg *narrative.Registry, logger *utils.Logger) *Handlers {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Handlers{show: show, reflector: r, registry: reg, logger: logger}
}

// Tools 工具定义与处理函数
func (h *Handlers) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("get_scene_summary",
				mcp.WithDescription("Get the latest scene summary of the house together with scene statistics and the active narrative arc context."),
			),
			Handler: h.HandleGetSceneSummary,
		},
		{
			Tool: mcp.NewTool("list_arcs",
				mcp.WithDescription("List every narrative arc with its status, current phase and completed phases."),
			),
			Handler: h.HandleListArcs,
		},
		{
			Tool: mcp.NewTool("activate_arc",
				mcp.WithDescription("Activate a narrative arc by id. Fails if the arc is unknown or already active."),
				mcp.WithString("arc_id", mcp.Required(), mcp.Description("Arc id, e.g. humanity_arc")),
			),
			Handler: h.HandleActivateArc,
		},
		{
			Tool: mcp.NewTool("send_message",
				mcp.WithDescription("Say something to one of the residents (max, leo, emma, marvin) and get their reply."),
				mcp.WithString("character_id", mcp.Required(), mcp.Description("Resident id")),
				mcp.WithString("message", mcp.Required(), mcp.Description("What the user says")),
			),
			Handler: h.HandleSendMessage,
		},
		{
			Tool: mcp.NewTool("execute_scenario",
				mcp.WithDescription("Play a scripted scenario once. Each script line is added to the scene log."),
				mcp.WithString("scenario_id", mcp.Required(), mcp.Description("Scenario id")),
			),
			Handler: h.HandleExecuteScenario,
		},
		{
			Tool: mcp.NewTool("get_chat_history",
				mcp.WithDescription("Get the most recent scene messages, oldest first."),
				mcp.WithNumber("limit", mcp.Description("Maximum number of messages (default 20)")),
			),
			Handler: h.HandleGetChatHistory,
		},
	}
}

// HandleGetSceneSummary 当前摘要
func (h *Handlers) HandleGetSceneSummary(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.get_scene_summary", serverSpan)
	defer span.End()

	result := map[string]any{
		"stats":       h.reflector.Stats(),
		"arc_context": h.registry.CurrentArcContext(),
	}
	if summary, ok := h.reflector.CurrentSummary(); ok {
		result["summary"] = summary
	} else {
		result["summary"] = nil
		result["message"] = "The scene is quiet with no recent activity."
	}
	return jsonResult(result)
}

// HandleListArcs 剧情弧列表
func (h *Handlers) HandleListArcs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.list_arcs", serverSpan)
	defer span.End()

	arcs := h.registry.ArcStatuses()
	span.SetAttributes(attribute.Int("result_count", len(arcs)))
	return jsonResult(map[string]any{"arcs": arcs, "count": len(arcs)})
}

// HandleActivateArc 激活剧情弧
func (h *Handlers) HandleActivateArc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.activate_arc", serverSpan)
	defer span.End()

	id := mcp.ParseString(req, "arc_id", "")
	if id == "" {
		span.SetStatus(codes.Error, "missing arc_id")
		return mcp.NewToolResultError("arc_id is required"), nil
	}
	span.SetAttributes(attribute.String("arc_id", id))

	if _, ok := h.registry.GetArc(id); !ok {
		span.SetStatus(codes.Error, "not found")
		return mcp.NewToolResultError(fmt.Sprintf("arc %s not found", id)), nil
	}
	if !h.registry.ActivateNarrativeArc(id) {
		span.SetStatus(codes.Error, "already active")
		return mcp.NewToolResultError(fmt.Sprintf("arc %s is already active", id)), nil
	}
	h.logger.Info("🎭 MCP 激活剧情弧", map[string]interface{}{"arc_id": id})
	return jsonResult(map[string]any{"arc_id": id, "context": h.registry.CurrentArcContext()})
}

// HandleSendMessage 用户发言
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.send_message", serverSpan)
	defer span.End()

	character := mcp.ParseString(req, "character_id", "")
	message := mcp.ParseString(req, "message", "")
	span.SetAttributes(attribute.String("character", character))
	if character == "" || message == "" {
		span.SetStatus(codes.Error, "missing arguments")
		return mcp.NewToolResultError("character_id and message are required"), nil
	}

	res, err := h.show.SendMessage(ctx, character, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// HandleExecuteScenario 演出剧本
func (h *Handlers) HandleExecuteScenario(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.execute_scenario", serverSpan)
	defer span.End()

	id := mcp.ParseString(req, "scenario_id", "")
	if id == "" {
		span.SetStatus(codes.Error, "missing scenario_id")
		return mcp.NewToolResultError("scenario_id is required"), nil
	}
	span.SetAttributes(attribute.String("scenario_id", id))

	playback, err := h.show.ExecuteScenario(ctx, id)
	if err != nil && playback == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(playback)
}

// HandleGetChatHistory 最近消息
func (h *Handlers) HandleGetChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.get_chat_history", serverSpan)
	defer span.End()

	limit := parseIntParam(req, "limit", 20)
	msgs := h.show.ChatHistory(limit)
	return jsonResult(map[string]any{"messages": msgs, "count": len(msgs)})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}
