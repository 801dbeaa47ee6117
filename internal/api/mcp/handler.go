package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// Handler handles MCP tool calls
type Handler struct {
	logger   *slog.Logger
	sessions *connection.Registry
}

// NewHandler creates a new MCP handler
func NewHandler(sessions *connection.Registry) *Handler {
	return &Handler{
		logger:   log.Logger("mcp.handler"),
		sessions: sessions,
	}
}

// toolError 工具调用失败时返回的结构
type toolError struct {
	Error     string      `json:"error"`
	ErrorKind domain.Kind `json:"error_kind"`
}

// handlers 工具名 -> 处理函数
func (h *Handler) handlers() map[string]server.ToolHandlerFunc {
	return map[string]server.ToolHandlerFunc{
		ToolSend:    h.handleSend,
		ToolRespond: h.handleRespond,
		ToolCancel:  h.handleCancel,
		ToolStatus:  h.handleStatus,
		ToolList:    h.handleList,
		ToolReload:  h.handleReload,
		ToolNotices: h.handleNotifications,
	}
}

// session 按 user_id 参数挂载会话
func (h *Handler) session(ctx context.Context, req mcp.CallToolRequest) (*connection.Session, *mcp.CallToolResult) {
	userID, err := requireArg(req, "user_id")
	if err != nil {
		return nil, errorResult(err)
	}

	s, err := h.sessions.Get(ctx, userID)
	if err != nil {
		h.logger.Error("mount session failed", "user_id", userID, "error", err)
		return nil, errorResult(domain.Unavailable(err, "mount session"))
	}
	return s, nil
}

// handleSend handles connection_send tool call
func (h *Handler) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	recipientID, err := requireArg(req, "recipient_id")
	if err != nil {
		return errorResult(err), nil
	}

	view, err := s.SendRequest(ctx, recipientID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(view), nil
}

// handleRespond handles connection_respond tool call
func (h *Handler) handleRespond(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	connectionID, err := requireArg(req, "connection_id")
	if err != nil {
		return errorResult(err), nil
	}
	action, err := requireArg(req, "action")
	if err != nil {
		return errorResult(err), nil
	}

	conn, err := s.Respond(ctx, connectionID, domain.Action(strings.ToLower(action)))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(conn), nil
}

// handleCancel handles connection_cancel tool call
func (h *Handler) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	connectionID, err := requireArg(req, "connection_id")
	if err != nil {
		return errorResult(err), nil
	}

	conn, err := s.Cancel(ctx, connectionID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(conn), nil
}

// handleStatus handles connection_status tool call
func (h *Handler) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	otherID, err := requireArg(req, "other_user_id")
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(s.Status(otherID)), nil
}

// handleList handles connection_list tool call
func (h *Handler) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	return jsonResult(s.Snapshot()), nil
}

// handleReload handles connection_reload tool call
func (h *Handler) handleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	if err := s.Reload(ctx); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(s.Snapshot()), nil
}

// handleNotifications handles connection_notifications tool call
func (h *Handler) handleNotifications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, failed := h.session(ctx, req)
	if failed != nil {
		return failed, nil
	}
	return jsonResult(map[string]any{
		"notifications": s.Notifications(),
		"reconnecting":  s.Reconnecting(),
	}), nil
}

// Helper functions

func requireArg(req mcp.CallToolRequest, name string) (string, error) {
	value, err := req.RequireString(name)
	if err != nil {
		return "", domain.WrapError(domain.KindInvalidInput, err, "invalid arguments")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", domain.NewError(domain.KindInvalidInput, fmt.Sprintf("%s is required", name))
	}
	return value, nil
}

func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

func errorResult(err error) *mcp.CallToolResult {
	b, _ := json.Marshal(toolError{Error: err.Error(), ErrorKind: domain.KindOf(err)})
	return mcp.NewToolResultError(string(b))
}
