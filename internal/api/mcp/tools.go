package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Zereker/ideahub/internal/domain"
)

// 工具名称
const (
	ToolSend    = "connection_send"
	ToolRespond = "connection_respond"
	ToolCancel  = "connection_cancel"
	ToolStatus  = "connection_status"
	ToolList    = "connection_list"
	ToolReload  = "connection_reload"
	ToolNotices = "connection_notifications"
)

func userIDParam() mcp.ToolOption {
	return mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("当前操作的用户标识"),
	)
}

// connectionTools 返回所有连接相关的 MCP 工具
func connectionTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolSend,
			mcp.WithDescription("向另一位用户发送连接请求。已有 pending 或 accepted 记录时会失败。"),
			userIDParam(),
			mcp.WithString("recipient_id",
				mcp.Required(),
				mcp.Description("接收方用户标识"),
			),
		),
		mcp.NewTool(ToolRespond,
			mcp.WithDescription("接受或拒绝一条发给自己的 pending 连接请求。"),
			userIDParam(),
			mcp.WithString("connection_id",
				mcp.Required(),
				mcp.Description("连接记录 id"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("accept 或 reject"),
				mcp.Enum(string(domain.ActionAccept), string(domain.ActionReject)),
			),
		),
		mcp.NewTool(ToolCancel,
			mcp.WithDescription("撤回自己发出的 pending 连接请求。"),
			userIDParam(),
			mcp.WithString("connection_id",
				mcp.Required(),
				mcp.Description("连接记录 id"),
			),
		),
		mcp.NewTool(ToolStatus,
			mcp.WithDescription("查询当前用户与另一用户之间的连接状态（none/pending/accepted/rejected）。"),
			userIDParam(),
			mcp.WithString("other_user_id",
				mcp.Required(),
				mcp.Description("另一方用户标识"),
			),
		),
		mcp.NewTool(ToolList,
			mcp.WithDescription("列出当前用户的全部连接，以及待处理的收到/发出请求。"),
			userIDParam(),
		),
		mcp.NewTool(ToolReload,
			mcp.WithDescription("从后端重新加载当前用户的连接记录。"),
			userIDParam(),
		),
		mcp.NewTool(ToolNotices,
			mcp.WithDescription("取出并清空当前用户的提示消息。"),
			userIDParam(),
		),
	}
}
