package domain

import "time"

// ============================================================================
// ChangeEvent - 变更推送事件
// ============================================================================

// EventType 行级变更类型
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ConnectionsTable 变更事件所属的表
const ConnectionsTable = "connections"

// ChangeEvent 后端推送的 connections 行变更
type ChangeEvent struct {
	Type            EventType   `json:"event_type"`
	Table           string      `json:"table"`
	Old             *Connection `json:"old,omitempty"`
	New             *Connection `json:"new,omitempty"`
	CommitTimestamp time.Time   `json:"commit_timestamp"`
}

// Record 返回事件对应的记录：insert/update 取 New，delete 取 Old
func (e ChangeEvent) Record() (Connection, bool) {
	if e.Type == EventDelete {
		if e.Old == nil {
			return Connection{}, false
		}
		return *e.Old, true
	}
	if e.New == nil {
		return Connection{}, false
	}
	return *e.New, true
}

// Touches 事件是否与该用户相关（requester = me OR recipient = me）
func (e ChangeEvent) Touches(userID string) bool {
	if e.New != nil && e.New.Touches(userID) {
		return true
	}
	return e.Old != nil && e.Old.Touches(userID)
}

// ============================================================================
// Notification - 面向用户的提示
// ============================================================================

// NotificationKind 提示类型
type NotificationKind string

const (
	NotifyRequestReceived NotificationKind = "request_received"
	NotifyRequestAccepted NotificationKind = "request_accepted"
	NotifyRequestSent     NotificationKind = "request_sent"
	NotifyRequestRejected NotificationKind = "request_rejected"
	NotifyRequestCanceled NotificationKind = "request_canceled"
	NotifyOperationFailed NotificationKind = "operation_failed"
)

// Level 提示级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification 一条 toast 提示
type Notification struct {
	UserID       string           `json:"user_id"`
	Kind         NotificationKind `json:"kind"`
	Level        Level            `json:"level"`
	Message      string           `json:"message"`
	ConnectionID string           `json:"connection_id,omitempty"`
	Counterparty *Profile         `json:"counterparty,omitempty"`
	ErrorKind    Kind             `json:"error_kind,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
