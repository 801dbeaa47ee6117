package domain

import (
	"time"
)

// ============================================================================
// 连接状态常量
// ============================================================================

// Status 连接状态
type Status string

const (
	StatusNone     Status = "none"     // 无记录（仅用于状态解析结果）
	StatusPending  Status = "pending"  // 等待接收方处理
	StatusAccepted Status = "accepted" // 已建立连接
	StatusRejected Status = "rejected" // 接收方已拒绝
)

// Valid 是否为可持久化的状态
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Active 非终止状态（pending / accepted），同一用户对最多存在一条
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

// rank 同一 updatedAt 下的裁决顺序：终态优先于 pending
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRejected:
		return 2
	case StatusAccepted:
		return 3
	}
	return 0
}

// ============================================================================
// 方向常量
// ============================================================================

// Direction 当前用户在连接中的角色
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionOutgoing Direction = "outgoing" // 当前用户是 requester
	DirectionIncoming Direction = "incoming" // 当前用户是 recipient
)

// ============================================================================
// 响应动作
// ============================================================================

// Action 接收方对 pending 请求的处理动作
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// Status 返回动作对应的目标状态
func (a Action) Status() (Status, bool) {
	switch a {
	case ActionAccept:
		return StatusAccepted, true
	case ActionReject:
		return StatusRejected, true
	}
	return "", false
}

// ============================================================================
// Connection - 核心实体
// ============================================================================

// Connection 两个用户之间的连接记录
type Connection struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	RecipientID string    `json:"recipient_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Touches 记录是否涉及该用户
func (c Connection) Touches(userID string) bool {
	return userID != "" && (c.RequesterID == userID || c.RecipientID == userID)
}

// Counterparty 返回对方的用户 ID
func (c Connection) Counterparty(userID string) string {
	if c.RequesterID == userID {
		return c.RecipientID
	}
	return c.RequesterID
}

// DirectionFor 返回该用户视角下的方向
func (c Connection) DirectionFor(userID string) Direction {
	switch userID {
	case c.RequesterID:
		return DirectionOutgoing
	case c.RecipientID:
		return DirectionIncoming
	}
	return DirectionNone
}

// PairKey 无序用户对的键
func (c Connection) PairKey() string {
	return PairKey(c.RequesterID, c.RecipientID)
}

// Supersedes 按 (updatedAt, status rank) 判断 c 是否不早于 other
func (c Connection) Supersedes(other Connection) bool {
	if c.UpdatedAt.After(other.UpdatedAt) {
		return true
	}
	if c.UpdatedAt.Before(other.UpdatedAt) {
		return false
	}
	return c.Status.rank() >= other.Status.rank()
}

// PairKey 无序用户对的键，与参数顺序无关
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ============================================================================
// Profile - 展示用资料（join 结果，只读）
// ============================================================================

// UnknownUserName 资料缺失时的占位名称
const UnknownUserName = "Unknown User"

// Profile 对方的展示资料，不参与身份与状态判断
type Profile struct {
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Title     string `json:"title,omitempty"`
}

// PlaceholderProfile 资料获取失败时的占位资料
func PlaceholderProfile(userID string) Profile {
	return Profile{UserID: userID, FullName: UnknownUserName}
}

// IsZero 是否为空资料
func (p Profile) IsZero() bool {
	return p == Profile{}
}

// ConnectionView 连接记录 + 对方展示资料
type ConnectionView struct {
	Connection   Connection `json:"connection"`
	Counterparty Profile    `json:"counterparty"`
}

// ============================================================================
// Resolution - 状态解析结果
// ============================================================================

// Resolution 当前用户与另一用户之间的关系状态
type Resolution struct {
	Status       Status    `json:"status"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Direction    Direction `json:"direction,omitempty"`
}

// NoneResolution 无记录时的解析结果
func NoneResolution() Resolution {
	return Resolution{Status: StatusNone}
}

// ============================================================================
// Snapshot - Store 的分区视图
// ============================================================================

// Snapshot 面向 UI 的分区视图
type Snapshot struct {
	UserID          string           `json:"user_id"`
	Connections     []ConnectionView `json:"connections"`
	IncomingPending []ConnectionView `json:"incoming_pending"`
	OutgoingPending []ConnectionView `json:"outgoing_pending"`
}
