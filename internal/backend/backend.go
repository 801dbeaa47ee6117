// Package backend 定义连接子系统对后端的最小契约（查询、写入、变更推送、资料 join），
// 并提供内存、PostgreSQL 两种实现以及变更推送的发布与分发。
package backend

import (
	"context"

	"github.com/Zereker/ideahub/internal/domain"
)

// Repository connections 表的读写契约
//
// 服务端规则必须在实现中强制执行，客户端预检只是体验优化：
//   - 同一无序用户对最多一条 pending/accepted 记录
//   - 只有 recipient 可以 accept/reject
//   - 只有 requester 可以取消（删除）pending 记录
type Repository interface {
	// Get 按 id 查询，不存在返回 domain.ErrNotFound
	Get(ctx context.Context, id string) (domain.Connection, error)

	// FindBetween 查询用户对（任意方向）之间的记录，statuses 为空时不过滤状态
	FindBetween(ctx context.Context, a, b string, statuses ...domain.Status) ([]domain.Connection, error)

	// ListAsRequester 我发起的连接，join recipient 的展示资料
	ListAsRequester(ctx context.Context, userID string) ([]domain.ConnectionView, error)

	// ListAsRecipient 我收到的连接，join requester 的展示资料
	ListAsRecipient(ctx context.Context, userID string) ([]domain.ConnectionView, error)

	// Insert 创建 pending 记录，id 与时间戳由服务端分配
	Insert(ctx context.Context, requesterID, recipientID string) (domain.Connection, error)

	// UpdateStatus 将 pending 记录改为 status，要求 actingUserID 为 recipient
	UpdateStatus(ctx context.Context, id, actingUserID string, status domain.Status) (domain.Connection, error)

	// Delete 删除 pending 记录，要求 actingUserID 为 requester，返回被删除的记录
	Delete(ctx context.Context, id, actingUserID string) (domain.Connection, error)
}

// ProfileSource 展示资料来源
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// EventHandler 变更事件回调
type EventHandler func(ctx context.Context, event domain.ChangeEvent)

// Subscription 一个变更推送订阅
type Subscription interface {
	// Unsubscribe 取消订阅，之后不再投递事件
	Unsubscribe()

	// Dropped 订阅结束（主动取消或被推送端断开）时关闭
	Dropped() <-chan struct{}

	// Err 被推送端断开的原因；主动取消时为 nil
	Err() error
}

// ChangeFeed 按用户过滤的变更推送（requester_id = me OR recipient_id = me）
type ChangeFeed interface {
	Subscribe(ctx context.Context, userID string, handler EventHandler) (Subscription, error)
}

// ============================================================================
// 服务端规则（Memory 与 Postgres 共用）
// ============================================================================

// checkInsert 校验新请求的参数与重复规则，existing 为该用户对的 active 记录
func checkInsert(requesterID, recipientID string, existing []domain.Connection) error {
	if requesterID == "" || recipientID == "" {
		return domain.NewError(domain.KindInvalidInput, "requester and recipient are required")
	}
	if requesterID == recipientID {
		return domain.NewError(domain.KindInvalidInput, "cannot connect to yourself")
	}
	return DuplicateError(existing)
}

// DuplicateError 已有 accepted 返回 AlreadyConnected，已有 pending 返回 AlreadyPending
func DuplicateError(existing []domain.Connection) error {
	var pending bool
	for _, c := range existing {
		switch c.Status {
		case domain.StatusAccepted:
			return domain.NewError(domain.KindAlreadyConnected, "users are already connected")
		case domain.StatusPending:
			pending = true
		}
	}
	if pending {
		return domain.NewError(domain.KindAlreadyPending, "a pending request already exists")
	}
	return nil
}

// checkRespond recipient-only，且必须是 pending
func checkRespond(c domain.Connection, actingUserID string, status domain.Status) error {
	if status != domain.StatusAccepted && status != domain.StatusRejected {
		return domain.NewError(domain.KindInvalidInput, "status must be accepted or rejected")
	}
	if c.RecipientID != actingUserID {
		return domain.NewError(domain.KindNotAuthorized, "only the recipient may respond")
	}
	if c.Status != domain.StatusPending {
		return domain.NewError(domain.KindInvalidState, "connection is "+string(c.Status))
	}
	return nil
}

// checkCancel requester-only，且必须是 pending
func checkCancel(c domain.Connection, actingUserID string) error {
	if c.RequesterID != actingUserID {
		return domain.NewError(domain.KindNotAuthorized, "only the requester may cancel")
	}
	if c.Status != domain.StatusPending {
		return domain.NewError(domain.KindInvalidState, "connection is "+string(c.Status))
	}
	return nil
}

func notFound(id string) error {
	return domain.NewError(domain.KindNotFound, "connection "+id+" not found")
}
