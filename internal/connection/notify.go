package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// DefaultInboxSize 每个会话保留的提示数量
const DefaultInboxSize = 50

// Notifier 接收面向用户的提示
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// NotifierFunc 函数适配器
type NotifierFunc func(ctx context.Context, n domain.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n domain.Notification) {
	f(ctx, n)
}

// MultiNotifier 依次投递给多个 Notifier
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n domain.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// LogNotifier 将提示写入日志
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志提示
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.Logger("notification")}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) {
	level := slog.LevelInfo
	if n.Level == domain.LevelError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		"user_id", n.UserID,
		"kind", n.Kind,
		"connection_id", n.ConnectionID,
	)
}

// Inbox 有界提示队列，满时丢弃最旧的一条
type Inbox struct {
	mu    sync.Mutex
	items []domain.Notification
	size  int
}

// NewInbox 创建 Inbox
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size}
}

// Notify implements Notifier.
func (i *Inbox) Notify(_ context.Context, n domain.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.items) >= i.size {
		i.items = i.items[1:]
	}
	i.items = append(i.items, n)
}

// Drain 取出并清空全部提示
func (i *Inbox) Drain() []domain.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := i.items
	i.items = nil
	if out == nil {
		out = []domain.Notification{}
	}
	return out
}

// Len 当前提示数量
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.items)
}

// ============================================================================
// 提示文案
// ============================================================================

func displayName(p *domain.Profile, fallbackID string) string {
	if p != nil && p.FullName != "" {
		return p.FullName
	}
	if fallbackID != "" {
		return fallbackID
	}
	return domain.UnknownUserName
}

func newNotification(userID string, kind domain.NotificationKind, level domain.Level, connectionID string, counterparty *domain.Profile, message string) domain.Notification {
	return domain.Notification{
		UserID:       userID,
		Kind:         kind,
		Level:        level,
		Message:      message,
		ConnectionID: connectionID,
		Counterparty: counterparty,
		CreatedAt:    time.Now().UTC(),
	}
}

func requestReceived(userID string, c domain.Connection, from domain.Profile) domain.Notification {
	return newNotification(userID, domain.NotifyRequestReceived, domain.LevelInfo, c.ID, &from,
		fmt.Sprintf("New connection request from %s", displayName(&from, c.RequesterID)))
}

func requestAccepted(userID string, c domain.Connection, by domain.Profile) domain.Notification {
	return newNotification(userID, domain.NotifyRequestAccepted, domain.LevelSuccess, c.ID, &by,
		fmt.Sprintf("%s accepted your connection request", displayName(&by, c.RecipientID)))
}

// failureMessage 各错误类型对应的提示文案
func failureMessage(kind domain.Kind) string {
	switch kind {
	case domain.KindAlreadyPending:
		return "A connection request is already pending"
	case domain.KindAlreadyConnected:
		return "You are already connected"
	case domain.KindNotAuthorized:
		return "You are not allowed to do that"
	case domain.KindInvalidState:
		return "This request has already been handled"
	case domain.KindNotFound:
		return "This request no longer exists"
	case domain.KindInvalidInput:
		return "Invalid request"
	default:
		return "Something went wrong, please try again"
	}
}

func operationFailed(userID, connectionID string, err error) domain.Notification {
	kind := domain.KindOf(err)
	n := newNotification(userID, domain.NotifyOperationFailed, domain.LevelError, connectionID, nil, failureMessage(kind))
	n.ErrorKind = kind
	return n
}
