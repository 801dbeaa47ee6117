package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// ErrHubClosed Hub 已关闭
var ErrHubClosed = errors.New("change feed hub closed")

// Hub 变更推送的进程内分发：消息队列 -> 解析 -> 按用户过滤的订阅者
//
// 投递在调用方 goroutine 中同步完成，同一连接的事件保持消息队列给出的顺序。
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*hubSubscription
	nextID uint64
	closed bool
}

var _ ChangeFeed = (*Hub)(nil)

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		logger: log.Logger("feed-hub"),
		subs:   make(map[uint64]*hubSubscription),
	}
}

// HandleMessage 消费者回调，签名与 mq.MessageHandler 一致
func (h *Hub) HandleMessage(ctx context.Context, topic string, message []byte) error {
	event, err := DecodeEvent(message)
	if err != nil {
		h.logger.Warn("drop undecodable change event", "topic", topic, "error", err)
		return err
	}
	h.Dispatch(ctx, event)
	return nil
}

// Handle 内存队列回调
func (h *Hub) Handle(message []byte) error {
	return h.HandleMessage(context.Background(), "", message)
}

// Dispatch 将事件投递给相关订阅者
func (h *Hub) Dispatch(ctx context.Context, event domain.ChangeEvent) {
	if event.Table != "" && event.Table != domain.ConnectionsTable {
		return
	}

	h.mu.RLock()
	targets := make([]*hubSubscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.userID == "" || event.Touches(sub.userID) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	h.logger.Debug("dispatch change event",
		"type", event.Type,
		"targets", len(targets),
	)

	for _, sub := range targets {
		sub.deliver(ctx, event)
	}
}

// Subscribe implements ChangeFeed.
func (h *Hub) Subscribe(_ context.Context, userID string, handler EventHandler) (Subscription, error) {
	if userID == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "user id is required")
	}
	return h.add(userID, handler)
}

// SubscribeAll 订阅全部事件（不过滤用户），用于投影等后台组件
func (h *Hub) SubscribeAll(handler EventHandler) (Subscription, error) {
	return h.add("", handler)
}

func (h *Hub) add(userID string, handler EventHandler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &hubSubscription{
		hub:     h,
		id:      h.nextID,
		userID:  userID,
		handler: handler,
		dropped: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	return sub, nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Reset 断开所有按用户过滤的订阅
//
// 上游推送中断（例如消费者重平衡或重连）后，期间的事件可能丢失，
// 订阅者需要重新订阅并全量 reload。
func (h *Hub) Reset(cause error) {
	h.mu.Lock()
	var dropped []*hubSubscription
	for id, sub := range h.subs {
		if sub.userID == "" {
			continue
		}
		delete(h.subs, id)
		dropped = append(dropped, sub)
	}
	h.mu.Unlock()

	if len(dropped) > 0 {
		h.logger.Warn("change feed reset", "subscriptions", len(dropped), "cause", cause)
	}
	for _, sub := range dropped {
		sub.drop(cause)
	}
}

// Subscribers 当前订阅数
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭 Hub 并断开全部订阅
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*hubSubscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.drop(ErrHubClosed)
	}
}

// hubSubscription Hub 内的一个订阅
type hubSubscription struct {
	hub     *Hub
	id      uint64
	userID  string
	handler EventHandler

	mu      sync.Mutex
	done    bool
	err     error
	dropped chan struct{}
}

func (s *hubSubscription) deliver(ctx context.Context, event domain.ChangeEvent) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return
	}
	s.handler(ctx, event)
}

// Unsubscribe implements Subscription.
func (s *hubSubscription) Unsubscribe() {
	s.hub.remove(s.id)
	s.drop(nil)
}

// Dropped implements Subscription.
func (s *hubSubscription) Dropped() <-chan struct{} {
	return s.dropped
}

// Err implements Subscription.
func (s *hubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *hubSubscription) drop(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = cause
	close(s.dropped)
}
