package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// BackoffConfig 重订阅退避参数
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	// 不设总时长上限，直到会话卸载
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Listener 维护当前用户唯一的变更推送订阅，并将事件应用到 Store
//
// 推送只是响应性优化：订阅断开后按指数退避重订阅，成功后全量 reload
// 以补齐断开期间丢失的事件。卸载后迟到的事件直接丢弃。
type Listener struct {
	userID   string
	store    *Store
	feed     backend.ChangeFeed
	profiles backend.ProfileSource
	notifier Notifier
	reloader Reloader
	backoff  BackoffConfig
	logger   *slog.Logger

	live         atomic.Bool
	reconnecting atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener 创建 Listener
func NewListener(store *Store, feed backend.ChangeFeed, profiles backend.ProfileSource, notifier Notifier, reloader Reloader, cfg BackoffConfig) *Listener {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	return &Listener{
		userID:   store.UserID(),
		store:    store,
		feed:     feed,
		profiles: profiles,
		notifier: notifier,
		reloader: reloader,
		backoff:  cfg,
		logger:   log.ForUser("change-listener", store.UserID()),
	}
}

// Start 订阅变更推送
//
// 首次订阅失败时返回该错误，并在后台继续按退避重试。
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.live.Store(true)

	sub, err := l.feed.Subscribe(ctx, l.userID, l.Handle)
	if err != nil {
		l.logger.Error("subscribe failed, running in reload-only mode until resubscribed", "error", err)
		l.reconnecting.Store(true)
	}

	l.wg.Add(1)
	go l.run(ctx, sub)
	return err
}

// Stop 取消订阅；之后到达的事件不会再修改 Store
func (l *Listener) Stop() {
	l.live.Store(false)

	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// Live 是否处于挂载状态
func (l *Listener) Live() bool {
	return l.live.Load()
}

// Reconnecting 订阅是否处于断开重连中
func (l *Listener) Reconnecting() bool {
	return l.reconnecting.Load()
}

// run 监视订阅，断开后重订阅
func (l *Listener) run(ctx context.Context, sub backend.Subscription) {
	defer l.wg.Done()

	for {
		if sub == nil {
			var err error
			if sub, err = l.resubscribe(ctx); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case <-sub.Dropped():
			if sub.Err() == nil || ctx.Err() != nil {
				return
			}
			l.logger.Warn("subscription dropped", "error", sub.Err())
			l.reconnecting.Store(true)
			sub = nil
		}
	}
}

// resubscribe 指数退避直到订阅成功或 ctx 结束；成功后 reload
func (l *Listener) resubscribe(ctx context.Context) (backend.Subscription, error) {
	var sub backend.Subscription
	operation := func() error {
		var err error
		sub, err = l.feed.Subscribe(ctx, l.userID, l.Handle)
		if errors.Is(err, backend.ErrHubClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		l.logger.Warn("resubscribe failed", "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(l.backoff.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		sub.Unsubscribe()
		return nil, ctx.Err()
	}

	l.reconnecting.Store(false)
	l.logger.Info("resubscribed to change feed")

	if l.reloader != nil {
		if err := l.reloader.Reload(ctx); err != nil {
			l.logger.Warn("reload after resubscribe failed", "error", err)
		}
	}
	return sub, nil
}

// Handle 处理一条变更事件
func (l *Listener) Handle(ctx context.Context, event domain.ChangeEvent) {
	if !l.live.Load() {
		return
	}

	record, ok := event.Record()
	if !ok || !record.Touches(l.userID) {
		return
	}

	l.logger.Debug("apply change event",
		"type", event.Type,
		"connection_id", record.ID,
		"status", record.Status,
	)

	switch event.Type {
	case domain.EventInsert:
		profile := l.counterpartyProfile(ctx, record)
		if !l.live.Load() {
			return
		}
		changed := l.store.Apply(record, profile)
		if changed && record.Status == domain.StatusPending && record.RecipientID == l.userID {
			l.notifier.Notify(ctx, requestReceived(l.userID, record, l.storedProfile(record.ID, profile)))
		}

	case domain.EventUpdate:
		profile := l.counterpartyProfile(ctx, record)
		if !l.live.Load() {
			return
		}
		changed := l.store.Apply(record, profile)
		// 只通知非操作方：accept 由 recipient 发起，因此通知 requester
		if changed && record.Status == domain.StatusAccepted && record.RequesterID == l.userID {
			l.notifier.Notify(ctx, requestAccepted(l.userID, record, l.storedProfile(record.ID, profile)))
		}

	case domain.EventDelete:
		l.store.Remove(record.ID)
	}
}

func (l *Listener) storedProfile(id string, fallback domain.Profile) domain.Profile {
	if v, ok := l.store.Get(id); ok {
		return v.Counterparty
	}
	return fallback
}

// counterpartyProfile Store 中已有资料时不再获取
func (l *Listener) counterpartyProfile(ctx context.Context, c domain.Connection) domain.Profile {
	if v, ok := l.store.Get(c.ID); ok && v.Counterparty.FullName != domain.UnknownUserName {
		return domain.Profile{}
	}

	other := c.Counterparty(l.userID)
	if l.profiles == nil {
		return domain.PlaceholderProfile(other)
	}
	p, err := l.profiles.GetProfile(ctx, other)
	if err != nil || p.IsZero() {
		l.logger.Warn("profile lookup failed, using placeholder", "profile_user_id", other, "error", err)
		return domain.PlaceholderProfile(other)
	}
	return p
}
