package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// Deps 会话依赖的后端组件
type Deps struct {
	Repo     backend.Repository
	Profiles backend.ProfileSource
	Feed     backend.ChangeFeed
	Notifier Notifier // 额外的提示接收方（例如日志），可为空
}

// SessionConfig 会话配置
type SessionConfig struct {
	ReloadInterval      time.Duration // 周期性 reload，0 表示关闭
	ReloadAfterMutation bool          // 写操作后全量 reload
	InboxSize           int
	Backoff             BackoffConfig
}

// Session 一个已挂载的用户会话：Store + Resolver + Service + Listener + Reconciler
type Session struct {
	userID     string
	store      *Store
	resolver   *Resolver
	service    *Service
	listener   *Listener
	reconciler *Reconciler
	inbox      *Inbox
	notifier   Notifier
	logger     *slog.Logger

	lastUsed atomic.Int64
	mounted  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Mount 为 userID 构建并启动会话
//
// 初次 reload 失败不阻止挂载：会话以空 Store 启动，等待推送、周期 reload 或手动 reload。
func Mount(ctx context.Context, userID string, deps Deps, cfg SessionConfig) (*Session, error) {
	if userID == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "user id is required")
	}
	if deps.Repo == nil || deps.Feed == nil {
		return nil, fmt.Errorf("repository and change feed are required")
	}

	store := NewStore(userID)
	inbox := NewInbox(cfg.InboxSize)
	notifier := MultiNotifier{inbox, deps.Notifier}
	reconciler := NewReconciler(deps.Repo, deps.Profiles, store)

	var opts []ServiceOption
	if cfg.ReloadAfterMutation {
		opts = append(opts, WithReloadAfterMutation(reconciler))
	}

	s := &Session{
		userID:     userID,
		store:      store,
		resolver:   NewResolver(store),
		service:    NewService(deps.Repo, deps.Profiles, store, opts...),
		listener:   NewListener(store, deps.Feed, deps.Profiles, notifier, reconciler, cfg.Backoff),
		reconciler: reconciler,
		inbox:      inbox,
		notifier:   notifier,
		logger:     log.ForUser("session", userID),
	}
	s.touch()

	// 后台组件的生命周期跟随会话，而不是发起挂载的请求
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mounted.Store(true)

	// 先订阅再 reload：reload 之后到达的事件不会丢失
	if err := s.listener.Start(runCtx); err != nil {
		s.logger.Warn("change feed unavailable at mount", "error", err)
	}
	if err := reconciler.Reload(ctx); err != nil {
		s.logger.Warn("initial reload failed, starting empty", "error", err)
	}

	if cfg.ReloadInterval > 0 {
		s.wg.Add(1)
		go s.reloadLoop(runCtx, cfg.ReloadInterval)
	}

	s.logger.Info("session mounted", "connections", store.Len())
	return s, nil
}

// Unmount 停止周期 reload 并取消订阅；可重复调用
func (s *Session) Unmount() {
	if !s.mounted.CompareAndSwap(true, false) {
		return
	}
	s.listener.Stop()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("session unmounted")
}

func (s *Session) reloadLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reconciler.Reload(ctx); err != nil {
				s.logger.Warn("periodic reload failed", "error", err)
			}
		}
	}
}

// ============================================================================
// 用户操作（当前用户即操作者）
// ============================================================================

// SendRequest 向 toUserID 发起请求
func (s *Session) SendRequest(ctx context.Context, toUserID string) (domain.ConnectionView, error) {
	s.touch()
	view, err := s.service.SendRequest(ctx, s.userID, toUserID)
	if err != nil {
		s.notifier.Notify(ctx, operationFailed(s.userID, "", err))
		return view, err
	}
	s.notifier.Notify(ctx, newNotification(s.userID, domain.NotifyRequestSent, domain.LevelSuccess,
		view.Connection.ID, &view.Counterparty,
		fmt.Sprintf("Connection request sent to %s", displayName(&view.Counterparty, toUserID))))
	return view, nil
}

// Respond 接受或拒绝收到的请求
func (s *Session) Respond(ctx context.Context, connectionID string, action domain.Action) (domain.Connection, error) {
	s.touch()
	c, err := s.service.Respond(ctx, connectionID, action, s.userID)
	if err != nil {
		s.notifier.Notify(ctx, operationFailed(s.userID, connectionID, err))
		return c, err
	}

	profile := s.profileOf(c.ID)
	kind, level, msg := domain.NotifyRequestAccepted, domain.LevelSuccess, "You are now connected with %s"
	if c.Status == domain.StatusRejected {
		kind, level, msg = domain.NotifyRequestRejected, domain.LevelInfo, "Declined the request from %s"
	}
	s.notifier.Notify(ctx, newNotification(s.userID, kind, level, c.ID, profile,
		fmt.Sprintf(msg, displayName(profile, c.RequesterID))))
	return c, nil
}

// Cancel 撤回已发出的请求
func (s *Session) Cancel(ctx context.Context, connectionID string) (domain.Connection, error) {
	s.touch()
	profile := s.profileOf(connectionID)
	c, err := s.service.Cancel(ctx, connectionID, s.userID)
	if err != nil {
		s.notifier.Notify(ctx, operationFailed(s.userID, connectionID, err))
		return c, err
	}
	s.notifier.Notify(ctx, newNotification(s.userID, domain.NotifyRequestCanceled, domain.LevelInfo, c.ID, profile,
		fmt.Sprintf("Canceled the request to %s", displayName(profile, c.RecipientID))))
	return c, nil
}

// Reload 手动全量 reload
func (s *Session) Reload(ctx context.Context) error {
	s.touch()
	if err := s.reconciler.Reload(ctx); err != nil {
		s.notifier.Notify(ctx, operationFailed(s.userID, "", err))
		return err
	}
	return nil
}

// ============================================================================
// 读取
// ============================================================================

// Status 与 otherUserID 的关系状态
func (s *Session) Status(otherUserID string) domain.Resolution {
	s.touch()
	return s.resolver.ResolveStatus(s.userID, otherUserID)
}

// Snapshot 分区视图
func (s *Session) Snapshot() domain.Snapshot {
	s.touch()
	return s.store.Snapshot()
}

// Notifications 取出并清空提示
func (s *Session) Notifications() []domain.Notification {
	s.touch()
	return s.inbox.Drain()
}

// UserID 会话用户
func (s *Session) UserID() string {
	return s.userID
}

// Store 会话的 Store
func (s *Session) Store() *Store {
	return s.store
}

// Reconnecting 推送订阅是否在重连中
func (s *Session) Reconnecting() bool {
	return s.listener.Reconnecting()
}

// Mounted 是否仍处于挂载状态
func (s *Session) Mounted() bool {
	return s.mounted.Load()
}

// LastUsed 最近一次使用时间
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) profileOf(connectionID string) *domain.Profile {
	if v, ok := s.store.Get(connectionID); ok {
		p := v.Counterparty
		return &p
	}
	return nil
}
