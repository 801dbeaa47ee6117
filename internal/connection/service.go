package connection

import (
	"context"
	"log/slog"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// Reloader 全量 reload
type Reloader interface {
	Reload(ctx context.Context) error
}

// Service 发起写操作并乐观更新 Store
//
// 所有操作返回 (结果, error)，error 总是 *domain.Error；失败时 Store 保持不变。
// 客户端预检只用于快速失败，最终由后端的服务端规则裁决。
type Service struct {
	repo     backend.Repository
	profiles backend.ProfileSource
	store    *Store
	logger   *slog.Logger

	reloader            Reloader
	reloadAfterMutation bool
}

// ServiceOption Service 选项
type ServiceOption func(*Service)

// WithReloadAfterMutation 写操作完成后触发一次全量 reload
func WithReloadAfterMutation(r Reloader) ServiceOption {
	return func(s *Service) {
		s.reloader = r
		s.reloadAfterMutation = r != nil
	}
}

// NewService 创建 Service
func NewService(repo backend.Repository, profiles backend.ProfileSource, store *Store, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		profiles: profiles,
		store:    store,
		logger:   log.ForUser("connection-service", store.UserID()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendRequest fromUserID 向 toUserID 发起连接请求
func (s *Service) SendRequest(ctx context.Context, fromUserID, toUserID string) (domain.ConnectionView, error) {
	if fromUserID == "" || toUserID == "" {
		return domain.ConnectionView{}, domain.NewError(domain.KindInvalidInput, "requester and recipient are required")
	}
	if fromUserID == toUserID {
		return domain.ConnectionView{}, domain.NewError(domain.KindInvalidInput, "cannot connect to yourself")
	}

	// rejected 不阻止新的请求
	active, err := s.repo.FindBetween(ctx, fromUserID, toUserID, domain.StatusPending, domain.StatusAccepted)
	if err != nil {
		return domain.ConnectionView{}, domain.Unavailable(err, "check existing connection")
	}
	if err := backend.DuplicateError(active); err != nil {
		return domain.ConnectionView{}, err
	}

	c, err := s.repo.Insert(ctx, fromUserID, toUserID)
	if err != nil {
		return domain.ConnectionView{}, domain.Unavailable(err, "insert connection")
	}

	view := domain.ConnectionView{Connection: c, Counterparty: s.profile(ctx, toUserID)}
	s.store.Apply(view.Connection, view.Counterparty)
	s.logger.Info("connection request sent", "connection_id", c.ID, "recipient_id", toUserID)

	s.reload(ctx)
	return view, nil
}

// Respond recipient 接受或拒绝 pending 请求
func (s *Service) Respond(ctx context.Context, connectionID string, action domain.Action, actingUserID string) (domain.Connection, error) {
	status, ok := action.Status()
	if !ok {
		return domain.Connection{}, domain.NewError(domain.KindInvalidInput, "action must be accept or reject")
	}
	if connectionID == "" || actingUserID == "" {
		return domain.Connection{}, domain.NewError(domain.KindInvalidInput, "connection id and acting user are required")
	}

	// 角色在记录生命周期内不变，本地可直接判定；状态以服务端为准
	if v, ok := s.store.Get(connectionID); ok && v.Connection.RecipientID != actingUserID {
		return domain.Connection{}, domain.NewError(domain.KindNotAuthorized, "only the recipient may respond")
	}

	c, err := s.repo.UpdateStatus(ctx, connectionID, actingUserID, status)
	if err != nil {
		return domain.Connection{}, domain.Unavailable(err, "update connection status")
	}

	s.store.Apply(c, domain.Profile{})
	s.logger.Info("connection request answered", "connection_id", c.ID, "status", c.Status)

	s.reload(ctx)
	return c, nil
}

// Cancel requester 撤回 pending 请求（删除记录，区别于 reject）
func (s *Service) Cancel(ctx context.Context, connectionID, actingUserID string) (domain.Connection, error) {
	if connectionID == "" || actingUserID == "" {
		return domain.Connection{}, domain.NewError(domain.KindInvalidInput, "connection id and acting user are required")
	}

	if v, ok := s.store.Get(connectionID); ok && v.Connection.RequesterID != actingUserID {
		return domain.Connection{}, domain.NewError(domain.KindNotAuthorized, "only the requester may cancel")
	}

	c, err := s.repo.Delete(ctx, connectionID, actingUserID)
	if err != nil {
		return domain.Connection{}, domain.Unavailable(err, "delete connection")
	}

	s.store.Remove(c.ID)
	s.logger.Info("connection request canceled", "connection_id", c.ID)

	s.reload(ctx)
	return c, nil
}

// profile 获取展示资料，失败时使用占位资料
func (s *Service) profile(ctx context.Context, userID string) domain.Profile {
	if s.profiles == nil {
		return domain.PlaceholderProfile(userID)
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil || p.IsZero() {
		s.logger.Warn("profile lookup failed, using placeholder", "profile_user_id", userID, "error", err)
		return domain.PlaceholderProfile(userID)
	}
	return p
}

func (s *Service) reload(ctx context.Context) {
	if !s.reloadAfterMutation {
		return
	}
	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Warn("reload after mutation failed", "error", err)
	}
}
