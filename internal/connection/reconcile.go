package connection

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// profileFetchLimit 补全资料时的最大并发
const profileFetchLimit = 8

// Reconciler 从后端全量重建 Store
type Reconciler struct {
	repo     backend.Repository
	profiles backend.ProfileSource
	store    *Store
	logger   *slog.Logger
	group    singleflight.Group
}

var _ Reloader = (*Reconciler)(nil)

// NewReconciler 创建 Reconciler
func NewReconciler(repo backend.Repository, profiles backend.ProfileSource, store *Store) *Reconciler {
	return &Reconciler{
		repo:     repo,
		profiles: profiles,
		store:    store,
		logger:   log.ForUser("reconciler", store.UserID()),
	}
}

// Reload 并行查询"我发起的"与"我收到的"两组连接，合并后全量替换 Store
//
// 并发调用合并为一次。单个资料获取失败时使用占位资料，不丢弃连接记录。
func (r *Reconciler) Reload(ctx context.Context) error {
	_, err, _ := r.group.Do("reload", func() (any, error) {
		return nil, r.reload(ctx)
	})
	return err
}

func (r *Reconciler) reload(ctx context.Context) error {
	userID := r.store.UserID()
	// 查询之后写入 Store 的记录不会被本次结果覆盖
	mark := r.store.Mark()

	var sent, received []domain.ConnectionView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sent, err = r.repo.ListAsRequester(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		received, err = r.repo.ListAsRecipient(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("reload failed", "error", err)
		return domain.Unavailable(err, "reload connections")
	}

	views := make([]domain.ConnectionView, 0, len(sent)+len(received))
	views = append(views, sent...)
	views = append(views, received...)
	r.fillProfiles(ctx, views)

	r.store.LoadSince(mark, views)
	r.logger.Debug("reloaded connections", "sent", len(sent), "received", len(received))
	return nil
}

// fillProfiles 为 join 未带回资料的记录补全资料
func (r *Reconciler) fillProfiles(ctx context.Context, views []domain.ConnectionView) {
	userID := r.store.UserID()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileFetchLimit)
	for i := range views {
		if !views[i].Counterparty.IsZero() {
			continue
		}
		other := views[i].Connection.Counterparty(userID)
		if r.profiles == nil {
			views[i].Counterparty = domain.PlaceholderProfile(other)
			continue
		}
		g.Go(func() error {
			p, err := r.profiles.GetProfile(gctx, other)
			if err != nil || p.IsZero() {
				r.logger.Warn("profile join failed, using placeholder", "profile_user_id", other, "error", err)
				p = domain.PlaceholderProfile(other)
			}
			views[i].Counterparty = p
			return nil
		})
	}
	_ = g.Wait()
}
