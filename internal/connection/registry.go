package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/pkg/log"
)

// ErrRegistryClosed Registry 已关闭
var ErrRegistryClosed = errors.New("session registry closed")

// RegistryConfig 会话注册表配置
type RegistryConfig struct {
	Session     SessionConfig
	IdleTimeout time.Duration // 超过该时长未使用的会话会被卸载，0 表示不卸载
}

// Registry 服务端的用户会话表：首次使用时挂载，空闲超时后卸载
type Registry struct {
	deps   Deps
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry 创建 Registry
func NewRegistry(deps Deps, cfg RegistryConfig) *Registry {
	return &Registry{
		deps:     deps,
		cfg:      cfg,
		logger:   log.Logger("session-registry"),
		sessions: make(map[string]*Session),
	}
}

// Get 返回 userID 的会话，不存在时挂载
func (r *Registry) Get(ctx context.Context, userID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	// 持锁 touch，Sweep 不会卸载即将返回的会话
	if s, ok := r.sessions[userID]; ok {
		s.touch()
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// 挂载包含后端 I/O，不持锁进行
	mounted, err := Mount(ctx, userID, r.deps, r.cfg.Session)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		mounted.Unmount()
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.sessions[userID]; ok {
		existing.touch()
		r.mu.Unlock()
		mounted.Unmount()
		return existing, nil
	}
	r.sessions[userID] = mounted
	r.mu.Unlock()

	return mounted, nil
}

// Lookup 返回已挂载的会话，不触发挂载
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Unmount 卸载 userID 的会话
func (r *Registry) Unmount(userID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		s.Unmount()
	}
	return ok
}

// Sweep 卸载在 now 之前已空闲超过 IdleTimeout 的会话，返回卸载数量
func (r *Registry) Sweep(now time.Time) int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastUsed()) >= r.cfg.IdleTimeout {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Unmount()
	}
	if len(idle) > 0 {
		r.logger.Info("unmounted idle sessions", "count", len(idle))
	}
	return len(idle)
}

// Run 周期性清理空闲会话，直到 ctx 结束
func (r *Registry) Run(ctx context.Context) error {
	if r.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := r.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Len 已挂载会话数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close 卸载全部会话，之后 Get 返回 ErrRegistryClosed
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Unmount()
	}
}
