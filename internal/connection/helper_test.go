package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/mq"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func conn(id, requester, recipient string, status domain.Status, at time.Duration) domain.Connection {
	return domain.Connection{
		ID:          id,
		RequesterID: requester,
		RecipientID: recipient,
		Status:      status,
		CreatedAt:   t0,
		UpdatedAt:   t0.Add(at),
	}
}

// harness Memory 后端 + 发布装饰器 + 内存队列 + Hub，投递是同步的
type harness struct {
	mem  *backend.Memory
	hub  *backend.Hub
	repo backend.Repository
	deps Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mem := backend.NewMemory()
	mem.PutProfile(domain.Profile{UserID: "alice", FullName: "Alice Liddell", Title: "Founder"})
	mem.PutProfile(domain.Profile{UserID: "bob", FullName: "Bob Builder", Title: "Engineer"})

	queue := mq.NewInMemoryQueue()
	hub := backend.NewHub()
	require.NoError(t, queue.Subscribe(backend.DefaultTopic, hub.Handle))
	t.Cleanup(func() {
		hub.Close()
		_ = queue.Close()
	})

	repo := backend.NewPublisher(mem, queue, backend.DefaultTopic)
	return &harness{
		mem:  mem,
		hub:  hub,
		repo: repo,
		deps: Deps{Repo: repo, Profiles: mem, Feed: hub},
	}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Backoff: BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond},
	}
}

func (h *harness) mount(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := Mount(context.Background(), userID, h.deps, testSessionConfig())
	require.NoError(t, err)
	t.Cleanup(s.Unmount)
	return s
}

// failingRepo 按操作名注入错误
type failingRepo struct {
	backend.Repository
	fail map[string]error
}

func (f *failingRepo) err(op string) error {
	return f.fail[op]
}

func (f *failingRepo) FindBetween(ctx context.Context, a, b string, statuses ...domain.Status) ([]domain.Connection, error) {
	if err := f.err("find"); err != nil {
		return nil, err
	}
	return f.Repository.FindBetween(ctx, a, b, statuses...)
}

func (f *failingRepo) Insert(ctx context.Context, requesterID, recipientID string) (domain.Connection, error) {
	if err := f.err("insert"); err != nil {
		return domain.Connection{}, err
	}
	return f.Repository.Insert(ctx, requesterID, recipientID)
}

func (f *failingRepo) UpdateStatus(ctx context.Context, id, actingUserID string, status domain.Status) (domain.Connection, error) {
	if err := f.err("update"); err != nil {
		return domain.Connection{}, err
	}
	return f.Repository.UpdateStatus(ctx, id, actingUserID, status)
}

func (f *failingRepo) ListAsRequester(ctx context.Context, userID string) ([]domain.ConnectionView, error) {
	if err := f.err("list"); err != nil {
		return nil, err
	}
	return f.Repository.ListAsRequester(ctx, userID)
}

func (f *failingRepo) ListAsRecipient(ctx context.Context, userID string) ([]domain.ConnectionView, error) {
	if err := f.err("list"); err != nil {
		return nil, err
	}
	return f.Repository.ListAsRecipient(ctx, userID)
}

// collector 记录提示
type collector struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (c *collector) Notify(_ context.Context, n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
}

func (c *collector) kinds() []domain.NotificationKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n.Kind)
	}
	return out
}

// permutations 返回 events 的全部排列
func permutations(events []domain.ChangeEvent) [][]domain.ChangeEvent {
	if len(events) <= 1 {
		return [][]domain.ChangeEvent{append([]domain.ChangeEvent(nil), events...)}
	}
	var out [][]domain.ChangeEvent
	for i := range events {
		rest := make([]domain.ChangeEvent, 0, len(events)-1)
		rest = append(rest, events[:i]...)
		rest = append(rest, events[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]domain.ChangeEvent{events[i]}, p...))
		}
	}
	return out
}
