package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zereker/ideahub/internal/domain"
)

// Memory 进程内参考后端：与 Postgres 执行相同的服务端规则，单行操作原子
type Memory struct {
	mu          sync.RWMutex
	connections map[string]domain.Connection
	profiles    map[string]domain.Profile
	now         func() time.Time
}

var (
	_ Repository    = (*Memory)(nil)
	_ ProfileSource = (*Memory)(nil)
)

// NewMemory 创建内存后端
func NewMemory() *Memory {
	return &Memory{
		connections: make(map[string]domain.Connection),
		profiles:    make(map[string]domain.Profile),
		now:         time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutProfile 写入展示资料
func (m *Memory) PutProfile(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// GetProfile implements ProfileSource.
func (m *Memory) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return domain.Profile{}, domain.NewError(domain.KindNotFound, "profile "+userID+" not found")
	}
	return p, nil
}

// Get implements Repository.
func (m *Memory) Get(_ context.Context, id string) (domain.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.connections[id]
	if !ok {
		return domain.Connection{}, notFound(id)
	}
	return c, nil
}

// FindBetween implements Repository.
func (m *Memory) FindBetween(_ context.Context, a, b string, statuses ...domain.Status) ([]domain.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBetween(a, b, statuses...), nil
}

func (m *Memory) findBetween(a, b string, statuses ...domain.Status) []domain.Connection {
	key := domain.PairKey(a, b)
	var out []domain.Connection
	for _, c := range m.connections {
		if c.PairKey() != key {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, c.Status) {
			continue
		}
		out = append(out, c)
	}
	sortByUpdatedDesc(out)
	return out
}

// ListAsRequester implements Repository.
func (m *Memory) ListAsRequester(_ context.Context, userID string) ([]domain.ConnectionView, error) {
	return m.list(userID, func(c domain.Connection) bool { return c.RequesterID == userID }), nil
}

// ListAsRecipient implements Repository.
func (m *Memory) ListAsRecipient(_ context.Context, userID string) ([]domain.ConnectionView, error) {
	return m.list(userID, func(c domain.Connection) bool { return c.RecipientID == userID }), nil
}

func (m *Memory) list(userID string, match func(domain.Connection) bool) []domain.ConnectionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Connection
	for _, c := range m.connections {
		if match(c) {
			matched = append(matched, c)
		}
	}
	sortByUpdatedDesc(matched)

	views := make([]domain.ConnectionView, 0, len(matched))
	for _, c := range matched {
		other := c.Counterparty(userID)
		p, ok := m.profiles[other]
		if !ok {
			p = domain.PlaceholderProfile(other)
		}
		views = append(views, domain.ConnectionView{Connection: c, Counterparty: p})
	}
	return views
}

// Insert implements Repository.
func (m *Memory) Insert(_ context.Context, requesterID, recipientID string) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.findBetween(requesterID, recipientID, domain.StatusPending, domain.StatusAccepted)
	if err := checkInsert(requesterID, recipientID, active); err != nil {
		return domain.Connection{}, err
	}

	now := m.now().UTC()
	c := domain.Connection{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.connections[c.ID] = c
	return c, nil
}

// UpdateStatus implements Repository.
func (m *Memory) UpdateStatus(_ context.Context, id, actingUserID string, status domain.Status) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connections[id]
	if !ok {
		return domain.Connection{}, notFound(id)
	}
	if err := checkRespond(c, actingUserID, status); err != nil {
		return domain.Connection{}, err
	}

	c.Status = status
	c.UpdatedAt = m.advance(c.UpdatedAt)
	m.connections[id] = c
	return c, nil
}

// Delete implements Repository.
func (m *Memory) Delete(_ context.Context, id, actingUserID string) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connections[id]
	if !ok {
		return domain.Connection{}, notFound(id)
	}
	if err := checkCancel(c, actingUserID); err != nil {
		return domain.Connection{}, err
	}

	delete(m.connections, id)
	return c, nil
}

// advance updatedAt 在每次状态变更时严格递增
func (m *Memory) advance(prev time.Time) time.Time {
	now := m.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func containsStatus(statuses []domain.Status, s domain.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortByUpdatedDesc(cs []domain.Connection) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].UpdatedAt.Equal(cs[j].UpdatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].UpdatedAt.After(cs[j].UpdatedAt)
	})
}
