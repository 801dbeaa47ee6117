package connection

import (
	"sort"
	"sync"

	"github.com/Zereker/ideahub/internal/domain"
)

// Store 当前用户连接记录的缓存
//
// 单一数据源：byID 保存记录，byPair 为无序用户对的二级索引。
// Store 本身不返回错误，它只是一个 last-writer-wins 的缓存。
type Store struct {
	userID string

	mu         sync.RWMutex
	byID       map[string]domain.ConnectionView
	byPair     map[string]map[string]struct{}
	tombstones map[string]struct{}

	// gen 每次 Apply 写入时递增，applied 记录各 id 最近一次写入时的 gen
	gen     uint64
	applied map[string]uint64
}

// NewStore 创建 userID 的 Store
func NewStore(userID string) *Store {
	return &Store{
		userID:     userID,
		byID:       make(map[string]domain.ConnectionView),
		byPair:     make(map[string]map[string]struct{}),
		tombstones: make(map[string]struct{}),
		applied:    make(map[string]uint64),
	}
}

// UserID Store 所属用户
func (s *Store) UserID() string {
	return s.userID
}

// Mark 返回当前写入代数，reload 在发起查询前调用，再将其传给 LoadSince
func (s *Store) Mark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Load 以当前代数全量替换，等价于 LoadSince(Mark(), views)
func (s *Store) Load(views []domain.ConnectionView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(s.gen, views)
}

// LoadSince 全量替换，mark 为查询发起前的 Mark()
//
// 与 Load 期间已应用的更新（推送或乐观更新）竞争时，同一 id 保留较新的一方；
// mark 之后写入但不在查询结果中的记录保留；已删除的 id 不会被旧的查询结果复活。
func (s *Store) LoadSince(mark uint64, views []domain.ConnectionView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(mark, views)
}

func (s *Store) load(mark uint64, views []domain.ConnectionView) {
	prev := s.byID
	s.byID = make(map[string]domain.ConnectionView, len(views))
	s.byPair = make(map[string]map[string]struct{})

	for _, v := range views {
		if !v.Connection.Touches(s.userID) {
			continue
		}
		if _, deleted := s.tombstones[v.Connection.ID]; deleted {
			continue
		}
		if old, ok := prev[v.Connection.ID]; ok && !v.Connection.Supersedes(old.Connection) {
			v.Connection = old.Connection
		}
		s.put(s.withProfile(v, prev))
	}

	// 查询读取之后才到达的记录
	for id, old := range prev {
		if _, ok := s.byID[id]; ok {
			continue
		}
		if s.applied[id] > mark {
			s.put(old)
		}
	}

	// 之后的 mark 不小于当前 gen，早于 mark 的写入记录不再需要
	for id, g := range s.applied {
		if g <= mark {
			delete(s.applied, id)
		}
	}
}

// Apply 按 id 插入或更新记录，返回 Store 是否发生变化
//
// profile 为空时保留已有的展示资料。
func (s *Store) Apply(c domain.Connection, profile domain.Profile) bool {
	if c.ID == "" || !c.Touches(s.userID) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, deleted := s.tombstones[c.ID]; deleted {
		return false
	}

	old, exists := s.byID[c.ID]
	if exists {
		if !c.Supersedes(old.Connection) {
			return false
		}
		if profile.IsZero() {
			profile = old.Counterparty
		}
	}

	changed := !exists || old.Connection.Status != c.Status || !old.Connection.UpdatedAt.Equal(c.UpdatedAt)
	if !profile.IsZero() && profile != old.Counterparty {
		changed = true
	}

	s.put(s.withProfile(domain.ConnectionView{Connection: c, Counterparty: profile}, s.byID))
	s.gen++
	s.applied[c.ID] = s.gen
	return changed
}

// Remove 按 id 删除记录并记录墓碑，返回被删除的记录
func (s *Store) Remove(id string) (domain.ConnectionView, bool) {
	if id == "" {
		return domain.ConnectionView{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tombstones[id] = struct{}{}
	delete(s.applied, id)

	v, ok := s.byID[id]
	if !ok {
		return domain.ConnectionView{}, false
	}
	delete(s.byID, id)

	key := v.Connection.PairKey()
	delete(s.byPair[key], id)
	if len(s.byPair[key]) == 0 {
		delete(s.byPair, key)
	}
	return v, true
}

// Get 按 id 查询
func (s *Store) Get(id string) (domain.ConnectionView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	return v, ok
}

// Between 用户对之间的全部记录，按 (updatedAt, status rank) 从新到旧
func (s *Store) Between(a, b string) []domain.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPair[domain.PairKey(a, b)]
	out := make([]domain.Connection, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id].Connection)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Supersedes(out[j]) != out[j].Supersedes(out[i]) {
			return out[i].Supersedes(out[j])
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len 记录数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ============================================================================
// 派生分区
// ============================================================================

// Connections status = accepted，任意方向
func (s *Store) Connections() []domain.ConnectionView {
	return s.filter(func(c domain.Connection) bool {
		return c.Status == domain.StatusAccepted
	})
}

// IncomingPending status = pending 且当前用户为 recipient
func (s *Store) IncomingPending() []domain.ConnectionView {
	return s.filter(func(c domain.Connection) bool {
		return c.Status == domain.StatusPending && c.RecipientID == s.userID
	})
}

// OutgoingPending status = pending 且当前用户为 requester
func (s *Store) OutgoingPending() []domain.ConnectionView {
	return s.filter(func(c domain.Connection) bool {
		return c.Status == domain.StatusPending && c.RequesterID == s.userID
	})
}

// Snapshot 三个分区的一致视图
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		UserID:          s.userID,
		Connections:     []domain.ConnectionView{},
		IncomingPending: []domain.ConnectionView{},
		OutgoingPending: []domain.ConnectionView{},
	}
	for _, v := range s.byID {
		switch c := v.Connection; {
		case c.Status == domain.StatusAccepted:
			snap.Connections = append(snap.Connections, v)
		case c.Status == domain.StatusPending && c.RecipientID == s.userID:
			snap.IncomingPending = append(snap.IncomingPending, v)
		case c.Status == domain.StatusPending && c.RequesterID == s.userID:
			snap.OutgoingPending = append(snap.OutgoingPending, v)
		}
	}
	sortViews(snap.Connections)
	sortViews(snap.IncomingPending)
	sortViews(snap.OutgoingPending)
	return snap
}

func (s *Store) filter(match func(domain.Connection) bool) []domain.ConnectionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConnectionView, 0)
	for _, v := range s.byID {
		if match(v.Connection) {
			out = append(out, v)
		}
	}
	sortViews(out)
	return out
}

// put 写入记录并维护索引，调用方持有写锁
func (s *Store) put(v domain.ConnectionView) {
	s.byID[v.Connection.ID] = v
	key := v.Connection.PairKey()
	if s.byPair[key] == nil {
		s.byPair[key] = make(map[string]struct{})
	}
	s.byPair[key][v.Connection.ID] = struct{}{}
}

// withProfile 资料为空时沿用旧记录的资料，仍为空则使用占位资料
func (s *Store) withProfile(v domain.ConnectionView, prev map[string]domain.ConnectionView) domain.ConnectionView {
	if !v.Counterparty.IsZero() {
		return v
	}
	if old, ok := prev[v.Connection.ID]; ok && !old.Counterparty.IsZero() {
		v.Counterparty = old.Counterparty
		return v
	}
	v.Counterparty = domain.PlaceholderProfile(v.Connection.Counterparty(s.userID))
	return v
}

func sortViews(views []domain.ConnectionView) {
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Connection, views[j].Connection
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.ID < b.ID
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}
