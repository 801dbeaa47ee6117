package connection

import (
	"github.com/Zereker/ideahub/internal/domain"
)

// Resolver 从 Store 解析两个用户之间的关系状态
type Resolver struct {
	store *Store
}

// NewResolver 创建 Resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveStatus 当前用户与 otherUserID 之间的状态、可操作的连接 id 与方向
//
// 通过无序用户对索引查找。同一对存在多条记录时（rejected 之后的新请求），
// pending/accepted 记录优先，否则取最新的一条。
func (r *Resolver) ResolveStatus(currentUserID, otherUserID string) domain.Resolution {
	if currentUserID == "" || otherUserID == "" || currentUserID == otherUserID {
		return domain.NoneResolution()
	}

	rows := r.store.Between(currentUserID, otherUserID)
	if len(rows) == 0 {
		return domain.NoneResolution()
	}

	chosen := rows[0]
	for _, c := range rows {
		if c.Status.Active() {
			chosen = c
			break
		}
	}

	return domain.Resolution{
		Status:       chosen.Status,
		ConnectionID: chosen.ID,
		Direction:    chosen.DirectionFor(currentUserID),
	}
}
