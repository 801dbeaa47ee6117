package connection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zereker/ideahub/internal/domain"
)

// 两个独立 Store 以任意顺序处理同一组事件后，对同一用户对的解析结果一致
func TestConvergenceRegardlessOfDeliveryOrder(t *testing.T) {
	pending := conn("c1", "alice", "bob", domain.StatusPending, 0)
	accepted := conn("c1", "alice", "bob", domain.StatusAccepted, 1)
	rejected := conn("c1", "alice", "bob", domain.StatusRejected, 1)
	retry := conn("c2", "alice", "bob", domain.StatusPending, 2)
	canceled := conn("c3", "bob", "alice", domain.StatusPending, 0)

	scenarios := []struct {
		name   string
		events []domain.ChangeEvent
		want   domain.Status
		wantID string
	}{
		{
			name: "request then accept",
			events: []domain.ChangeEvent{
				{Type: domain.EventInsert, New: &pending},
				{Type: domain.EventUpdate, New: &accepted},
			},
			want:   domain.StatusAccepted,
			wantID: "c1",
		},
		{
			name: "reject then new request",
			events: []domain.ChangeEvent{
				{Type: domain.EventInsert, New: &pending},
				{Type: domain.EventUpdate, New: &rejected},
				{Type: domain.EventInsert, New: &retry},
			},
			want:   domain.StatusPending,
			wantID: "c2",
		},
		{
			name: "request then cancel",
			events: []domain.ChangeEvent{
				{Type: domain.EventInsert, New: &canceled},
				{Type: domain.EventDelete, Old: &canceled},
			},
			want: domain.StatusNone,
		},
	}

	ctx := context.Background()
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			for i, order := range permutations(sc.events) {
				h := newHarness(t)
				aliceListener, aliceStore := newTestListener(h, "alice", nil)
				bobListener, bobStore := newTestListener(h, "bob", nil)
				aliceListener.live.Store(true)
				bobListener.live.Store(true)

				for _, e := range order {
					aliceListener.Handle(ctx, e)
				}
				// bob 收到相反的顺序
				for j := len(order) - 1; j >= 0; j-- {
					bobListener.Handle(ctx, order[j])
				}

				a := NewResolver(aliceStore).ResolveStatus("alice", "bob")
				b := NewResolver(bobStore).ResolveStatus("bob", "alice")

				msg := fmt.Sprintf("permutation %d", i)
				assert.Equal(t, sc.want, a.Status, msg)
				assert.Equal(t, a.Status, b.Status, msg)
				assert.Equal(t, a.ConnectionID, b.ConnectionID, msg)
				assert.Equal(t, sc.wantID, a.ConnectionID, msg)
			}
		})
	}
}
