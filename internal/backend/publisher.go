package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
	"github.com/Zereker/ideahub/pkg/mq"
)

// DefaultTopic 变更事件默认 topic
const DefaultTopic = "ideahub.connections"

// Publisher Repository 装饰器：每次成功的写操作后向消息队列发布 ChangeEvent
//
// 发布失败只记录日志，不影响写操作结果；订阅方依赖 reload 修复丢失的事件。
type Publisher struct {
	Repository
	queue  mq.MessageQueue
	topic  string
	logger *slog.Logger
}

// NewPublisher 创建发布装饰器
func NewPublisher(repo Repository, queue mq.MessageQueue, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		Repository: repo,
		queue:      queue,
		topic:      topic,
		logger:     log.Logger("feed-publisher"),
	}
}

// Insert implements Repository.
func (p *Publisher) Insert(ctx context.Context, requesterID, recipientID string) (domain.Connection, error) {
	c, err := p.Repository.Insert(ctx, requesterID, recipientID)
	if err != nil {
		return c, err
	}
	p.publish(domain.ChangeEvent{Type: domain.EventInsert, New: &c})
	return c, nil
}

// UpdateStatus implements Repository.
func (p *Publisher) UpdateStatus(ctx context.Context, id, actingUserID string, status domain.Status) (domain.Connection, error) {
	c, err := p.Repository.UpdateStatus(ctx, id, actingUserID, status)
	if err != nil {
		return c, err
	}
	old := domain.Connection{
		ID:          c.ID,
		RequesterID: c.RequesterID,
		RecipientID: c.RecipientID,
		Status:      domain.StatusPending,
		CreatedAt:   c.CreatedAt,
	}
	p.publish(domain.ChangeEvent{Type: domain.EventUpdate, Old: &old, New: &c})
	return c, nil
}

// Delete implements Repository.
func (p *Publisher) Delete(ctx context.Context, id, actingUserID string) (domain.Connection, error) {
	c, err := p.Repository.Delete(ctx, id, actingUserID)
	if err != nil {
		return c, err
	}
	p.publish(domain.ChangeEvent{Type: domain.EventDelete, Old: &c})
	return c, nil
}

func (p *Publisher) publish(event domain.ChangeEvent) {
	if p.queue == nil {
		return
	}

	event.Table = domain.ConnectionsTable
	event.CommitTimestamp = time.Now().UTC()
	record, _ := event.Record()

	message, err := EncodeEvent(event)
	if err != nil {
		p.logger.Error("failed to encode change event", "connection_id", record.ID, "error", err)
		return
	}

	if kp, ok := p.queue.(mq.KeyedQueue); ok {
		err = kp.PublishWithKey(p.topic, record.ID, message)
	} else {
		err = p.queue.Publish(p.topic, message)
	}
	if err != nil {
		p.logger.Warn("failed to publish change event",
			"type", event.Type,
			"connection_id", record.ID,
			"error", err,
		)
	}
}
