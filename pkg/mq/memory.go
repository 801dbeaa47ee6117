package mq

import (
	"errors"
	"sync"
)

// ErrQueueClosed 队列已关闭
var ErrQueueClosed = errors.New("queue closed")

// InMemoryQueue 内存消息队列（用于测试和单进程部署）
type InMemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte) error
	messages map[string][][]byte
	closed   bool
}

// 确保 InMemoryQueue 实现 KeyedQueue 接口
var _ KeyedQueue = (*InMemoryQueue)(nil)

// NewInMemoryQueue 创建内存消息队列
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func([]byte) error),
		messages: make(map[string][][]byte),
	}
}

// Publish 发布消息（同步投递给所有 handler）
// handler 返回的错误不会中断其余 handler 的投递，最后一个错误会被返回
func (q *InMemoryQueue) Publish(topic string, message []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.messages[topic] = append(q.messages[topic], message)
	handlers := append([]func([]byte) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	var lastErr error
	for _, handler := range handlers {
		if err := handler(message); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PublishWithKey 单进程内投递本身有序，key 被忽略
func (q *InMemoryQueue) PublishWithKey(topic, _ string, message []byte) error {
	return q.Publish(topic, message)
}

// Subscribe 订阅 topic
func (q *InMemoryQueue) Subscribe(topic string, handler func([]byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close 关闭队列，之后的 Publish/Subscribe 都会失败
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.handlers = make(map[string][]func([]byte) error)
	return nil
}

// GetMessages 获取指定 topic 的所有消息（用于测试）
func (q *InMemoryQueue) GetMessages(topic string) [][]byte {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return append([][]byte(nil), q.messages[topic]...)
}
