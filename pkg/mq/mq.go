package mq

// MessageQueue 消息队列接口
type MessageQueue interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string, handler func(message []byte) error) error
	Close() error
}

// KeyedQueue 支持按 key 发布的队列，同一 key 的消息保持顺序
type KeyedQueue interface {
	MessageQueue
	PublishWithKey(topic, key string, message []byte) error
}
