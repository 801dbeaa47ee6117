package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/pkg/log"
	"github.com/Zereker/ideahub/pkg/mq"
)

// Consumer 变更流消费者
//
// 从 Kafka 读取连接变更事件并投递给 Hub；消费异常时 Reset Hub，
// 让所有会话重新订阅并全量 reload。Projector 通过 firehose 订阅全部事件。
type Consumer struct {
	logger     *slog.Logger
	hub        *backend.Hub
	consumers  []*mq.KafkaConsumer
	projectors []backend.EventHandler
	subs       []backend.Subscription
}

// Config 消费者配置
type Config struct {
	Kafka mq.KafkaConfig
	Topic string // 未配置 consumers 时默认订阅的 topic
}

// Option 消费者选项
type Option func(*Consumer)

// WithProjector 注册一个接收全部变更事件的投影（如图谱）
func WithProjector(handler backend.EventHandler) Option {
	return func(c *Consumer) {
		if handler != nil {
			c.projectors = append(c.projectors, handler)
		}
	}
}

// NewConsumer 创建消费者
func NewConsumer(hub *backend.Hub, cfg Config, opts ...Option) (*Consumer, error) {
	c := &Consumer{
		logger: log.Logger("consumer"),
		hub:    hub,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !cfg.Kafka.Enabled {
		c.logger.Info("kafka disabled, change feed is served in process")
		return c, nil
	}

	configs := cfg.Kafka.Consumers
	if len(configs) == 0 {
		configs = []mq.ConsumerConfig{defaultConsumer(cfg.Topic)}
	}

	for _, cc := range configs {
		kc, err := mq.NewKafkaConsumer(cfg.Kafka.Brokers, cc, hub.HandleMessage)
		if err != nil {
			c.closeConsumers()
			return nil, errors.WithMessagef(err, "create consumer %s", cc.Name)
		}
		kc.OnError(c.onConsumerError)
		c.consumers = append(c.consumers, kc)
	}

	return c, nil
}

// defaultConsumer 每个实例独立的消费组，保证每个实例都收到全部事件
func defaultConsumer(topic string) mq.ConsumerConfig {
	if topic == "" {
		topic = backend.DefaultTopic
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return mq.ConsumerConfig{
		Name:   "connection-feed",
		Group:  fmt.Sprintf("ideahub-%s-%d", host, os.Getpid()),
		Topics: []string{topic},
	}
}

// onConsumerError 消费中断期间可能丢事件，强制所有会话重新订阅并 reload
func (c *Consumer) onConsumerError(err error) {
	c.logger.Warn("change feed interrupted, resetting subscriptions", "error", err)
	c.hub.Reset(err)
}

// Start 启动所有消费者与投影
func (c *Consumer) Start(ctx context.Context) error {
	for _, projector := range c.projectors {
		sub, err := c.hub.SubscribeAll(projector)
		if err != nil {
			return errors.WithMessage(err, "subscribe projector")
		}
		c.subs = append(c.subs, sub)
	}

	if len(c.consumers) == 0 {
		c.logger.Info("no consumers configured, skipping start", "projectors", len(c.projectors))
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.consumers), "projectors", len(c.projectors))

	// 消费者需在 Start 返回后继续运行，不能使用 Wait 后即取消的派生 ctx
	var g errgroup.Group
	for _, consumer := range c.consumers {
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop 停止所有消费者与投影
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")

	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil

	c.closeConsumers()
	return nil
}

func (c *Consumer) closeConsumers() {
	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}
}
