package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/ideahub/internal/api/consumer"
	"github.com/Zereker/ideahub/internal/api/http"
	"github.com/Zereker/ideahub/internal/api/mcp"
	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/graph"
	"github.com/Zereker/ideahub/pkg/log"
	"github.com/Zereker/ideahub/pkg/mq"
	"github.com/Zereker/ideahub/pkg/postgres"
	"github.com/Zereker/ideahub/pkg/redis"
)

// Version 服务版本
const Version = "0.1.0"

// profileStore 可写入种子资料的资料源
type profileStore interface {
	backend.ProfileSource
	PutProfile(ctx context.Context, p domain.Profile) error
}

// memoryProfiles 适配 backend.Memory 的 PutProfile
type memoryProfiles struct{ *backend.Memory }

func (m memoryProfiles) PutProfile(_ context.Context, p domain.Profile) error {
	m.Memory.PutProfile(p)
	return nil
}

// Server represents the connection hub server
type Server struct {
	config   Config
	logger   *slog.Logger
	repo     backend.Repository
	profiles backend.ProfileSource
	queue    mq.MessageQueue
	hub      *backend.Hub
	graph    *backend.Graph
	sessions *connection.Registry
	consumer *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(); err != nil {
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initBackend(); err != nil {
		return nil, errors.WithMessage(err, "init backend failed")
	}

	if err := server.initFeed(); err != nil {
		return nil, errors.WithMessage(err, "init change feed failed")
	}

	server.initSessions()

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all dependencies
func (s *Server) initDepend() error {
	// Initialize log first; stdout 由 MCP stdio 独占
	if s.config.Server.Mode != "http" && (s.config.Log.Console == "" || s.config.Log.Console == "stdout") {
		s.config.Log.Console = "stderr"
	}
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies", "driver", s.config.Backend.Driver)

	// Initialize PostgreSQL
	s.logger.Info("initializing postgres", "enabled", s.config.Postgres.Enabled)
	if err := postgres.Init(s.config.Postgres); err != nil {
		return errors.WithMessage(err, "failed to init postgres")
	}

	// Initialize Neo4j graph store
	s.logger.Info("initializing graph store", "enabled", s.config.Neo4j.Enabled)
	if err := graph.Init(s.config.Neo4j); err != nil {
		return errors.WithMessage(err, "failed to init graph store")
	}

	// Initialize Kafka message queue
	s.logger.Info("initializing message queue", "enabled", s.config.Kafka.Enabled)
	if err := mq.Init(s.config.Kafka); err != nil {
		return errors.WithMessage(err, "failed to init message queue")
	}

	// Initialize Redis
	s.logger.Info("initializing redis", "enabled", s.config.Redis.Enabled)
	if err := redis.Init(s.config.Redis); err != nil {
		return errors.WithMessage(err, "failed to init redis")
	}

	return nil
}

// initBackend 选择连接记录存储并写入种子资料
func (s *Server) initBackend() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var profiles profileStore
	switch s.config.Backend.Driver {
	case DriverPostgres:
		pg := backend.NewPostgres(postgres.Pool())
		if err := pg.EnsureSchema(ctx); err != nil {
			return errors.WithMessage(err, "ensure schema")
		}
		s.repo = pg
		profiles = pg
	default:
		mem := backend.NewMemory()
		s.repo = mem
		profiles = memoryProfiles{mem}
	}

	for _, p := range s.config.Backend.Profiles {
		err := profiles.PutProfile(ctx, domain.Profile{
			UserID:    p.UserID,
			FullName:  p.FullName,
			AvatarURL: p.AvatarURL,
			Title:     p.Title,
		})
		if err != nil {
			return errors.WithMessagef(err, "seed profile %s", p.UserID)
		}
	}
	s.profiles = profiles

	if client := redis.Client(); client != nil {
		s.logger.Info("profile cache enabled", "ttl", s.config.Redis.TTL())
		s.profiles = backend.NewCachedProfiles(profiles, client, s.config.Redis.Prefix(), s.config.Redis.TTL())
	}

	return nil
}

// initFeed 构建变更推送：Kafka 启用时跨实例分发，否则进程内同步投递
func (s *Server) initFeed() error {
	s.hub = backend.NewHub()

	if producer := mq.NewQueue(); producer != nil {
		s.queue = producer
	} else {
		queue := mq.NewInMemoryQueue()
		if err := queue.Subscribe(s.config.Feed.TopicOrDefault(), s.hub.Handle); err != nil {
			return errors.WithMessage(err, "subscribe in-memory feed")
		}
		s.queue = queue
	}

	s.repo = backend.NewPublisher(s.repo, s.queue, s.config.Feed.TopicOrDefault())

	if store := graph.NewStore(); store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s.graph = backend.NewGraph(store)
		if err := s.graph.EnsureSchema(ctx); err != nil {
			return errors.WithMessage(err, "init graph projection")
		}
	}
	return nil
}

// initSessions 创建用户会话注册表
func (s *Server) initSessions() {
	s.sessions = connection.NewRegistry(connection.Deps{
		Repo:     s.repo,
		Profiles: s.profiles,
		Feed:     s.hub,
		Notifier: connection.NewLogNotifier(),
	}, s.config.Session.Registry())
}

// initConsumer initializes the change feed consumer
func (s *Server) initConsumer() error {
	s.logger.Info("initializing consumer")

	var opts []consumer.Option
	if s.graph != nil {
		opts = append(opts, consumer.WithProjector(s.graph.Apply))
	}

	c, err := consumer.NewConsumer(s.hub, consumer.Config{
		Kafka: s.config.Kafka,
		Topic: s.config.Feed.TopicOrDefault(),
	}, opts...)
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

// Start starts the server based on configuration mode
func (s *Server) Start() error {
	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func(ctx context.Context) {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			s.logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}(ctx)

	g, ctx := errgroup.WithContext(ctx)

	// Start consumer
	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	g.Go(func() error {
		return s.sessions.Run(ctx)
	})

	switch s.config.Server.Mode {
	case "http":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
	case "mcp":
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	case "both":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	default:
		cancel()
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx := context.Background()

	// Stop consumer
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if s.sessions != nil {
		s.sessions.Close()
	}

	if s.hub != nil {
		s.hub.Close()
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("failed to close message queue", "error", err)
		}
	}

	if err := graph.Close(ctx); err != nil {
		s.logger.Error("failed to close graph store", "error", err)
	}

	if err := redis.Close(); err != nil {
		s.logger.Error("failed to close redis", "error", err)
	}

	postgres.Close()

	return nil
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	serverCfg := http.DefaultServerConfig()
	serverCfg.Port = s.config.Server.Port

	var mutual http.MutualFinder
	if s.graph != nil {
		mutual = s.graph
	}
	srv := http.NewServer(http.NewHandler(s.sessions, mutual), serverCfg)

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && ctx.Err() == nil {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	server := mcp.NewServer(s.sessions, mcp.ServerConfig{
		Name:    "ideahub-connections",
		Version: Version,
	})

	if err := server.RunStdio(ctx); err != nil {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation
	<-ctx.Done()

	return nil
}
