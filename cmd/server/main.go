package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tyrowin/socialchat/internal/auth"
	"github.com/Tyrowin/socialchat/internal/broadcast"
	"github.com/Tyrowin/socialchat/internal/broadcast/redisrelay"
	"github.com/Tyrowin/socialchat/internal/chat"
	"github.com/Tyrowin/socialchat/internal/config"
	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/server"
	"github.com/Tyrowin/socialchat/internal/session"
	"github.com/Tyrowin/socialchat/internal/session/redisstore"
	"github.com/Tyrowin/socialchat/internal/store"
	"github.com/Tyrowin/socialchat/internal/store/memory"
	"github.com/Tyrowin/socialchat/internal/store/postgres"
	"github.com/Tyrowin/socialchat/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

type stores struct {
	users    store.UserStore
	groups   store.GroupStore
	messages store.MessageStore
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	details := session.ServerDetails{InstanceID: cfg.InstanceID, Host: host}
	logger = logger.With(zap.String("instance_id", cfg.InstanceID))
	logger.Info("Starting SocialChat server", zap.String("host", host))

	m := metrics.New()

	st, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	redisCfg := redisstore.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.SessionsKeyPrefix,
	}
	var (
		remote session.RemoteStore
		relay  *redisrelay.Relay
	)
	if redisCfg.Enabled() {
		client, err := redisstore.NewClient(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		remote = redisstore.New(client, redisCfg.KeyPrefix)
		relay = redisrelay.New(client, redisCfg.KeyPrefix, cfg.InstanceID, logger)
		logger.Info("Using Redis session store", zap.String("addr", redisCfg.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set; sessions are local to this process")
	}

	hub := server.NewHub(server.WithLogger(logger), server.WithMetrics(m))
	go hub.Run()

	directory := session.NewDirectory(remote,
		session.WithInstanceID(cfg.InstanceID),
		session.WithLogger(logger))

	broadcastOpts := []broadcast.Option{broadcast.WithLogger(logger), broadcast.WithMetrics(m)}
	if relay != nil {
		broadcastOpts = append(broadcastOpts, broadcast.WithRelay(relay))
	}
	broadcaster := broadcast.New(cfg.InstanceID, directory, hub, st.groups, broadcastOpts...)

	chatService := chat.NewService(st.users, st.groups, st.messages, broadcaster,
		chat.WithLogger(logger), chat.WithMetrics(m))
	authService := auth.NewService(auth.Config{
		RequirePassword: cfg.AuthPasswordRequired,
		SessionTTL:      cfg.SessionTTL,
		BcryptCost:      cfg.BcryptCost,
		AvatarURLs:      cfg.AvatarURLs,
		Server:          details,
	}, st.users, directory, broadcaster, chatService,
		auth.WithLogger(logger), auth.WithMetrics(m))

	pool := worker.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize, worker.WithLogger(logger))
	m.RegisterQueueDepth(func() float64 { return float64(pool.Queued()) })

	dispatcher := server.NewDispatcher(details, server.Services{
		Directory: directory,
		Auth:      authService,
		Chat:      chatService,
		Sender:    broadcaster,
		Pool:      pool,
	}, server.WithLogger(logger), server.WithMetrics(m))

	handler := server.NewHandler(hub, dispatcher, server.HandlerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Limits: server.Limits{
			MaxMessageSize: cfg.MaxMessageSize,
			RateLimitBurst: cfg.RateLimitBurst,
			RefillInterval: cfg.RefillInterval(),
		},
	}, server.WithLogger(logger))

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	var relayDone chan error
	if relay != nil {
		relayDone = make(chan error, 1)
		go func() { relayDone <- relay.Run(relayCtx, hub, nil) }()
	}

	httpServer := server.CreateServer(cfg.Addr(), server.SetupRoutes(handler, m.Handler()))
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.StartServer(httpServer, logger) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("HTTP server stopped", zap.Error(runErr))
		}
	case err := <-relayDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Relay stopped", zap.Error(err))
			runErr = err
		}
	}

	_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Hub shutdown incomplete", zap.Error(err))
	}
	pool.Close()
	cancelRelay()

	logger.Info("Server stopped")
	return runErr
}

// openStores returns Postgres stores when DATABASE_URL is set, applying
// pending migrations first, and in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		return stores{
			users:    memory.NewUsers(),
			groups:   memory.NewGroups(),
			messages: memory.NewMessages(),
		}, func() {}, nil
	}

	if err := postgres.Migrate(cfg.DatabaseURL, "up"); err != nil {
		return stores{}, nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	pg := postgres.NewStores(db)
	logger.Info("Using PostgreSQL stores")
	return stores{users: pg.Users, groups: pg.Groups, messages: pg.Messages}, func() { _ = db.Close() }, nil
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
