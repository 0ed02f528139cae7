package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/api"
	"github.com/starapp/chat-server/internal/archive"
	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/config"
	"github.com/starapp/chat-server/internal/logging"
	"github.com/starapp/chat-server/internal/messaging"
	"github.com/starapp/chat-server/internal/moderation"
	"github.com/starapp/chat-server/internal/ratelimit"
	"github.com/starapp/chat-server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		zap.L().Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limits := chat.DefaultLimits()
	limits.MaxTextChars = cfg.Limits.MaxTextChars
	limits.MaxBlobBytes = cfg.Limits.MaxBlobBytes
	limits.MaxFileBytes = cfg.Limits.MaxFileBytes
	limits.MaxNameLength = cfg.Limits.MaxNameLength
	hub := chat.NewHub(chat.Config{
		HistorySize:    cfg.History.MaxMessages,
		RouteIndexSize: cfg.History.RouteIndexSize,
		Limits:         limits,
	})
	defer hub.Close()

	// --- Rate limiting ---
	dcfg := ws.DefaultDispatcherConfig()
	dcfg.MessageRule = ratelimit.Rule{Key: "rl:msg:", Limit: cfg.RateLimit.MessageLimit, Window: cfg.RateLimit.MessageWindow}
	dcfg.ReactionRule = ratelimit.Rule{Key: "rl:react:", Limit: cfg.RateLimit.ReactLimit, Window: cfg.RateLimit.ReactWindow}

	var local *ratelimit.LocalLimiter
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		dcfg.Limiter = ratelimit.NewRedisLimiter(rdb)
		// Mutes are written by the moderator into the same Redis.
		dcfg.Mutes = moderation.NewMutes(rdb)
	} else {
		local = ratelimit.NewLocalLimiter(10 * time.Minute)
		go local.Run(ctx, time.Minute)
		dcfg.Limiter = local
	}

	// --- Moderation ---
	if cfg.Moderation.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.Moderation.NATSURL
		nc, err := messaging.NewNATSClient(natsConfig)
		if err != nil {
			return err
		}
		defer nc.Close()

		bridge := moderation.NewBridge(nc, 0)
		hub.AddObserver(bridge)
		go bridge.Run(ctx)
		if err := nc.SubscribeModerationResult(moderation.ResultHandler(hub)); err != nil {
			return err
		}
	}

	// --- Archive ---
	stopArchive := func() {}
	if cfg.Archive.DSN != "" {
		store, err := archive.Open(ctx, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		writer := archive.NewWriter(store, cfg.Archive.QueueSize)
		hub.AddObserver(writer)
		stopArchive = writer.Start()
	}

	// --- Transport ---
	dispatcher := ws.NewMessageDispatcher(hub, dcfg)

	scfg := ws.DefaultServerConfig()
	scfg.WorkerPoolSize = cfg.Server.WorkerPoolSize
	scfg.MaxConnections = cfg.Server.MaxConnections
	scfg.ReadTimeout = cfg.Server.ReadTimeout
	scfg.WriteTimeout = cfg.Server.WriteTimeout
	scfg.MaxFrameBytes = cfg.Server.MaxFrameBytes
	scfg.SendQueueSize = cfg.Server.SendQueueSize

	server := ws.NewServer(scfg, hub, dispatcher.Dispatch)
	if local != nil {
		server.SetOnDisconnect(func(connID string) {
			local.Forget(connID, dcfg.MessageRule, dcfg.ReactionRule)
		})
	}
	if err := server.Start(); err != nil {
		stopArchive()
		return err
	}
	// Shutdown announces every departure; the archive flushes after it and
	// before the store closes.
	defer func() {
		server.Shutdown()
		stopArchive()
	}()

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.NewRouter(hub, server, api.Options{ClientURL: cfg.Server.ClientURL}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("chat server starting",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.Int("worker_pool", cfg.Server.WorkerPoolSize),
		zap.Int("max_connections", cfg.Server.MaxConnections),
		zap.Int("history", cfg.History.MaxMessages),
		zap.Bool("redis", cfg.RateLimit.RedisAddr != ""),
		zap.Bool("moderation", cfg.Moderation.NATSURL != ""),
		zap.Bool("archive", cfg.Archive.DSN != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("http shutdown", zap.Error(err))
	}
	return nil
}
