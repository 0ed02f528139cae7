package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/config"
	"github.com/starapp/chat-server/internal/logging"
	"github.com/starapp/chat-server/internal/messaging"
	"github.com/starapp/chat-server/internal/moderation"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	queue := flag.String("queue", "moderators", "NATS queue group")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Log.FileName != "" {
		cfg.Log.FileName = "logs/moderator.log"
	}
	logger, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Moderation.NATSURL == "" {
		zap.L().Fatal("moderator: NATS_URL is not set")
	}

	// Strikes and mutes are optional; without Redis verdicts carry no count.
	var (
		strikes *moderation.Strikes
		mutes   *moderation.Mutes
	)
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			zap.L().Fatal("moderator: failed to connect to Redis", zap.String("addr", cfg.RateLimit.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		strikes = moderation.NewStrikes(rdb, time.Hour)
		mutes = moderation.NewMutes(rdb)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.Moderation.NATSURL
	natsConfig.Name = "chat-moderator"
	nc, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		zap.L().Fatal("moderator: failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	filter := moderation.NewFilter()

	err = nc.SubscribeModerationCheck(*queue, func(data []byte) {
		var req moderation.ModerationRequest
		if err := json.Unmarshal(data, &req); err != nil {
			zap.L().Warn("moderator: bad request", zap.Error(err))
			return
		}

		res := moderation.Review(filter, req)
		if !res.Blocked {
			zap.L().Debug("moderator: clean", zap.Uint64("message_id", req.MessageID))
			return
		}

		if strikes != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			n, muted, err := moderation.Escalate(ctx, strikes, mutes, req.SessionID, res.Reason)
			cancel()
			if err != nil {
				zap.L().Warn("moderator: strike not recorded", zap.Error(err))
			}
			res.Strikes = n
			res.MutedFor = int64(muted / time.Second)
		}

		if err := nc.PublishJSON(messaging.SubjectModerationResult, res); err != nil {
			zap.L().Error("moderator: publish result", zap.Error(err))
			return
		}
		zap.L().Info("moderator: flagged",
			zap.String("session", req.SessionID),
			zap.Uint64("message_id", req.MessageID),
			zap.String("reason", res.Reason),
			zap.Int64("strikes", res.Strikes),
			zap.Int64("muted_for", res.MutedFor),
		)
	})
	if err != nil {
		zap.L().Fatal("moderator: subscribe", zap.Error(err))
	}

	zap.L().Info("moderator running",
		zap.String("nats_url", natsConfig.URL),
		zap.String("queue", *queue),
		zap.Bool("strikes", strikes != nil),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	zap.L().Info("moderator shutting down")
}
