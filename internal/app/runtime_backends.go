package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/config"
	"github.com/osscampus/contrib-board/internal/store"
)

func newStoreBackend(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg != nil && strings.EqualFold(strings.TrimSpace(cfg.Store.Backend), "sqlite") {
		backend, err := store.NewGormStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		logger.Info("using sqlite store", zap.String("path", cfg.Store.SQLitePath))
		return backend, nil
	}

	logger.Info("using in-memory store; contributions will not survive restarts")
	return store.NewMemoryStore(), nil
}

func newLocker(cfg *config.Config, logger *zap.Logger) (store.Locker, func() error) {
	noClose := func() error { return nil }
	if cfg == nil || !strings.EqualFold(strings.TrimSpace(cfg.Lock.Backend), "redis") {
		return store.NewLocalLocker(), noClose
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		logger.Warn("failed to reach redis; falling back to in-process rebuild lock", zap.Error(err))
		return store.NewLocalLocker(), noClose
	}

	logger.Info("using redis rebuild lock", zap.String("addr", cfg.Lock.RedisAddr))
	return store.NewRedisLocker(redisClient, "contrib-board"), redisClient.Close
}
