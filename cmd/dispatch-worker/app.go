package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotafood/dispatchbox/config"
	"github.com/rotafood/dispatchbox/internal/broker/kafka"
	"github.com/rotafood/dispatchbox/internal/cache"
	"github.com/rotafood/dispatchbox/internal/cache/rediscache"
	"github.com/rotafood/dispatchbox/internal/notify"
	"github.com/rotafood/dispatchbox/internal/services/dispatch"
	"github.com/rotafood/dispatchbox/internal/services/scheduler"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

// workerStorage is everything the worker needs from the store: the dispatch
// repository plus the restaurant listing for the periodic cycle.
type workerStorage interface {
	dispatch.Repository
	scheduler.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) notify.Producer
	newRateLimiter func(cfg *config.Config) notify.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgdispatch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) notify.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) notify.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
	}
}

func RunDispatchWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	notificationsTopic := cfg.Kafka.NotificationsTopicName
	if notificationsTopic == "" {
		notificationsTopic = "dispatch.notifications"
	}

	tickInterval := time.Duration(cfg.Dispatch.WorkerTickIntervalSeconds) * time.Second
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	concurrency := cfg.Dispatch.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	settingsTTL := time.Duration(cfg.Dispatch.SettingsTTLSeconds) * time.Second
	if settingsTTL <= 0 {
		settingsTTL = time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	notifier := notify.New(producer, rl, notificationsTopic).
		WithThrottleWindow(time.Duration(cfg.Dispatch.NotifyThrottleSeconds) * time.Second)

	var bc cache.BytesCache
	if f.newCache != nil {
		bc = f.newCache(cfg)
	}

	svc := dispatch.New(st, notifier, bc, settingsTTL)
	sched := scheduler.New(st, svc).WithSettings(tickInterval, concurrency)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:  cfg.Dispatch.WorkerHTTPAddr,
			scheduler: sched,
			cfg:       cfg,
		})
	}()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-schedErr:
		return err
	case err := <-httpErr:
		return err
	}
}
