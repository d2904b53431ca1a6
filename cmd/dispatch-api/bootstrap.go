package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotafood/dispatchbox/config"
	"github.com/rotafood/dispatchbox/internal/broker/kafka"
	"github.com/rotafood/dispatchbox/internal/cache/rediscache"
	"github.com/rotafood/dispatchbox/internal/notify"
	"github.com/rotafood/dispatchbox/internal/services/dispatch"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

type dispatchAPIApp struct {
	ctx             context.Context
	cancel          context.CancelFunc
	opts            dispatchAPIOpts
	svc             *dispatch.Service
	statusConsumer  *kafka.Consumer
	offlineConsumer *kafka.Consumer
	closeDB         func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Dispatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Dispatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "dispatch-api"
	}
	notificationsTopic := cfg.Kafka.NotificationsTopicName
	if notificationsTopic == "" {
		notificationsTopic = "dispatch.notifications"
	}
	statusTopic := cfg.Kafka.DeliveryStatusTopicName
	if statusTopic == "" {
		statusTopic = "delivery.status"
	}
	offlineTopic := cfg.Kafka.CourierOfflineTopicName
	if offlineTopic == "" {
		offlineTopic = "courier.offline"
	}
	settingsTTL := time.Duration(cfg.Dispatch.SettingsTTLSeconds) * time.Second
	if settingsTTL <= 0 {
		settingsTTL = time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	notifier := notify.New(producer, rl, notificationsTopic).
		WithThrottleWindow(time.Duration(cfg.Dispatch.NotifyThrottleSeconds) * time.Second)

	svc := dispatch.New(st, notifier, rc, settingsTTL)

	statusConsumer := kafka.NewConsumer(brokers, statusTopic, consumerGroup)
	offlineConsumer := kafka.NewConsumer(brokers, offlineTopic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &dispatchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: dispatchAPIOpts{
			httpAddr:      httpAddr,
			statusTopic:   statusTopic,
			offlineTopic:  offlineTopic,
			consumerGroup: consumerGroup,
		},
		svc:             svc,
		statusConsumer:  statusConsumer,
		offlineConsumer: offlineConsumer,
		closeDB:         st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdispatch.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdispatch.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.statusConsumer != nil {
		_ = a.statusConsumer.Close()
	}
	if a.offlineConsumer != nil {
		_ = a.offlineConsumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.svc, a.statusConsumer, a.offlineConsumer)
}
