package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courierlane/trackhub/config"
	"github.com/courierlane/trackhub/internal/api/trackingws"
	"github.com/courierlane/trackhub/internal/auth"
	"github.com/courierlane/trackhub/internal/broker/kafka"
	"github.com/courierlane/trackhub/internal/cache/rediscache"
	"github.com/courierlane/trackhub/internal/hub"
	"github.com/courierlane/trackhub/internal/services/janitor"
	"github.com/courierlane/trackhub/internal/services/tracking"
	"github.com/courierlane/trackhub/internal/storage/pgtracking"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if cfg.Auth.JWTSecret == "" {
		panic("auth.jwt_secret is required")
	}

	httpAddr := cfg.TrackHub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.TrackHub.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-hub"
	}
	eventsTopic := cfg.Kafka.DeliveryEventsTopicName
	if eventsTopic == "" {
		eventsTopic = "delivery.events"
	}
	locationTopic := cfg.Kafka.LocationUpdatedTopicName
	if locationTopic == "" {
		locationTopic = "location.updated"
	}

	authGrace := time.Duration(cfg.TrackHub.AuthGraceSeconds) * time.Second
	if authGrace <= 0 {
		authGrace = 10 * time.Second
	}
	cacheTTL := time.Duration(cfg.TrackHub.DeliveryLocationTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	reportsPerMinute := int64(cfg.TrackHub.DriverReportsPerMinute)
	if reportsPerMinute <= 0 {
		reportsPerMinute = 120
	}
	staleAfter := time.Duration(cfg.TrackHub.SessionStaleMinutes) * time.Minute
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	janitorInterval := time.Duration(cfg.TrackHub.JanitorIntervalSeconds) * time.Second
	if janitorInterval <= 0 {
		janitorInterval = time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgtracking.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()
	consumer := kafka.NewConsumer(brokers, eventsTopic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	reg := hub.NewRegistry()
	subs := hub.NewSubscriptionIndex()
	presence := hub.NewPresenceCache()
	disp := hub.NewDispatcher(reg, subs)

	svc := tracking.New(st, rc, rc, producer, reg, subs, presence, disp, tracking.Options{
		LocationTopic:          locationTopic,
		DeliveryLocationTTL:    cacheTTL,
		DriverReportsPerMinute: reportsPerMinute,
	})

	ws := trackingws.New(svc, reg, auth.NewJWTVerifier(cfg.Auth.JWTSecret), authGrace)
	jan := janitor.New(st).WithSettings(janitorInterval, staleAfter)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runTrackHub(ctx, trackHubOpts{
		httpAddr:      httpAddr,
		topic:         eventsTopic,
		consumerGroup: consumerGroup,
	}, svc, ws, jan, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
