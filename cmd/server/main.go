package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/smangukia/CommuneDrop-sub001/internal/broker"
	"github.com/smangukia/CommuneDrop-sub001/internal/config"
	"github.com/smangukia/CommuneDrop-sub001/internal/httpapi"
	"github.com/smangukia/CommuneDrop-sub001/internal/hub"
	"github.com/smangukia/CommuneDrop-sub001/internal/logging"
	"github.com/smangukia/CommuneDrop-sub001/internal/registry"
	"github.com/smangukia/CommuneDrop-sub001/internal/router"
	"github.com/smangukia/CommuneDrop-sub001/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Trip registry: Mongo when configured, in-process otherwise.
	var reg registry.TripRegistry
	if cfg.MongoURI != "" {
		client, err := registry.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			log.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		mr, err := registry.NewMongoRegistry(ctx, client.Database(cfg.MongoDB))
		if err != nil {
			log.Error("mongo registry init failed", "error", err)
			os.Exit(1)
		}
		reg = mr
		log.Info("trip registry: mongodb", "db", cfg.MongoDB)
	} else {
		reg = registry.NewMemoryRegistry()
		log.Warn("trip registry: in-memory, trips will not survive a restart")
	}

	opts := router.Options{
		MatchRadiusKm: cfg.MatchRadiusKm,
		DedupeWindow:  cfg.NotifyDedupeWindow,
	}
	if cfg.PGDSN != "" {
		archive, err := registry.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			log.Error("postgres archive unavailable, continuing without it", "error", err)
		} else {
			defer archive.Close()
			opts.Archive = archive
			log.Info("location archive: postgres")
		}
	}
	if cfg.RedisAddr != "" {
		mirror := tracker.NewRedisPositions(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer mirror.Close()
		opts.Mirror = mirror
		log.Info("position mirror: redis", "key", cfg.RedisGeoKey)
	}

	bk := broker.New(broker.Config{
		Brokers:            cfg.KafkaBrokers,
		ConnectBaseDelay:   cfg.ConnectBaseDelay,
		ConnectMaxDelay:    cfg.ConnectMaxDelay,
		ConnectMaxAttempts: cfg.ConnectMaxAttempts,
		ReconnectCooldown:  cfg.ReconnectCooldown,
		TopicPartitions:    cfg.UserTopicPartitions,
		TopicRetention:     cfg.UserTopicRetention,
	}, log)
	if cfg.BrokerEnabled() {
		bk.Start(ctx)
		defer bk.Close()
	} else {
		log.Warn("no kafka brokers configured, running live-session-only")
	}

	cache := tracker.NewCache()
	sessions := hub.New(log)
	rt := router.New(reg, cache, tracker.NewMatcher(cache), bk, sessions, log, opts)
	sessions.SetHandler(rt.HandleSessionEvent)

	if cfg.BrokerEnabled() {
		go bk.Consume(ctx, []string{cfg.DeliveryRequestsTopic}, cfg.KafkaGroupID, wrap(rt.HandleDeliveryRequestMessage))
		go bk.Consume(ctx, []string{cfg.PaymentEventsTopic}, cfg.KafkaGroupID+"-payments", wrap(rt.HandlePaymentMessage))
	}

	api := httpapi.NewServer(sessions, bk, cfg.BrokerEnabled(), log)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

// wrap adapts router payload handlers to the broker's message handler shape.
func wrap(fn func(ctx context.Context, value []byte) error) broker.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		return fn(ctx, msg.Value)
	}
}
