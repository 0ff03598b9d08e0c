// Package app собирает сервис оформления заказов из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/shopsaga/internal/config"
	"github.com/vladislavdragonenkov/shopsaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/outbox"
	"github.com/vladislavdragonenkov/shopsaga/internal/version"
)

// Run поднимает API, служебные серверы и фоновые воркеры и блокируется до отмены ctx
// или первой фатальной ошибки.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("starting shopsaga")

	c, err := build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.close(); err != nil {
			logger.WithError(err).Warn("close resources")
		}
	}()

	bus, err := c.startMessaging()
	if err != nil {
		return err
	}
	defer bus.close(logger)

	apiSrv := c.apiServer()
	opsSrv := newOpsServer(cfg.Ops.MetricsAddr, opsHandler(c.health, prometheus.DefaultGatherer))
	grpcSrv, grpcHealth := newGRPCServer(prometheus.DefaultRegisterer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(apiSrv, logger.WithField("server", "api")) })
	g.Go(func() error { return serveHTTP(opsSrv, logger.WithField("server", "ops")) })
	g.Go(func() error { return serveGRPC(grpcSrv, cfg.Ops.GRPCAddr, logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownHTTP(apiSrv, cfg.HTTP.ShutdownTimeout, logger)
		shutdownHTTP(opsSrv, cfg.HTTP.ShutdownTimeout, logger)
		stopGRPC(grpcSrv, logger)
		return nil
	})

	g.Go(func() error { syncGRPCHealth(gctx, c.health, grpcHealth); return nil })
	g.Go(func() error { c.timeoutWorker.Run(gctx); return nil })
	g.Go(func() error { c.scheduler.Run(gctx); return nil })
	if bus.worker != nil {
		g.Go(func() error { bus.worker.Run(gctx); return nil })
	}
	if bus.consumer != nil {
		g.Go(func() error {
			if err := bus.consumer.Start(gctx); err != nil {
				return fmt.Errorf("start payment consumer: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shopsaga stopped")
	return nil
}

// messaging содержит Kafka-часть сервиса и пуст, если брокеры не заданы.
type messaging struct {
	producer *kafka.Producer
	worker   *outbox.Worker
	consumer *kafka.Consumer
}

func (c *components) startMessaging() (*messaging, error) {
	kc := c.cfg.Kafka
	if !kc.Enabled() {
		c.logger.Warn("kafka is not configured, outbox events stay in storage and payments are processed only via API")
		return &messaging{}, nil
	}

	producer, err := kafka.NewProducer(kc.Brokers, c.logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, err
	}

	oc := c.cfg.Outbox
	worker := outbox.NewWorker(c.storage.outbox, kafka.NewOutboxPublisher(producer, kc.Topic),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kc.DLQTopic)),
		outbox.WithMetrics(c.outboxMetrics),
		outbox.WithPollInterval(oc.PollInterval),
		outbox.WithBatchSize(oc.BatchSize),
		outbox.WithMaxAttempts(oc.MaxAttempts),
		outbox.WithRetryBaseDelay(oc.RetryBaseDelay),
		outbox.WithLogger(c.logger.WithField("component", "outbox-worker")),
	)

	consumerLogger := c.logger.WithField("component", "payment-consumer")
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    kc.Brokers,
		GroupID:    kc.ConsumerGroup,
		Topics:     []string{kc.Topic},
		MaxRetries: kc.MaxRetries,
		RetryDelay: kc.RetryDelay,
		DLQ:        producer,
		DLQTopic:   kc.DLQTopic,
		Logger:     consumerLogger,
	}, kafka.NewPaymentHandler(c.processor, consumerLogger))
	if err != nil {
		_ = producer.Close()
		return nil, err
	}

	c.logger.WithField("brokers", kc.Brokers).Info("kafka messaging initialized")
	return &messaging{producer: producer, worker: worker, consumer: consumer}, nil
}

func (m *messaging) close(logger *log.Entry) {
	if m.consumer != nil {
		if err := m.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("stop kafka consumer")
		}
	}
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			logger.WithError(err).Warn("close kafka producer")
		}
	}
}
