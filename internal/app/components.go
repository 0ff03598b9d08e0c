package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vladislavdragonenkov/shopsaga/internal/cache"
	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/config"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/health"
	"github.com/vladislavdragonenkov/shopsaga/internal/lock"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/compensation"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/payment"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/saga"
	"github.com/vladislavdragonenkov/shopsaga/internal/version"
)

const redisLockPrefix = "lock:"

// components — собранный граф зависимостей сервиса.
type components struct {
	cfg    *config.Config
	logger *log.Entry

	storage      *storage
	redis        *redis.Client
	locker       domain.Locker
	reservations domain.ReservationCache
	statusCache  payment.StatusCache

	productPolicy *resilience.Client
	orderPolicy   *resilience.Client
	cartPolicy    *resilience.Client

	orchestrator *saga.Orchestrator
	processor    *payment.Processor
	restocker    *compensation.Restocker
	emitter      *events.Emitter

	timeoutWorker *compensation.TimeoutWorker
	scheduler     *lifecycle.Scheduler

	sagaMetrics   *metrics.SagaMetrics
	jobMetrics    *metrics.JobMetrics
	outboxMetrics *metrics.OutboxMetrics
	health        *health.Handler
}

// build собирает зависимости. При ошибке уже открытые ресурсы закрываются.
func build(ctx context.Context, cfg *config.Config, registerer prometheus.Registerer, logger *log.Entry) (c *components, err error) {
	c = &components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.close()
		}
	}()

	if c.storage, err = openStorage(ctx, cfg.Storage, logger.WithField("component", "storage")); err != nil {
		return nil, err
	}
	if err = c.storage.seed(ctx, cfg.Storage.SeedCatalog, logger); err != nil {
		return nil, err
	}
	if err = c.initCaches(ctx); err != nil {
		return nil, err
	}

	c.sagaMetrics = metrics.NewSagaMetricsWithRegisterer(registerer)
	c.jobMetrics = metrics.NewJobMetrics(registerer)
	c.outboxMetrics = metrics.NewOutboxMetrics(registerer)
	c.initPolicies(metrics.NewBreakerMetrics(registerer))
	c.initServices()
	c.initHealth()

	if err = c.warmReservations(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *components) initCaches(ctx context.Context) error {
	acquire := lock.AcquireOptions{Wait: c.cfg.Lock.Wait, Hold: c.cfg.Lock.Hold}
	cacheLogger := c.logger.WithField("component", "reservation-cache")

	if !c.cfg.Redis.Enabled() {
		c.locker = lock.NewLocalLocker()
		c.reservations = cache.NewMemoryReservationCache(c.locker, acquire, cacheLogger, cache.WithLedger(c.storage.products))
		c.statusCache = cache.NewMemoryStatusCache(c.cfg.Redis.StatusTTL)
		c.logger.Info("redis is not configured, using in-process cache and locks")
		return nil
	}

	c.redis = redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", c.cfg.Redis.Addr, err)
	}
	locker, err := lock.NewRedisLocker(c.redis, redisLockPrefix)
	if err != nil {
		return err
	}
	c.locker = locker
	c.reservations = cache.NewRedisReservationCache(c.redis, locker, acquire, cacheLogger, cache.WithLedger(c.storage.products))
	c.statusCache = cache.NewRedisStatusCache(c.redis, c.cfg.Redis.StatusTTL)
	c.logger.WithField("addr", c.cfg.Redis.Addr).Info("redis connected")
	return nil
}

func (c *components) initPolicies(breakerMetrics *metrics.BreakerMetrics) {
	cc := c.cfg.Client
	retry := resilience.RetryConfig{
		MaxAttempts:    cc.MaxAttempts,
		InitialDelay:   cc.InitialDelay,
		MaxDelay:       cc.MaxDelay,
		BackoffFactor:  cc.BackoffFactor,
		AttemptTimeout: cc.AttemptTimeout,
	}
	breaker := resilience.BreakerConfig{
		FailureThreshold: cc.FailureThreshold,
		OpenTimeout:      cc.OpenTimeout,
		HalfOpenMaxCalls: cc.HalfOpenMaxCalls,
	}
	logger := c.logger.WithField("component", "resilient-client")

	newPolicy := func(name string) *resilience.Client {
		p := resilience.NewClient(name, retry, breaker, logger)
		p.Breaker().OnStateChange(func(name string, state resilience.CircuitState) {
			breakerMetrics.ObserveState(name, int(state), state.String())
		})
		return p
	}
	c.productPolicy = newPolicy("product")
	c.orderPolicy = newPolicy("order")
	c.cartPolicy = newPolicy("cart")
}

func (c *components) initServices() {
	s := c.storage
	products := client.NewResilientProductClient(client.NewLocalProductClient(s.products), c.productPolicy)
	orders := client.NewResilientOrderClient(client.NewLocalOrderClient(s.orders), c.orderPolicy)
	carts := client.NewResilientCartClient(s.carts, c.cartPolicy)

	c.emitter = events.NewEmitter(s.outbox, s.timeline, c.sagaMetrics, c.logger.WithField("component", "events"))
	c.restocker = compensation.NewRestocker(compensation.RestockerDeps{
		Tx:           s.tx,
		Orders:       s.orders,
		OrderClient:  orders,
		Products:     products,
		Reservations: c.reservations,
		Emitter:      c.emitter,
		Metrics:      c.sagaMetrics,
		Logger:       c.logger.WithField("component", "restocker"),
	})
	c.processor = payment.NewProcessor(payment.Deps{
		Tx:          s.tx,
		Payments:    s.payments,
		OrderClient: orders,
		Restocker:   c.restocker,
		Emitter:     c.emitter,
		StatusCache: c.statusCache,
		Gates: payment.Gates{
			DropOff: payment.RandomGate(c.cfg.Payment.DropOffRate),
			Fail:    payment.RandomGate(c.cfg.Payment.FailRate),
		},
		Metrics: c.sagaMetrics,
		Logger:  c.logger.WithField("component", "payment-processor"),
	})
	c.orchestrator = saga.NewOrchestrator(saga.Deps{
		Tx:           s.tx,
		Orders:       s.orders,
		Products:     products,
		Reservations: c.reservations,
		Payments:     c.processor,
		Restocker:    c.restocker,
		Emitter:      c.emitter,
		Carts:        carts,
		Metrics:      c.sagaMetrics,
		Logger:       c.logger.WithField("component", "saga"),
	})

	cc := c.cfg.Compensator
	c.timeoutWorker = compensation.NewTimeoutWorker(s.payments, c.restocker,
		compensation.WithInterval(cc.Interval),
		compensation.WithThreshold(cc.Threshold),
		compensation.WithBatchSize(cc.BatchSize),
		compensation.WithMetrics(c.jobMetrics),
		compensation.WithLogger(c.logger.WithField("component", "payment-timeout-worker")),
	)

	lc := c.cfg.Lifecycle
	c.scheduler = lifecycle.NewScheduler(s.tx, s.orders, c.restocker, c.emitter,
		lifecycle.WithInterval(lc.Interval),
		lifecycle.WithBatchSize(lc.BatchSize),
		lifecycle.WithThresholds(lifecycle.Thresholds{
			ShipAfter:          lc.ShipAfter,
			DeliverAfter:       lc.DeliverAfter,
			ReturnWindow:       lc.ReturnWindow,
			ReturnProcessAfter: lc.ReturnProcessAfter,
		}),
		lifecycle.WithMetrics(c.jobMetrics),
		lifecycle.WithLocker(c.locker),
		lifecycle.WithLogger(c.logger.WithField("component", "lifecycle-scheduler")),
	)
}

func (c *components) initHealth() {
	c.health = health.NewHandler(version.Version())
	if c.storage.pinger != nil {
		c.health.RegisterChecker("postgres", health.NewPostgresChecker(c.storage.pinger))
	}
	if c.redis != nil {
		c.health.RegisterChecker("redis", health.NewRedisChecker(c.redis))
	}
	c.health.RegisterChecker("clients", health.NewBreakerChecker(
		c.productPolicy.Breaker(),
		c.orderPolicy.Breaker(),
		c.cartPolicy.Breaker(),
	))
}

// warmReservations переносит остатки из учёта в кеш резервов перед приёмом запросов.
func (c *components) warmReservations(ctx context.Context) error {
	levels, err := c.storage.products.StockLevels(ctx)
	if err != nil {
		return fmt.Errorf("load stock levels: %w", err)
	}
	if err := c.reservations.Reset(ctx, levels); err != nil {
		return fmt.Errorf("warm reservation cache: %w", err)
	}
	c.logger.WithField("variants", len(levels)).Info("reservation cache warmed")
	return nil
}

func (c *components) close() error {
	var err error
	if c.redis != nil {
		err = multierr.Append(err, c.redis.Close())
	}
	if c.storage != nil && c.storage.close != nil {
		err = multierr.Append(err, c.storage.close())
	}
	return err
}
