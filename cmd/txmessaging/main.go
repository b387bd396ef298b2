package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/config"
	orderApp "github.com/davicafu/txmessaging/internal/order/application"
	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	orderEvents "github.com/davicafu/txmessaging/internal/order/infra/inbound/events"
	orderHTTP "github.com/davicafu/txmessaging/internal/order/infra/inbound/http"
	"github.com/davicafu/txmessaging/internal/order/infra/outbound/db/sqlrepo"
	"github.com/davicafu/txmessaging/internal/shared/application/idempotency"
	"github.com/davicafu/txmessaging/internal/shared/application/inbox"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
	infraEvents "github.com/davicafu/txmessaging/internal/shared/infra/events"
	sharedHTTP "github.com/davicafu/txmessaging/internal/shared/infra/http"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/analytics/clickhouse"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/txmessaging/internal/shared/infra/platform/cache"
	mongoStore "github.com/davicafu/txmessaging/internal/shared/infra/platform/db/mongodb"
	redisStore "github.com/davicafu/txmessaging/internal/shared/infra/platform/db/redis"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/davicafu/txmessaging/internal/shared/infra/relayer"
	"github.com/davicafu/txmessaging/pkg/logger"
)

// ---------------- Main ----------------
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "invalid LOG_LEVEL:", err)
		os.Exit(1)
	}
	log := logger.Logger().With(zap.String("service", cfg.ServiceName))
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		log.Fatal("invalid DB_DRIVER", zap.Error(err))
	}
	dsn := cfg.SQLitePath
	if dialect == sqlstore.Postgres {
		dsn = cfg.DatabaseURL
	}
	db, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	log.Info("✅ Base de datos lista", zap.String("driver", string(dialect)))

	m := metrics.New(cfg.ServiceName)
	outbox := sqlstore.NewOutboxRepo(db, dialect)
	registry := orderDomain.NewEventRegistry()

	// ---------------- Redis / Cache ----------------
	var cache sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		_ = rdb.Close()
		rdb = nil
		mem := sharedCache.NewMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer mem.Stop()
		cache = mem
	} else {
		defer rdb.Close()
		cache = sharedCache.NewRedisCache(rdb, cfg.ServiceName+":")
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// ---------------- Events ---------------
	var (
		bus        sharedBus.EventBus
		subscriber *infraEvents.KafkaSubscriber
	)
	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.Brokers()))
		publisher := infraEvents.NewKafkaPublisher(infraEvents.NewKafkaWriter(cfg.Brokers()), log)
		defer publisher.Close()
		subscriber = infraEvents.NewKafkaSubscriber(infraEvents.SubscriberConfig{
			Brokers:  cfg.Brokers(),
			GroupID:  cfg.KafkaGroupID,
			MaxTries: 5,
		}, log, infraEvents.WithSubscriberMetrics(m))
		bus = kafkaBus{KafkaPublisher: publisher, subscriber: subscriber}
	} else {
		log.Info("⚡️ Usando bus de eventos en memoria")
		bus = infraEvents.NewInMemoryEventBus()
	}

	// ---------------- Unit of Work ----------------
	uowOpts := []uow.Option{uow.WithMetrics(m)}
	if cfg.ImmediatePublish {
		uowOpts = append(uowOpts, uow.WithImmediatePublish(bus, registry, cfg.KafkaDefaultTopic,
			cfg.ImmediatePublishTimeout, cfg.OutboxLeaseTTL))
	}
	uows := uow.NewFactory(persistence.SQLBeginner{DB: db}, outbox, log, uowOpts...)
	sqlrepo.Register(uows, dialect)

	orderService := orderApp.NewOrderService(uows, sqlrepo.NewOrderRepoSQL(db, dialect), cache, log,
		orderApp.WithCacheTTL(cfg.CacheTTL))

	var (
		wg           sync.WaitGroup
		healthChecks []sharedHTTP.HealthCheck
	)

	// ------------ Consumers ------------
	if cfg.EnableConsumers {
		processor := inbox.NewProcessor(uows, sqlstore.NewInboxStore(dialect), log, inbox.WithMetrics(m))
		if err := orderEvents.NewPaymentConsumer(processor, orderService, log).Register(bus); err != nil {
			log.Fatal("failed to register payment consumer", zap.Error(err))
		}
		if subscriber != nil {
			healthChecks = append(healthChecks, subscriber.Health)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("❌ Consumidor Kafka detenido", zap.Error(err))
				}
			}()
		}
	}

	// ------------ Outbox Publisher ------------
	if cfg.EnablePublisher {
		workerOpts := []relayer.Option{relayer.WithMetrics(m)}
		if cfg.ClickHouseAddr != "" {
			audit, err := openDeliveryLog(ctx, cfg)
			if err != nil {
				log.Warn("⚠️ ClickHouse no disponible, auditoría desactivada", zap.Error(err))
			} else {
				defer audit.Close()
				workerOpts = append(workerOpts, relayer.WithAuditor(audit))
				log.Info("✅ Auditoría de entregas en ClickHouse")
			}
		}

		for i := 0; i < cfg.OutboxWorkers; i++ {
			worker := relayer.NewOutboxWorker(outbox, bus, registry, relayer.Config{
				Interval:       cfg.OutboxPeriod,
				BatchSize:      cfg.OutboxBatchSize,
				MaxAttempts:    cfg.OutboxMaxAttempts,
				BackoffBase:    cfg.OutboxBackoffBase,
				BackoffMax:     cfg.OutboxBackoffMax,
				LeaseTTL:       cfg.OutboxLeaseTTL,
				PublishTimeout: cfg.OutboxPublishTimeout,
				DefaultTopic:   cfg.KafkaDefaultTopic,
			}, log, workerOpts...)
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.Start(ctx)
			}()
		}
	}

	// ---------------- HTTP ----------------
	if cfg.EnableHTTP {
		idemStore, closeStore, err := openIdempotencyStore(ctx, cfg, db, dialect, rdb)
		if err != nil {
			log.Fatal("failed to open idempotency store", zap.Error(err))
		}
		defer closeStore()
		idem := idempotency.NewService(idemStore, log,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithRetryAfter(cfg.IdempotencyRetryAfter),
			idempotency.WithMetrics(m),
		)

		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		orderHTTP.RegisterOrderRoutes(router, orderHTTP.NewOrderHandler(orderService, log), sharedHTTP.Idempotency(idem, log))
		sharedHTTP.RegisterOutboxAdminRoutes(router, sharedHTTP.NewOutboxAdminHandler(outbox, log))
		sharedHTTP.RegisterOpsRoutes(router, db, m.Handler(), healthChecks...)

		srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
			stop()
		}
	}

	<-ctx.Done()
	wg.Wait()
	log.Info("👋 Proceso detenido")
}

// kafkaBus une el productor y el consumidor de Kafka en un solo EventBus.
type kafkaBus struct {
	*infraEvents.KafkaPublisher
	subscriber *infraEvents.KafkaSubscriber
}

func (b kafkaBus) Subscribe(topic string, h sharedBus.Handler) error {
	return b.subscriber.Subscribe(topic, h)
}

func openDeliveryLog(ctx context.Context, cfg *config.Config) (*clickhouse.DeliveryLog, error) {
	audit, err := clickhouse.NewDeliveryLog(cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
	if err != nil {
		return nil, err
	}
	if err := audit.InitSchema(ctx); err != nil {
		_ = audit.Close()
		return nil, err
	}
	return audit, nil
}

// openIdempotencyStore elige el backend según IDEMPOTENCY_BACKEND.
func openIdempotencyStore(ctx context.Context, cfg *config.Config, db *sql.DB, d sqlstore.Dialect, rdb *redis.Client) (sharedDomain.IdempotencyStore, func(), error) {
	noop := func() {}
	switch cfg.IdempotencyBackend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, noop, errors.New("IDEMPOTENCY_BACKEND=redis but Redis is unavailable")
		}
		return redisStore.NewIdempotencyStore(rdb, cfg.ServiceName+":"), noop, nil
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		store, err := mongoStore.NewIdempotencyStore(ctx, client, cfg.MongoDatabase)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, noop, err
		}
		return store, closeFn, nil
	default:
		return sqlstore.NewIdempotencyStore(db, d), noop, nil
	}
}
