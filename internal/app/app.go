// Package app wires the fulfillment services from configuration for both
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/carrier"
	"github.com/ariefcatur/marketplace-fulfillment/internal/config"
	"github.com/ariefcatur/marketplace-fulfillment/internal/delivery"
	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
	kafkax "github.com/ariefcatur/marketplace-fulfillment/internal/kafka"
	"github.com/ariefcatur/marketplace-fulfillment/internal/memstore"
	"github.com/ariefcatur/marketplace-fulfillment/internal/orders"
	"github.com/ariefcatur/marketplace-fulfillment/internal/postgres"
	"github.com/ariefcatur/marketplace-fulfillment/internal/redisx"
	"github.com/ariefcatur/marketplace-fulfillment/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	producerBuffer = 1024
)

// App holds the wired services. With the memory driver nothing external is
// dialled: orders live in process, events are dropped and the status cache
// is off.
type App struct {
	Store  store.Manager
	Orders *orders.Service
	Bridge *delivery.Bridge
	// Redis and StatusCache are nil with the memory driver.
	Redis       *redis.Client
	StatusCache *redisx.StatusCache

	pool      *pgxpool.Pool
	producers []*kafkax.Producer
	log       *zap.Logger
}

// New connects the backing services. Producers run until ctx ends or Close.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{log: log}
	var (
		pub    orders.Publishers
		tokens carrier.TokenCache
	)

	switch cfg.StoreDriver {
	case DriverMemory:
		a.Store = memstore.New()
		tokens = carrier.NewMemoryTokenCache()
		log.Warn("memory store driver: data is lost on exit and events are not published")
	case DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		if err := postgres.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = postgres.NewTxManager(pool)

		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.StatusCache = redisx.NewStatusCache(rdb)
		tokens = carrier.TieredTokenCache{
			Fast:    redisx.NewTokenCache(rdb),
			Durable: &postgres.CredentialStore{DB: pool},
		}

		sinks := make(map[string]kafkax.Sink)
		for _, topic := range []string{events.TopicOrderCreated, events.TopicOrderStatusChanged, events.TopicDelivery} {
			p := kafkax.NewProducer(cfg.KafkaBrokers, topic, producerBuffer, log)
			p.Start(ctx)
			a.producers = append(a.producers, p)
			sinks[topic] = p
		}
		pub = orders.Publishers{kafkax.NewEventPublisher(cfg.ServiceName, sinks), a.StatusCache}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	svc, err := orders.NewService(orders.Deps{
		Store:           a.Store,
		Publisher:       pub,
		Logger:          log,
		DeliveryCharges: cfg.DeliveryCharges,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orders = svc

	client := carrier.New(carrier.Config{
		BaseURL:      cfg.Carrier.BaseURL,
		ClientID:     cfg.Carrier.ClientID,
		ClientSecret: cfg.Carrier.ClientSecret,
		Username:     cfg.Carrier.Username,
		Password:     cfg.Carrier.Password,
		Timeout:      cfg.Carrier.Timeout,
	}, tokens, carrier.WithLogger(log))

	br, err := delivery.NewBridge(delivery.Deps{
		Store:      a.Store,
		Orders:     svc,
		Carrier:    client,
		Logger:     log,
		MaxRetries: cfg.Carrier.MaxRetries,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Bridge = br
	return a, nil
}

// Deduper returns the redis claim store for consumer, or nil without redis.
func (a *App) Deduper(consumer string) delivery.Deduper {
	if a.Redis == nil {
		return nil
	}
	return redisx.NewDedup(a.Redis, consumer)
}

// Close flushes producers before closing the connections they may still need.
func (a *App) Close() {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
