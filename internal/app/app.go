// Package app assembles the store, POS client, cache, broadcaster and
// services from config. Every binary under cmd/ starts here.
package app

import (
	"fmt"
	"log"
	"time"

	"clubhouse-system/config"
	"clubhouse-system/internal/broadcast"
	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/memorydriver"
	"clubhouse-system/internal/effects"
	catalog "clubhouse-system/internal/services/catalog/handler"
	inventory "clubhouse-system/internal/services/inventory/handler"
	orders "clubhouse-system/internal/services/orders/handler"
	payments "clubhouse-system/internal/services/payments/handler"
	pos "clubhouse-system/internal/services/pos/handler"
	settlement "clubhouse-system/internal/services/settlement/handler"

	"github.com/go-redis/redis/v8"
)

type App struct {
	Config config.Config

	Store       database.Store
	Clover      *clover.Client
	Cache       *cache.Cache
	Broadcaster broadcast.Broadcaster
	Effects     *effects.Async

	Orders     *orders.OrdersHandler
	Payments   *payments.PaymentsHandler
	POS        *pos.POSHandler
	Inventory  *inventory.InventoryHandler
	Catalog    *catalog.CatalogHandler
	Settlement *settlement.SettlementHandler

	closers []func()
}

func Build(cfg config.Config) (*App, error) {
	a := &App{Config: cfg, Effects: &effects.Async{Timeout: 30 * time.Second}}

	var redisClient *redis.Client
	switch cfg.DB.Driver {
	case "memory":
		log.Println("[app] using in-memory store, redis cache disabled")
		a.Store = memorydriver.New()
	case "postgres", "":
		db, err := database.NewConnection(cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := database.MigrateClubhouseDB(db); err != nil {
			return nil, fmt.Errorf("migrate clubhouse database: %w", err)
		}
		a.Store = database.NewRepository(db)
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { sqlDB.Close() })
		}

		redisClient, err = config.NewRedisClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { redisClient.Close() })
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.DB.Driver)
	}
	a.Cache = cache.New(redisClient)

	b, err := newBroadcaster(cfg.Broadcast, redisClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Broadcaster = b

	a.Clover = clover.NewClient(clover.Config{
		BaseURL:    cfg.Clover.BaseURL,
		MerchantID: cfg.Clover.MerchantID,
		APIToken:   cfg.Clover.APIToken,
		LocationID: cfg.Clover.LocationID,
		Timeout:    cfg.Clover.Timeout,
	})

	a.Inventory = inventory.NewInventoryHandler(a.Store, a.Clover, a.Cache)
	a.Catalog = catalog.NewCatalogHandler(a.Store, a.Clover, a.Cache)
	a.POS = pos.NewPOSHandler(a.Store, a.Clover, pos.NewTenderCache(cfg.Clover.TenderCacheSize), a.Cache)
	a.Orders = orders.NewOrdersHandler(a.Store, a.POS, a.Broadcaster, a.Effects, a.Cache)
	a.Payments = payments.NewPaymentsHandler(a.Store, a.Inventory, a.Broadcaster, a.Effects, a.Cache)
	a.Settlement = settlement.NewSettlementHandler(a.Store, a.POS, a.Broadcaster, a.Effects, a.Cache)
	return a, nil
}

func newBroadcaster(cfg config.BroadcastConfig, redisClient *redis.Client) (broadcast.Broadcaster, error) {
	switch cfg.Driver {
	case "none":
		return broadcast.Nop{}, nil
	case "amqp":
		pub, err := broadcast.DialAMQP(cfg.RabbitMQURL, cfg.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		return pub, nil
	case "redis", "":
		if redisClient == nil {
			log.Println("[app] redis unavailable, live updates disabled")
			return broadcast.Nop{}, nil
		}
		return broadcast.NewRedis(redisClient, cfg.Channel), nil
	}
	return nil, fmt.Errorf("unknown BROADCAST_DRIVER %q", cfg.Driver)
}

// Close waits for in-flight effects, then releases connections.
func (a *App) Close() {
	a.Effects.Wait()
	if pub, ok := a.Broadcaster.(*broadcast.AMQP); ok {
		pub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
