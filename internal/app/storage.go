package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/config"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/health"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/postgres"
)

// storage — выбранный бэкенд хранения со всеми репозиториями.
type storage struct {
	driver   string
	tx       domain.Transactor
	products domain.ProductRepository
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	carts    domain.CartService

	// pinger == nil для memory.
	pinger health.Pinger
	upsert func(ctx context.Context, v domain.ProductVariant) error
	close  func() error
}

// seedVariant — вариант каталога в SHOP_SEED_CATALOG.
type seedVariant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	Visible   *bool           `json:"visible"`
}

func (s seedVariant) variant() domain.ProductVariant {
	visible := true
	if s.Visible != nil {
		visible = *s.Visible
	}
	return domain.ProductVariant{
		ID:        s.ID,
		ProductID: s.ProductID,
		Name:      s.Name,
		Price:     s.Price,
		Stock:     s.Stock,
		Visible:   visible,
	}
}

// demoCatalog заполняет memory-хранилище, когда каталог не задан.
var demoCatalog = []seedVariant{
	{ID: 1, ProductID: 1, Name: "Classic T-Shirt / M", Price: decimal.RequireFromString("19.90"), Stock: 100},
	{ID: 2, ProductID: 1, Name: "Classic T-Shirt / L", Price: decimal.RequireFromString("19.90"), Stock: 50},
	{ID: 3, ProductID: 2, Name: "Running Shoes / 42", Price: decimal.RequireFromString("89.00"), Stock: 10},
	{ID: 4, ProductID: 3, Name: "Limited Hoodie", Price: decimal.RequireFromString("59.00"), Stock: 1},
}

func parseSeedCatalog(raw string) ([]seedVariant, error) {
	if raw == "" {
		return nil, nil
	}
	var items []seedVariant
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", config.EnvSeedCatalog, err)
	}
	for i, it := range items {
		if it.Name == "" || it.Stock < 0 || it.Price.IsNegative() {
			return nil, fmt.Errorf("parse %s: invalid variant at index %d", config.EnvSeedCatalog, i)
		}
	}
	return items, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *log.Entry) (*storage, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return openMemory(), nil
	}
}

func openMemory() *storage {
	store := memory.NewStore()
	return &storage{
		driver:   config.StorageMemory,
		tx:       store.Tx,
		products: store.Products,
		orders:   store.Orders,
		payments: store.Payments,
		outbox:   store.Outbox,
		timeline: store.Timeline,
		carts:    store.Carts,
		upsert: func(_ context.Context, v domain.ProductVariant) error {
			store.Products.Upsert(v)
			return nil
		},
		close: func() error { return nil },
	}
}

func openPostgres(ctx context.Context, cfg config.StorageConfig, logger *log.Entry) (*storage, error) {
	store, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db := store.DB()
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	products := postgres.NewProductRepository(store)
	return &storage{
		driver:   config.StoragePostgres,
		tx:       store,
		products: products,
		orders:   postgres.NewOrderRepository(store),
		payments: postgres.NewPaymentRepository(store),
		outbox:   postgres.NewOutboxRepository(store),
		timeline: postgres.NewTimelineRepository(store),
		carts:    postgres.NewCartRepository(store),
		pinger:   db,
		upsert: func(ctx context.Context, v domain.ProductVariant) error {
			_, err := products.Upsert(ctx, v)
			return err
		},
		close: store.Close,
	}, nil
}

// seed загружает каталог. Memory без заданного каталога получает демо-набор.
func (s *storage) seed(ctx context.Context, raw string, logger *log.Entry) error {
	items, err := parseSeedCatalog(raw)
	if err != nil {
		return err
	}
	if len(items) == 0 && s.driver == config.StorageMemory {
		items = demoCatalog
	}
	for _, it := range items {
		if err := s.upsert(ctx, it.variant()); err != nil {
			return fmt.Errorf("seed variant %q: %w", it.Name, err)
		}
	}
	if len(items) > 0 {
		logger.WithField("variants", len(items)).Info("catalog seeded")
	}
	return nil
}
