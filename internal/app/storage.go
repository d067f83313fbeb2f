package app

import (
	"context"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/entitlement"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
)

// repositories is one storage backend seen through the domain interfaces.
type repositories struct {
	products     product.Repository
	carts        cart.Repository
	coupons      coupon.Repository
	orders       order.Repository
	entitlements entitlement.Repository
	close        func()
}

// openStorage connects the configured driver and registers its readiness
// check.
func openStorage(ctx context.Context, cfg StorageConfig, hs *health.Health) (*repositories, error) {
	switch cfg.Driver {
	case DriverMemory:
		return openMemory(ctx, cfg)
	case DriverPostgres:
		return openPostgres(ctx, cfg, hs)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg StorageConfig, hs *health.Health) (*repositories, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool), health.WithThresholds(2, 1))

	orders := postgres.NewOrderRepository(pool)
	return &repositories{
		products:     postgres.NewProductRepository(pool),
		carts:        postgres.NewCartRepository(pool),
		coupons:      postgres.NewCouponRepository(pool),
		orders:       orders,
		entitlements: postgres.NewEntitlementRepository(pool),
		close:        pool.Close,
	}, nil
}

func openMemory(ctx context.Context, cfg StorageConfig) (*repositories, error) {
	store := memory.New()
	if cfg.SeedFile != "" {
		if err := seedMemory(store, cfg.SeedFile); err != nil {
			return nil, errors.Wrap(err, "seed memory store")
		}
	}
	zctx.From(ctx).Warn("Using in-memory storage; data is lost on restart",
		zap.String("seed_file", cfg.SeedFile),
	)
	return &repositories{
		products:     store.Products(),
		carts:        store.Carts(),
		coupons:      store.Coupons(),
		orders:       store.Orders(),
		entitlements: store.Orders(),
		close:        func() {},
	}, nil
}

func seedMemory(store *memory.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()

	c, err := catalog.Decode(f)
	if err != nil {
		return err
	}
	for _, p := range c.Products {
		store.PutProduct(p)
	}
	for _, cp := range c.Coupons {
		store.PutCoupon(cp)
	}
	return nil
}
