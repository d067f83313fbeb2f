//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "storefront",
				"POSTGRES_PASSWORD": "storefront",
				"POSTGRES_DB":       "storefront",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Applying twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedCoupon(t *testing.T, c coupon.Coupon) {
	t.Helper()
	require.NoError(t, NewCouponRepository(testPool).Upsert(context.Background(), c))
}

func newOrder(userID string, items ...order.Item) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return &order.Order{
		ID:            uuid.New().String(),
		Number:        "ORD-" + uuid.New().String()[:8],
		UserID:        userID,
		Items:         items,
		Subtotal:      total,
		Discount:      decimal.Zero,
		Total:         total,
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentStripe,
		CreatedAt:     now,
		UpdatedAt:     now,
		History:       []order.StatusChange{{To: order.StatusPending, At: now}},
	}
}

// fillCart puts the items into the user's cart at their order prices.
func fillCart(t *testing.T, userID string, items ...order.Item) {
	t.Helper()
	carts := NewCartRepository(testPool)
	for _, it := range items {
		require.NoError(t, carts.Upsert(context.Background(), userID, cart.Item{
			ProductID: it.ProductID, ProductType: it.ProductType, UnitPrice: it.Price, Title: it.Title,
			AddedAt: time.Now().UTC(),
		}))
	}
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	sale := dec("9.99")

	require.NoError(t, repo.Upsert(ctx,
		product.Product{ID: "p-font", Type: product.TypeFont, Title: "Mono", Price: dec("19.99"), SalePrice: &sale},
		product.Product{ID: "p-font", Type: product.TypeAudio, Title: "Mono Loop", Price: dec("5")},
	))

	p, err := repo.Get(ctx, "p-font", product.TypeFont)
	require.NoError(t, err)
	require.NotNil(t, p.SalePrice)
	assert.True(t, sale.Equal(*p.SalePrice))

	p, err = repo.Get(ctx, "p-font", product.TypeAudio)
	require.NoError(t, err)
	assert.Nil(t, p.SalePrice)

	_, err = repo.Get(ctx, "p-font", product.TypeCourse)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)
	user := "cart-" + uuid.NewString()
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.Upsert(ctx, user, cart.Item{ProductID: "a", ProductType: product.TypeFont, UnitPrice: dec("1"), Title: "A", AddedAt: t0}))
	require.NoError(t, repo.Upsert(ctx, user, cart.Item{ProductID: "b", ProductType: product.TypeFont, UnitPrice: dec("2"), Title: "B", AddedAt: t0.Add(time.Second)}))
	require.NoError(t, repo.Upsert(ctx, user, cart.Item{ProductID: "a", ProductType: product.TypeFont, UnitPrice: dec("3"), Title: "A2", AddedAt: t0.Add(time.Hour)}))

	items, err := repo.Items(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ProductID)
	assert.True(t, dec("3").Equal(items[0].UnitPrice))
	assert.True(t, t0.Equal(items[0].AddedAt))

	require.NoError(t, repo.Remove(ctx, user, "a", ""))
	items, err = repo.Items(ctx, user)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, repo.Clear(ctx, user))
	items, err = repo.Items(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestOrderRepository_LastCouponUse(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	coupons := NewCouponRepository(testPool)
	limit := 100
	seedCoupon(t, coupon.Coupon{
		Code: "RACE20", DiscountType: coupon.DiscountPercentage, Value: dec("20"),
		UsageLimit: &limit, UsedCount: 99, Scope: coupon.ScopeAll, Active: true,
	})

	var (
		errs [8]error
		g    errgroup.Group
	)
	for i := range errs {
		g.Go(func() error {
			o := newOrder(fmt.Sprintf("racer-%d-%s", i, uuid.NewString()), order.Item{ProductID: "c", ProductType: product.TypeCourse, Title: "C", Price: dec("1200")})
			fillCart(t, o.UserID, o.Items...)
			errs[i] = orders.Create(ctx, o, &coupon.Redemption{Code: "RACE20", UserID: o.UserID})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, coupon.ErrUsageLimitExceeded)
	}
	assert.Equal(t, 1, won)

	c, err := coupons.FindByCode(ctx, "race20")
	require.NoError(t, err)
	assert.Equal(t, 100, c.UsedCount)
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	carts := NewCartRepository(testPool)
	entitlements := NewEntitlementRepository(testPool)
	coupons := NewCouponRepository(testPool)
	perUser := 1
	seedCoupon(t, coupon.Coupon{
		Code: "ONCE", DiscountType: coupon.DiscountFixed, Value: dec("5"),
		UsagePerUser: &perUser, Scope: coupon.ScopeAll, Active: true,
	})

	user := "life-" + uuid.NewString()
	item := order.Item{ProductID: "tpl", ProductType: product.TypeAppTemplate, Title: "Tpl", Price: dec("50")}
	now := time.Now().UTC()
	require.NoError(t, carts.Upsert(ctx, user, cart.Item{ProductID: "tpl", ProductType: product.TypeAppTemplate, UnitPrice: dec("50"), Title: "Tpl", AddedAt: now}))
	require.NoError(t, carts.Upsert(ctx, user, cart.Item{ProductID: "later", ProductType: product.TypeFont, UnitPrice: dec("1"), Title: "Later", AddedAt: now}))

	o := newOrder(user, item)
	o.CouponCode = "ONCE"
	require.NoError(t, orders.Create(ctx, o, &coupon.Redemption{Code: "ONCE", UserID: user}))

	usage, err := coupons.UserUsage(ctx, "ONCE", user)
	require.NoError(t, err)
	assert.Equal(t, 1, usage)

	// Only the ordered item leaves the cart.
	items, err := carts.Items(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "later", items[0].ProductID)

	// Gone from the cart, so a replay of the same checkout is refused.
	err = orders.Create(ctx, newOrder(user, item), nil)
	require.ErrorIs(t, err, order.ErrCartChanged)

	fillCart(t, user, item)
	err = orders.Create(ctx, newOrder(user, item), &coupon.Redemption{Code: "ONCE", UserID: user})
	require.ErrorIs(t, err, coupon.ErrPerUserLimitExceeded)
	items, err = carts.Items(ctx, user)
	require.NoError(t, err)
	assert.Len(t, items, 2, "rejected checkout leaves the cart untouched")

	advance := func(to order.Status) {
		_, err := orders.Transition(ctx, o.ID, func(cur *order.Order) (*order.StatusChange, error) {
			return &order.StatusChange{From: cur.Status, To: to, At: time.Now().UTC()}, nil
		})
		require.NoError(t, err)
	}
	advance(order.StatusProcessing)
	advance(order.StatusCompleted)

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.Equal(t, "ONCE", got.CouponCode)
	require.Len(t, got.History, 3)
	assert.Equal(t, order.StatusProcessing, got.History[2].From)
	require.Len(t, got.Items, 1)
	assert.True(t, dec("50").Equal(got.Items[0].Price))

	ok, err := entitlements.HasCompletedItem(ctx, user, "tpl", product.TypeAppTemplate)
	require.NoError(t, err)
	assert.True(t, ok)

	grants, err := entitlements.ListCompletedItems(ctx, user)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, o.ID, grants[0].OrderID)

	advance(order.StatusRefunded)
	ok, err = entitlements.HasCompletedItem(ctx, user, "tpl", product.TypeAppTemplate)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := orders.ListByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].History, 4)

	_, err = orders.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = orders.Get(ctx, "not-a-uuid")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ConcurrentCheckoutOfOneCart(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	user := "tabs-" + uuid.NewString()
	item := order.Item{ProductID: "font", ProductType: product.TypeFont, Title: "Font", Price: dec("300")}
	fillCart(t, user, item)

	var (
		errs [4]error
		g    errgroup.Group
	)
	for i := range errs {
		g.Go(func() error {
			errs[i] = orders.Create(ctx, newOrder(user, item), nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, order.ErrCartChanged)
	}
	assert.Equal(t, 1, won)

	list, err := orders.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrderRepository_CartPriceChanged(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	carts := NewCartRepository(testPool)
	user := "reprice-" + uuid.NewString()
	item := order.Item{ProductID: "kit", ProductType: product.TypeUIKit, Title: "Kit", Price: dec("80")}
	fillCart(t, user, order.Item{ProductID: "kit", ProductType: product.TypeUIKit, Title: "Kit", Price: dec("95")})

	err := orders.Create(ctx, newOrder(user, item), nil)
	require.ErrorIs(t, err, order.ErrCartChanged)

	items, err := carts.Items(ctx, user)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestOrderRepository_PerUserCapUnderLoad(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	coupons := NewCouponRepository(testPool)
	perUser := 1
	code := "ONEEACH" + strings.ToUpper(uuid.NewString()[:8])
	seedCoupon(t, coupon.Coupon{
		Code: code, DiscountType: coupon.DiscountFixed, Value: dec("1"),
		UsagePerUser: &perUser, Scope: coupon.ScopeAll, Active: true,
	})

	user := "greedy-" + uuid.NewString()
	var (
		errs [8]error
		g    errgroup.Group
	)
	for i := range errs {
		item := order.Item{ProductID: fmt.Sprintf("audio-%d", i), ProductType: product.TypeAudio, Title: "Loop", Price: dec("10")}
		fillCart(t, user, item)
		g.Go(func() error {
			errs[i] = orders.Create(ctx, newOrder(user, item), &coupon.Redemption{Code: code, UserID: user})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, coupon.ErrPerUserLimitExceeded)
	}
	assert.Equal(t, 1, won)

	usage, err := coupons.UserUsage(ctx, code, user)
	require.NoError(t, err)
	assert.Equal(t, 1, usage)
}
