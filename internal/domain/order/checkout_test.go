package order_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

type checkout struct {
	store  *memory.Store
	carts  *cart.Service
	orders *order.Service
}

func newCheckout(t *testing.T) *checkout {
	t.Helper()
	store := memory.New()
	store.PutProduct(product.Product{
		ID: "course-go", Type: product.TypeCourse, Title: "Go in Production",
		Price: decimal.RequireFromString("1500"), SalePrice: ptr(decimal.RequireFromString("1200")),
	})
	store.PutProduct(product.Product{
		ID: "font-mono", Type: product.TypeFont, Title: "Mono",
		Price: decimal.RequireFromString("300"),
	})
	limit := 100
	store.PutCoupon(coupon.Coupon{
		Code:         "SAVE20",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.RequireFromString("20"),
		MinPurchase:  decimal.RequireFromString("1000"),
		UsageLimit:   &limit,
		UsedCount:    99,
		Scope:        coupon.ScopeAll,
		Active:       true,
	})
	store.PutCoupon(coupon.Coupon{
		Code:         "FLAT500",
		DiscountType: coupon.DiscountFixed,
		Value:        decimal.RequireFromString("500"),
		Scope:        coupon.ScopeAll,
		Active:       true,
	})

	orders, err := order.NewService(
		store.Carts(),
		coupon.NewRepoValidator(store.Coupons()),
		store.Orders(),
		nil,
		noop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	return &checkout{
		store:  store,
		carts:  cart.NewService(store.Products(), store.Carts()),
		orders: orders,
	}
}

func ptr[T any](v T) *T { return &v }

func (c *checkout) usedCount(t *testing.T, code string) int {
	t.Helper()
	cp, err := c.store.Coupons().FindByCode(context.Background(), code)
	require.NoError(t, err)
	return cp.UsedCount
}

func TestCheckout_LastCouponUseRace(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	alice := auth.Identity{UserID: "alice"}
	bob := auth.Identity{UserID: "bob"}

	for _, id := range []auth.Identity{alice, bob} {
		_, err := c.carts.AddItem(ctx, id, "course-go", product.TypeCourse)
		require.NoError(t, err)
	}

	var (
		results [2]*order.Order
		errs    [2]error
		g       errgroup.Group
	)
	for i, id := range []auth.Identity{alice, bob} {
		g.Go(func() error {
			results[i], errs[i] = c.orders.CreateOrder(ctx, id, order.CreateOrderRequest{
				CouponCode:    "SAVE20",
				PaymentMethod: "stripe",
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won, lost int
	for i := range results {
		if errs[i] != nil {
			lost++
			require.ErrorIs(t, errs[i], coupon.ErrUsageLimitExceeded)
			continue
		}
		won++
		assert.True(t, decimal.RequireFromString("240").Equal(results[i].Discount))
		assert.True(t, decimal.RequireFromString("960").Equal(results[i].Total))
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 100, c.usedCount(t, "SAVE20"))
}

// rendezvousCarts holds every Items caller until all parties have read the
// cart, so concurrent checkouts freeze the same items.
type rendezvousCarts struct {
	cart.Repository
	arrived *sync.WaitGroup
}

func (r rendezvousCarts) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	items, err := r.Repository.Items(ctx, userID)
	r.arrived.Done()
	r.arrived.Wait()
	return items, err
}

func TestCheckout_SameCartTwice(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1"}

	_, err := c.carts.AddItem(ctx, id, "font-mono", product.TypeFont)
	require.NoError(t, err)

	arrived := &sync.WaitGroup{}
	arrived.Add(2)
	orders, err := order.NewService(
		rendezvousCarts{Repository: c.store.Carts(), arrived: arrived},
		coupon.NewRepoValidator(c.store.Coupons()),
		c.store.Orders(),
		nil,
		noop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)

	var (
		errs [2]error
		g    errgroup.Group
	)
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = orders.CreateOrder(ctx, id, order.CreateOrderRequest{PaymentMethod: "stripe"})
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

	list, err := c.orders.List(ctx, id)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCheckout_PerUserCapUnderLoad(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	perUser := 1
	c.store.PutCoupon(coupon.Coupon{
		Code:         "ONEEACH",
		DiscountType: coupon.DiscountFixed,
		Value:        decimal.RequireFromString("1"),
		UsagePerUser: &perUser,
		Scope:        coupon.ScopeAll,
		Active:       true,
	})

	const user = "greedy"
	now := time.Now().UTC()
	var (
		errs [16]error
		g    errgroup.Group
	)
	for i := range errs {
		item := order.Item{ProductID: fmt.Sprintf("audio-%d", i), ProductType: product.TypeAudio, Title: "Loop", Price: decimal.RequireFromString("10")}
		require.NoError(t, c.store.Carts().Upsert(ctx, user, cart.Item{
			ProductID: item.ProductID, ProductType: item.ProductType, UnitPrice: item.Price, Title: item.Title, AddedAt: now,
		}))
		g.Go(func() error {
			errs[i] = c.store.Orders().Create(ctx, &order.Order{
				ID:        fmt.Sprintf("o-%d", i),
				UserID:    user,
				Items:     []order.Item{item},
				Status:    order.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}, &coupon.Redemption{Code: "ONEEACH", UserID: user})
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

	usage, err := c.store.Coupons().UserUsage(ctx, "ONEEACH", user)
	require.NoError(t, err)
	assert.Equal(t, 1, usage)
	assert.Equal(t, 1, c.usedCount(t, "ONEEACH"))

	items, err := c.store.Carts().Items(ctx, user)
	require.NoError(t, err)
	assert.Len(t, items, len(errs)-1, "losers keep their cart items")
}

func TestCheckout_FixedCouponFloorsTotal(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1"}

	_, err := c.carts.AddItem(ctx, id, "font-mono", product.TypeFont)
	require.NoError(t, err)

	o, err := c.orders.CreateOrder(ctx, id, order.CreateOrderRequest{CouponCode: "flat500", PaymentMethod: "bkash"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300").Equal(o.Discount))
	assert.True(t, decimal.Zero.Equal(o.Total))
	assert.Equal(t, "FLAT500", o.CouponCode)

	crt, err := c.carts.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, crt.Empty())
}

func TestCheckout_RejectedCouponConsumesNothing(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1"}

	_, err := c.carts.AddItem(ctx, id, "font-mono", product.TypeFont)
	require.NoError(t, err)

	_, err = c.orders.CreateOrder(ctx, id, order.CreateOrderRequest{CouponCode: "SAVE20", PaymentMethod: "stripe"})
	require.ErrorIs(t, err, coupon.ErrMinimumPurchaseNotMet)

	assert.Equal(t, 99, c.usedCount(t, "SAVE20"))
	orders, err := c.orders.List(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, orders)

	crt, err := c.carts.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, crt.Items, 1)
}

func TestCheckout_PriceFrozenAtCheckout(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1"}
	admin := auth.Identity{UserID: "ops", Scopes: []string{auth.ScopeOrdersWrite}}

	_, err := c.carts.AddItem(ctx, id, "font-mono", product.TypeFont)
	require.NoError(t, err)
	o, err := c.orders.CreateOrder(ctx, id, order.CreateOrderRequest{PaymentMethod: "manual"})
	require.NoError(t, err)

	c.store.PutProduct(product.Product{
		ID: "font-mono", Type: product.TypeFont, Title: "Mono",
		Price: decimal.RequireFromString("999"),
	})

	got, err := c.orders.Get(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300").Equal(got.Items[0].Price))
	assert.True(t, decimal.RequireFromString("300").Equal(got.Total))
}

func TestCheckout_CompletedIsIdempotent(t *testing.T) {
	c := newCheckout(t)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1"}
	admin := auth.Identity{UserID: "ops", Scopes: []string{auth.ScopeOrdersWrite}}

	_, err := c.carts.AddItem(ctx, id, "course-go", product.TypeCourse)
	require.NoError(t, err)
	o, err := c.orders.CreateOrder(ctx, id, order.CreateOrderRequest{CouponCode: "SAVE20", PaymentMethod: "stripe"})
	require.NoError(t, err)

	for _, st := range []order.Status{order.StatusProcessing, order.StatusCompleted, order.StatusCompleted} {
		o, err = c.orders.UpdateStatus(ctx, admin, o.ID, st)
		require.NoError(t, err)
	}
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Len(t, o.History, 3)
	assert.Equal(t, 100, c.usedCount(t, "SAVE20"))

	_, err = c.orders.UpdateStatus(ctx, admin, o.ID, order.StatusPending)
	var tErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
}
