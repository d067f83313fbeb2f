package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
)

// CreateOrderRequest holds the checkout input. Items always come from the
// caller's cart.
type CreateOrderRequest struct {
	CouponCode    string
	PaymentMethod string
}

type metrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	rejected    metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	if out.created, err = m.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders created at checkout"),
	); err != nil {
		return nil, err
	}
	if out.transitions, err = m.Int64Counter("storefront.orders.transitions",
		metric.WithDescription("Payment status transitions applied"),
	); err != nil {
		return nil, err
	}
	if out.rejected, err = m.Int64Counter("storefront.coupons.rejected",
		metric.WithDescription("Coupon rejections at checkout, by reason"),
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// Service runs checkout and the payment status state machine.
type Service struct {
	carts   cart.Repository
	coupons coupon.Validator
	orders  Repository
	events  EventPublisher
	metrics *metrics
	now     func() time.Time
}

// NewService creates an order Service. A nil events publisher disables event
// delivery.
func NewService(
	carts cart.Repository,
	coupons coupon.Validator,
	orders Repository,
	events EventPublisher,
	meter metric.Meter,
) (*Service, error) {
	m, err := newMetrics(meter)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	return &Service{
		carts:   carts,
		coupons: coupons,
		orders:  orders,
		events:  events,
		metrics: m,
		now:     time.Now,
	}, nil
}

// CreateOrder freezes the caller's cart into a pending order, applying the
// coupon when one is given.
func (s *Service) CreateOrder(ctx context.Context, id auth.Identity, req CreateOrderRequest) (*Order, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	items, err := s.carts.Items(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	c := &cart.Cart{UserID: id.UserID, Items: items}
	if c.Empty() {
		return nil, domain.NewValidationError("items", "cart is empty")
	}

	subtotal := c.Total()
	discount := decimal.Zero
	var redemption *coupon.Redemption
	if strings.TrimSpace(req.CouponCode) != "" {
		d, err := s.coupons.Validate(ctx, req.CouponCode, c)
		if err != nil {
			s.recordRejection(ctx, err)
			return nil, errors.Wrap(err, "validate coupon")
		}
		discount = d.Amount
		redemption = &coupon.Redemption{Code: d.Code, UserID: id.UserID}
	}

	// Total = subtotal - discount, floored at zero and rounded to 2 decimal places.
	discount = decimal.Min(discount, subtotal).Round(2)
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	now := s.now().UTC()
	o := &Order{
		ID:            uuid.New().String(),
		Number:        newOrderNumber(now),
		UserID:        id.UserID,
		Items:         freeze(items),
		Subtotal:      subtotal.Round(2),
		Discount:      discount,
		Total:         total,
		Status:        StatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
		History:       []StatusChange{{To: StatusPending, At: now}},
	}
	if redemption != nil {
		o.CouponCode = redemption.Code
	}

	if err := s.orders.Create(ctx, o, redemption); err != nil {
		var cErr *coupon.Error
		if errors.As(err, &cErr) {
			s.recordRejection(ctx, err)
			zctx.From(ctx).Info("Coupon redemption lost at commit",
				zap.String("coupon", cErr.Code),
				zap.String("reason", string(cErr.Reason)),
			)
		}
		return nil, errors.Wrap(err, "create order")
	}

	s.metrics.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(method)),
		attribute.Bool("coupon", redemption != nil),
	))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("coupon", o.CouponCode),
	)
	s.publish(ctx, EventCreated, o)

	return o, nil
}

// UpdateStatus advances the payment status of an order. Re-applying the
// current status is a successful no-op, so webhooks may resubmit.
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, orderID string, to Status) (*Order, error) {
	if err := id.Require(auth.ScopeOrdersWrite); err != nil {
		return nil, err
	}
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}

	var change *StatusChange
	o, err := s.orders.Transition(ctx, orderID, func(o *Order) (*StatusChange, error) {
		if o.Status == to {
			return nil, nil
		}
		if !o.Status.CanTransitionTo(to) {
			return nil, &InvalidTransitionError{From: o.Status, To: to}
		}
		change = &StatusChange{From: o.Status, To: to, At: s.now().UTC()}
		return change, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transition order %s", orderID)
	}
	if change == nil {
		return o, nil
	}

	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.To)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)
	s.publish(ctx, EventStatusChanged, o)

	return o, nil
}

// Get returns an order visible to the identity: its owner, or a caller
// allowed to manage orders.
func (s *Service) Get(ctx context.Context, id auth.Identity, orderID string) (*Order, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.UserID != id.UserID && !id.HasScope(auth.ScopeOrdersWrite) {
		return nil, &domain.NotFoundError{Entity: "order", ID: orderID}
	}
	return o, nil
}

// List returns the identity's orders, newest first.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]Order, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByUser(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func (s *Service) recordRejection(ctx context.Context, err error) {
	var cErr *coupon.Error
	if !errors.As(err, &cErr) {
		return
	}
	s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(cErr.Reason)),
	))
}

// publish delivers an event after the state change is committed. Delivery
// failures are logged and never fail the request.
func (s *Service) publish(ctx context.Context, typ string, o *Order) {
	if s.events == nil {
		return
	}
	e := Event{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Status:      o.Status,
		Total:       o.Total,
		At:          o.UpdatedAt,
	}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", typ),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func freeze(items []cart.Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{
			ProductID:   it.ProductID,
			ProductType: it.ProductType,
			Title:       it.Title,
			Image:       it.Image,
			Price:       it.UnitPrice,
		}
	}
	return out
}

// newOrderNumber returns a human-readable order number such as
// ORD-20250615-9F3A61C2.
func newOrderNumber(now time.Time) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8]))
}
