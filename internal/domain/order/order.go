package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrNotFound is returned when an order does not exist or is not visible to
// the caller.
var ErrNotFound = &domain.NotFoundError{Entity: "order"}

// ErrCartChanged is returned when a frozen item is no longer in the cart at
// its frozen price when the order commits, e.g. a concurrent checkout of the
// same cart already consumed it.
var ErrCartChanged = errors.New("cart changed during checkout")

// Status is the payment status of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// transitions lists the allowed forward edges. Failed and refunded orders
// never move again; a failed payment is retried as a new order.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
}

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded:
		return st, nil
	default:
		return "", domain.NewValidationError("status", "unknown payment status %q", s)
	}
}

// CanTransitionTo reports whether s -> to is an edge of the state machine.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no forward edge leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InvalidTransitionError reports an illegal payment status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid payment status transition %s -> %s", e.From, e.To)
}

// PaymentMethod is how the buyer intends to pay. Gateway protocols live
// outside this service; the method is recorded for reconciliation.
type PaymentMethod string

const (
	PaymentBKash  PaymentMethod = "bkash"
	PaymentNagad  PaymentMethod = "nagad"
	PaymentStripe PaymentMethod = "stripe"
	PaymentManual PaymentMethod = "manual"
)

// ParsePaymentMethod converts s to a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentBKash, PaymentNagad, PaymentStripe, PaymentManual:
		return m, nil
	default:
		return "", domain.NewValidationError("paymentMethod", "unknown payment method %q", s)
	}
}

// Item is a cart item frozen into an order at checkout.
type Item struct {
	ProductID   string
	ProductType product.Type
	Title       string
	Image       string
	Price       decimal.Decimal
}

// StatusChange is one entry of an order's audit trail. The creation entry
// has an empty From.
type StatusChange struct {
	From Status
	To   Status
	At   time.Time
}

// Order is an immutable purchase record. Only Status, UpdatedAt and History
// change after creation.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Items         []Item
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	CouponCode    string
	Total         decimal.Decimal
	Status        Status
	PaymentMethod PaymentMethod
	CreatedAt     time.Time
	UpdatedAt     time.Time
	History       []StatusChange
}

// Contains reports whether the order holds the product.
func (o *Order) Contains(productID string, typ product.Type) bool {
	for _, it := range o.Items {
		if it.ProductID == productID && it.ProductType == typ {
			return true
		}
	}
	return false
}

// TransitionFunc inspects the locked current state of an order and returns
// the change to apply, or nil to leave the order untouched.
type TransitionFunc func(o *Order) (*StatusChange, error)

// Repository persists orders.
type Repository interface {
	// Create stores o as one atomic unit together with its side effects:
	// when r is non-nil the coupon caps are re-checked and one use is
	// consumed, and the ordered items are consumed from the owner's cart.
	// Every item must still be in the cart at its frozen price, otherwise
	// nothing is stored and ErrCartChanged is returned. A lost race for the
	// last use of a coupon yields a *coupon.Error.
	Create(ctx context.Context, o *Order, r *coupon.Redemption) error
	// Transition runs fn against the order while holding it exclusively and
	// persists the returned change. It returns the resulting order.
	Transition(ctx context.Context, id string, fn TransitionFunc) (*Order, error)
	// Get returns the order with the given ID.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}

// Event is published after an order is created or changes status.
type Event struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      Status
	Total       decimal.Decimal
	At          time.Time
}

// Event types.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
)

// EventPublisher delivers order events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
