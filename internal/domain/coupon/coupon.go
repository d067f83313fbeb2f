package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the cart total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the cart total.
	DiscountFixed DiscountType = "fixed"
)

// ParseDiscountType converts s to a DiscountType.
func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(s); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	default:
		return "", domain.NewValidationError("discountType", "unknown discount type %q", s)
	}
}

// Coupon is a discount code with its eligibility rules and usage counters.
// Nil limits mean "unlimited", nil dates mean "unbounded".
type Coupon struct {
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  *decimal.Decimal
	UsageLimit   *int
	UsagePerUser *int
	UsedCount    int
	StartsAt     *time.Time
	EndsAt       *time.Time
	Scope        Scope
	Active       bool
}

// NormalizeCode returns the canonical form of a coupon code. Codes compare
// case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ActiveAt reports whether the coupon is enabled and now lies within its
// validity window (both ends inclusive).
func (c *Coupon) ActiveAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// CheckCaps verifies that one more redemption by a user who has already
// redeemed userUsage times stays within the global and per-user caps. Stores
// call it again inside their commit step, under the lock that serializes
// redemptions of the code.
func (c *Coupon) CheckCaps(userUsage int) error {
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return reject(c.Code, ReasonUsageLimitExceeded)
	}
	if c.UsagePerUser != nil && userUsage >= *c.UsagePerUser {
		return reject(c.Code, ReasonPerUserLimitExceeded)
	}
	return nil
}

// Validate checks the static shape of a coupon definition.
func (c *Coupon) Validate() error {
	if NormalizeCode(c.Code) == "" {
		return domain.NewValidationError("code", "coupon code is required")
	}
	if _, err := ParseDiscountType(string(c.DiscountType)); err != nil {
		return err
	}
	if !c.Scope.Valid() {
		return domain.NewValidationError("applicableTo", "unknown scope %q", c.Scope)
	}
	if c.Value.IsNegative() {
		return domain.NewValidationError("discountValue", "must not be negative")
	}
	if c.MinPurchase.IsNegative() {
		return domain.NewValidationError("minPurchase", "must not be negative")
	}
	if c.MaxDiscount != nil && c.MaxDiscount.IsNegative() {
		return domain.NewValidationError("maxDiscount", "must not be negative")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return domain.NewValidationError("usageLimit", "must not be negative")
	}
	if c.UsagePerUser != nil && *c.UsagePerUser < 0 {
		return domain.NewValidationError("usagePerUser", "must not be negative")
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		return domain.NewValidationError("endDate", "ends before it starts")
	}
	return nil
}

// Discount is the outcome of a successful validation.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Redemption asks an order store to consume one use of Code on behalf of
// UserID as part of the order-create commit.
type Redemption struct {
	Code   string
	UserID string
}

// Reason tags why a coupon was rejected.
type Reason string

const (
	ReasonNotFound              Reason = "not_found"
	ReasonExpiredOrInactive     Reason = "expired_or_inactive"
	ReasonEmptyCart             Reason = "empty_cart"
	ReasonMinimumPurchaseNotMet Reason = "minimum_purchase_not_met"
	ReasonScopeMismatch         Reason = "scope_mismatch"
	ReasonUsageLimitExceeded    Reason = "usage_limit_exceeded"
	ReasonPerUserLimitExceeded  Reason = "per_user_limit_exceeded"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:              "coupon not found",
	ReasonExpiredOrInactive:     "coupon is expired or inactive",
	ReasonEmptyCart:             "cart is empty",
	ReasonMinimumPurchaseNotMet: "minimum purchase not met",
	ReasonScopeMismatch:         "coupon does not apply to every item in the cart",
	ReasonUsageLimitExceeded:    "coupon usage limit reached",
	ReasonPerUserLimitExceeded:  "coupon already used the maximum number of times",
}

// Error is a coupon rejection. errors.Is matches on Reason, so the
// sentinels below match rejections of any code.
type Error struct {
	Code   string
	Reason Reason
}

// Rejection sentinels, one per Reason.
var (
	ErrNotFound              = &Error{Reason: ReasonNotFound}
	ErrExpiredOrInactive     = &Error{Reason: ReasonExpiredOrInactive}
	ErrEmptyCart             = &Error{Reason: ReasonEmptyCart}
	ErrMinimumPurchaseNotMet = &Error{Reason: ReasonMinimumPurchaseNotMet}
	ErrScopeMismatch         = &Error{Reason: ReasonScopeMismatch}
	ErrUsageLimitExceeded    = &Error{Reason: ReasonUsageLimitExceeded}
	ErrPerUserLimitExceeded  = &Error{Reason: ReasonPerUserLimitExceeded}
)

func reject(code string, reason Reason) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	msg := reasonMessages[e.Reason]
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Code == "" {
		return msg
	}
	return fmt.Sprintf("coupon %s: %s", e.Code, msg)
}

// Is reports whether target is a coupon Error with the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Repository provides coupon lookups for validation.
type Repository interface {
	// FindByCode looks a coupon up case-insensitively. It returns
	// ErrNotFound when no coupon has that code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// UserUsage returns how many times userID has redeemed code.
	UserUsage(ctx context.Context, code, userID string) (int, error)
}
