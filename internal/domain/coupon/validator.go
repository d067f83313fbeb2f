package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Validator validates a coupon code against a cart and returns the computed
// discount.
type Validator interface {
	Validate(ctx context.Context, code string, c *cart.Cart) (*Discount, error)
}

// Evaluate runs the eligibility checks of c against the cart in a fixed
// order and stops at the first failure. userUsage is how often the cart's
// owner has already redeemed c. Evaluate never mutates anything.
func Evaluate(c *Coupon, crt *cart.Cart, userUsage int, now time.Time) (*Discount, error) {
	if !c.ActiveAt(now) {
		return nil, reject(c.Code, ReasonExpiredOrInactive)
	}
	if crt.Empty() {
		return nil, reject(c.Code, ReasonEmptyCart)
	}

	total := crt.Total()
	if total.LessThan(c.MinPurchase) {
		return nil, reject(c.Code, ReasonMinimumPurchaseNotMet)
	}

	// Scoped coupons discount the whole order or nothing.
	for _, item := range crt.Items {
		if !c.Scope.Covers(item.ProductType) {
			return nil, reject(c.Code, ReasonScopeMismatch)
		}
	}

	if err := c.CheckCaps(userUsage); err != nil {
		return nil, err
	}

	amount, err := Amount(c, total)
	if err != nil {
		return nil, err
	}
	return &Discount{
		Code:        c.Code,
		Amount:      amount,
		Description: c.Description,
	}, nil
}

// RepoValidator implements Validator by loading coupons and per-user usage
// from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks the coupon up and evaluates it against the cart. It does
// not consume usage: that happens only when an order is committed.
func (v *RepoValidator) Validate(ctx context.Context, code string, c *cart.Cart) (*Discount, error) {
	rule, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(NormalizeCode(code), ReasonNotFound)
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	usage, err := v.repo.UserUsage(ctx, rule.Code, c.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupon usage")
	}

	return Evaluate(rule, c, usage, v.now())
}
