package handler

import (
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/entitlement"
	"github.com/xenking/storefront/internal/domain/order"
)

const maxBodySize = 64 << 10

type addItemRequest struct {
	ProductID   string `json:"productId" validate:"required,max=128"`
	ProductType string `json:"productType" validate:"required"`
}

func (r *addItemRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "productId":
			r.ProductID, err = d.Str()
		case "productType":
			r.ProductType, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type validateCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (r *validateCouponRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "code":
			r.Code, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type createOrderRequest struct {
	CouponCode    string `json:"couponCode" validate:"omitempty,max=64"`
	PaymentMethod string `json:"paymentMethod" validate:"required"`
}

func (r *createOrderRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "couponCode":
			r.CouponCode, err = optStr(d)
		case "paymentMethod":
			r.PaymentMethod, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (r *updateStatusRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "status":
			r.Status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

type decodable interface {
	Decode(d *jx.Decoder) error
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a JSON request body into v and validates it.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v decodable) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return domain.NewValidationError("body", "read request body: %v", err)
	}
	if err := v.Decode(jx.DecodeBytes(body)); err != nil {
		return domain.NewValidationError("body", "malformed JSON: %v", err)
	}
	if err := h.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.NewValidationError(fe.Field(), "failed %q check", fe.Tag())
		}
		return errors.Wrap(err, "validate request")
	}
	return nil
}

// Money is emitted as a JSON number; amounts are rounded to cents by the
// services before they get here.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(c.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("productType")
		e.Str(string(it.ProductType))
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("image")
		e.Str(it.Image)
		e.FieldStart("price")
		encodeMoney(e, it.UnitPrice)
		e.FieldStart("addedAt")
		encodeTime(e, it.AddedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("itemCount")
	e.Int(len(c.Items))
	e.FieldStart("total")
	encodeMoney(e, c.Total())
	e.ObjEnd()
}

func encodeDiscount(e *jx.Encoder, c *cart.Cart, d *coupon.Discount) {
	subtotal := c.Total()
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(true)
	e.FieldStart("code")
	e.Str(d.Code)
	if d.Description != "" {
		e.FieldStart("description")
		e.Str(d.Description)
	}
	e.FieldStart("subtotal")
	encodeMoney(e, subtotal)
	e.FieldStart("discountAmount")
	encodeMoney(e, d.Amount)
	e.FieldStart("total")
	encodeMoney(e, decimal.Max(subtotal.Sub(d.Amount), decimal.Zero).Round(2))
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("productType")
		e.Str(string(it.ProductType))
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("image")
		e.Str(it.Image)
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeMoney(e, o.Subtotal)
	e.FieldStart("discountAmount")
	encodeMoney(e, o.Discount)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("totalAmount")
	encodeMoney(e, o.Total)
	e.FieldStart("paymentStatus")
	e.Str(string(o.Status))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.FieldStart("statusHistory")
	e.ArrStart()
	for _, ch := range o.History {
		e.ObjStart()
		if ch.From != "" {
			e.FieldStart("from")
			e.Str(string(ch.From))
		}
		e.FieldStart("to")
		e.Str(string(ch.To))
		e.FieldStart("at")
		encodeTime(e, ch.At)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeGrants(e *jx.Encoder, grants []entitlement.Grant) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, g := range grants {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(g.ProductID)
		e.FieldStart("productType")
		e.Str(string(g.ProductType))
		e.FieldStart("title")
		e.Str(g.Title)
		e.FieldStart("orderId")
		e.Str(g.OrderID)
		e.FieldStart("purchasedAt")
		encodeTime(e, g.PurchasedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
