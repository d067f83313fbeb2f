// Package catalog decodes catalog fixtures: the products and coupons
// document loaded by seed-db and the memory driver, and the coupon records
// streamed by coupon-ingest.
package catalog

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// Catalog is a set of products and coupons to upsert.
type Catalog struct {
	Products []product.Product
	Coupons  []coupon.Coupon
}

// Decode reads a {"products": [...], "coupons": [...]} document from r.
// Every entry is validated.
func Decode(r io.Reader) (*Catalog, error) {
	var c Catalog
	d := jx.Decode(r, 32<<10)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := DecodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "product %d", len(c.Products))
				}
				c.Products = append(c.Products, p)
				return nil
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				cp, err := DecodeCoupon(d)
				if err != nil {
					return errors.Wrapf(err, "coupon %d", len(c.Coupons))
				}
				c.Coupons = append(c.Coupons, cp)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &c, nil
}

// DecodeProduct reads one product object and validates its type and prices.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var (
		p       product.Product
		rawType string
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "id", "_id":
			p.ID, err = d.Str()
		case "type":
			rawType, err = d.Str()
		case "title":
			p.Title, err = d.Str()
		case "image":
			p.Image, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "salePrice":
			p.SalePrice, err = decodeOptDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, errors.New("id is required")
	}
	if p.Type, err = product.ParseType(rawType); err != nil {
		return p, err
	}
	if _, err := p.SnapshotPrice(); err != nil {
		return p, err
	}
	if p.Price.IsNegative() {
		return p, errors.Errorf("product %s has negative list price", p.ID)
	}
	return p, nil
}

// DecodeCoupon reads one coupon object. Omitted fields take the defaults of
// an unrestricted coupon: scope all, no limits, no window, active.
func DecodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	c := coupon.Coupon{Active: true, Scope: coupon.ScopeAll}
	var rawType, rawScope string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "discountType":
			rawType, err = d.Str()
		case "discountValue":
			c.Value, err = decodeDecimal(d)
		case "minPurchase":
			c.MinPurchase, err = decodeDecimal(d)
		case "maxDiscount":
			c.MaxDiscount, err = decodeOptDecimal(d)
		case "usageLimit":
			c.UsageLimit, err = decodeOptInt(d)
		case "usagePerUser":
			c.UsagePerUser, err = decodeOptInt(d)
		case "usedCount":
			c.UsedCount, err = d.Int()
		case "startDate":
			c.StartsAt, err = decodeOptTime(d)
		case "endDate":
			c.EndsAt, err = decodeOptTime(d)
		case "applicableTo":
			rawScope, err = d.Str()
		case "isActive":
			c.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return c, err
	}

	c.Code = coupon.NormalizeCode(c.Code)
	if c.DiscountType, err = coupon.ParseDiscountType(rawType); err != nil {
		return c, err
	}
	if c.Scope, err = coupon.ParseScope(rawScope); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func decodeOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
