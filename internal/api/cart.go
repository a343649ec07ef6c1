package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
	"github.com/calvinalkan/shop/internal/validate"
)

// CartItem is one product line of a cart or order.
type CartItem struct {
	ProductID string         `json:"productId"`
	Value     float64        `json:"value"`
	Price     float64        `json:"price"`
	Product   map[string]any `json:"product,omitempty"`
}

// Cart is stored in the "cart" field of the user record.
type Cart struct {
	Items     []CartItem `json:"items"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
}

// Total is the sum of value times price over all items.
func (c Cart) Total() float64 {
	total := 0.0
	for _, item := range c.Items {
		total += item.Value * item.Price
	}

	return total
}

func (c *Cart) sortItems() {
	slices.SortFunc(c.Items, func(a, b CartItem) int { return strings.Compare(a.ProductID, b.ProductID) })
}

func (s *Service) emptyCart() Cart {
	now := s.nowMillis()

	return Cart{Items: []CartItem{}, CreatedAt: now, UpdatedAt: now}
}

// cartOf decodes the cart stored on a user. A missing or null cart is
// reported as ok == false.
func cartOf(user map[string]any) (Cart, bool, error) {
	raw, found := user["cart"]
	if !found || raw == nil {
		return Cart{}, false, nil
	}

	var cart Cart

	err := convert(raw, &cart)
	if err != nil {
		return Cart{}, false, fmt.Errorf("decode cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []CartItem{}
	}

	return cart, true, nil
}

// convert moves a decoded JSON value into a typed one.
func convert(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, to)
}

func toRecordValue(v any) (any, error) {
	var out any

	err := convert(v, &out)

	return out, err
}

// productIsAvailable loads the product named by productId (query first,
// then body) into req.Product.
func (s *Service) productIsAvailable() pipeline.Stage {
	return pipeline.Guard(func(ctx context.Context, req *pipeline.Request) pipeline.Result {
		productID, _ := req.Query["productId"].(string)
		if productID == "" {
			productID, _ = req.BodyMap()["productId"].(string)
		}

		product, err := s.products.Read(ctx, productID)
		if err != nil {
			return pipeline.Fail(err)
		}

		if product == nil {
			return pipeline.Reply(http.StatusUnprocessableEntity,
				pipeline.NewError("Product does not exist", map[string]any{"productId": productID}))
		}

		req.Product = product

		return pipeline.Continue()
	})
}

var productQuery = validate.QueryValidator(validate.Schema{validate.F("productId", validate.Required, validate.String)})

func (s *Service) cartRoutes() pipeline.Methods {
	return pipeline.Methods{
		http.MethodGet: pipeline.Chain(pipeline.HandlerFunc(s.getCart), Authenticated),
		http.MethodPost: pipeline.Chain(pipeline.HandlerFunc(s.putCartItem),
			Authenticated,
			validate.Validator(validate.Schema{
				validate.F("productId", validate.Required, validate.String),
				validate.F("value", validate.Required, validate.Number, validate.Gte(1), validate.Integer),
			}),
			s.productIsAvailable(),
		),
		http.MethodPatch: pipeline.Chain(pipeline.HandlerFunc(s.addCartItem),
			Authenticated,
			productQuery,
			validate.Validator(validate.Schema{
				validate.F("value", validate.Required, validate.Number, validate.Integer),
			}),
			s.productIsAvailable(),
		),
		http.MethodDelete: pipeline.Chain(pipeline.HandlerFunc(s.removeCartItem),
			Authenticated,
			productQuery,
		),
	}
}

func (s *Service) getCart(ctx context.Context, req *pipeline.Request) pipeline.Result {
	user, err := s.users.Read(ctx, s.users.ID(req.User))
	if err != nil {
		return pipeline.Fail(err)
	}

	cart, found, err := cartOf(user)
	if err != nil {
		return pipeline.Fail(err)
	}

	if !found {
		return pipeline.Reply(http.StatusOK, s.emptyCart())
	}

	for i, item := range cart.Items {
		product, err := s.products.Read(ctx, item.ProductID)
		if err != nil {
			return pipeline.Fail(err)
		}

		cart.Items[i].Product = product
	}

	return pipeline.Reply(http.StatusOK, cart)
}

// putCartItem adds a product line or replaces its quantity, at the current price.
func (s *Service) putCartItem(ctx context.Context, req *pipeline.Request) pipeline.Result {
	productID, _ := req.BodyMap()["productId"].(string)
	value, _ := req.BodyMap()["value"].(float64)
	price, _ := req.Product["price"].(float64)

	return s.patchCart(ctx, req, func(cart *Cart) {
		cart.Items = slices.DeleteFunc(cart.Items, func(item CartItem) bool { return item.ProductID == productID })
		cart.Items = append(cart.Items, CartItem{ProductID: productID, Value: value, Price: price})
	})
}

// addCartItem changes the quantity of a product line by value, adding the
// line if needed. Lines that drop to zero or below are removed.
func (s *Service) addCartItem(ctx context.Context, req *pipeline.Request) pipeline.Result {
	productID, _ := req.Query["productId"].(string)
	value, _ := req.BodyMap()["value"].(float64)
	price, _ := req.Product["price"].(float64)

	return s.patchCart(ctx, req, func(cart *Cart) {
		i := slices.IndexFunc(cart.Items, func(item CartItem) bool { return item.ProductID == productID })
		if i < 0 {
			cart.Items = append(cart.Items, CartItem{ProductID: productID, Value: value, Price: price})
		} else {
			cart.Items[i].Value += value
		}

		cart.Items = slices.DeleteFunc(cart.Items, func(item CartItem) bool { return item.Value <= 0 })
	})
}

func (s *Service) removeCartItem(ctx context.Context, req *pipeline.Request) pipeline.Result {
	productID, _ := req.Query["productId"].(string)

	return s.patchCart(ctx, req, func(cart *Cart) {
		cart.Items = slices.DeleteFunc(cart.Items, func(item CartItem) bool { return item.ProductID == productID })
	})
}

// patchCart applies change to the caller's cart inside a user Patch and
// responds with the new cart.
func (s *Service) patchCart(ctx context.Context, req *pipeline.Request, change func(*Cart)) pipeline.Result {
	var updated Cart

	_, err := s.users.Patch(ctx, s.users.ID(req.User), func(cur docstore.Record) (docstore.Record, error) {
		cart, found, err := cartOf(cur)
		if err != nil {
			return nil, err
		}

		if !found {
			cart = s.emptyCart()
		}

		change(&cart)
		cart.sortItems()
		cart.UpdatedAt = s.nowMillis()

		stored, err := toRecordValue(cart)
		if err != nil {
			return nil, err
		}

		cur["cart"] = stored
		updated = cart

		return cur, nil
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, updated)
}
