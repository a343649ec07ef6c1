// Package api is the shop's JSON API: users, tokens, products, cart and
// orders, served through a [pipeline.Pipeline] and stored in a
// [docstore.DB].
package api

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
)

// Collection names.
const (
	UsersCollection    = "Users"
	TokensCollection   = "Tokens"
	ProductsCollection = "Products"
	OrdersCollection   = "Orders"
)

// DefaultTokenTTL is how long a login token stays valid.
const DefaultTokenTTL = time.Hour

// Collections returns the collections the API needs. Users are keyed by
// email; everything else gets random identifiers.
func Collections(durable bool) []docstore.CollectionSpec {
	return []docstore.CollectionSpec{
		{Name: UsersCollection, IDField: "email", Durable: durable},
		{Name: TokensCollection, Durable: durable},
		{Name: ProductsCollection, Durable: durable},
		{Name: OrdersCollection, Durable: durable},
	}
}

// Service holds the API's collaborators.
type Service struct {
	users    *docstore.Collection
	tokens   *docstore.Collection
	products *docstore.Collection
	orders   *docstore.Collection

	secret     []byte
	bcryptCost int
	tokenTTL   time.Duration
	now        func() time.Time

	charger  Charger
	notifier Notifier
	log      *zap.Logger
}

// Option configures a [Service].
type Option func(*Service)

// WithSecret sets the key mixed into password hashes.
func WithSecret(secret string) Option {
	return func(s *Service) { s.secret = []byte(secret) }
}

// WithBcryptCost sets the bcrypt cost. Default: [bcrypt.DefaultCost].
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithTokenTTL sets the login token lifetime. Default: [DefaultTokenTTL].
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.tokenTTL = ttl }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCharger sets the payment collaborator used at checkout.
func WithCharger(c Charger) Option {
	return func(s *Service) { s.charger = c }
}

// WithNotifier sets the mail collaborator used after checkout.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New returns a Service over the collections of a connected db.
func New(db *docstore.DB, opts ...Option) (*Service, error) {
	s := &Service{
		bcryptCost: bcrypt.DefaultCost,
		tokenTTL:   DefaultTokenTTL,
		now:        time.Now,
		charger:    noopCharger{},
		notifier:   noopNotifier{},
		log:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var errs []error

	lookup := func(name string) *docstore.Collection {
		c, err := db.Collection(name)
		if err != nil {
			errs = append(errs, err)
		}

		return c
	}

	s.users = lookup(UsersCollection)
	s.tokens = lookup(TokensCollection)
	s.products = lookup(ProductsCollection)
	s.orders = lookup(OrdersCollection)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	return s, nil
}

// Router returns the /api route table.
func (s *Service) Router() *pipeline.Router {
	return pipeline.NewRouter("api", pipeline.Routes{
		"users":    s.usersRoutes(),
		"tokens":   s.tokensRoutes(),
		"products": s.productsRoutes(),
		"cart":     s.cartRoutes(),
		"orders":   s.ordersRoutes(),
	})
}

// Pipeline returns the full request pipeline: body, query and auth
// resolution followed by the API router.
func (s *Service) Pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(opts...).Use(
		ParseBody,
		ParseQuery,
		s.ParseUser(),
		s.Router(),
	)
}

// nowMillis is the current time as Unix milliseconds, the timestamp format
// of every stored record.
func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}
