package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
)

// DefaultProducts is the menu created on first boot.
var DefaultProducts = []docstore.Record{
	{"name": "Pepperoni", "price": 20.0},
	{"name": "Four Cheese", "price": 25.0},
	{"name": "BBQ Steak", "price": 30.0},
}

// SeedProducts creates products when the products collection is empty.
// It reports whether anything was created.
func SeedProducts(ctx context.Context, db *docstore.DB, products []docstore.Record) (bool, error) {
	c, err := db.Collection(ProductsCollection)
	if err != nil {
		return false, err
	}

	ids, err := c.List(ctx)
	if err != nil {
		return false, err
	}

	if len(ids) > 0 {
		return false, nil
	}

	for _, p := range products {
		_, err = c.Create(ctx, p.Clone())
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

func (s *Service) productsRoutes() pipeline.Methods {
	return pipeline.Get(pipeline.Chain(pipeline.HandlerFunc(s.listProducts), Authenticated))
}

func (s *Service) listProducts(ctx context.Context, _ *pipeline.Request) pipeline.Result {
	products, err := s.products.All(ctx)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return pipeline.Fail(err)
	}

	if err != nil {
		s.log.Debug("products vanished while listing", zap.Error(err))
	}

	return pipeline.Reply(http.StatusOK, map[string]any{"products": products})
}
