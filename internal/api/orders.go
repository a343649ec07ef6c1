package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
	"github.com/calvinalkan/shop/internal/validate"
)

func (s *Service) ordersRoutes() pipeline.Methods {
	return pipeline.Methods{
		http.MethodGet: pipeline.Chain(pipeline.HandlerFunc(s.getOrders),
			Authenticated,
			validate.QueryValidator(validate.Schema{validate.F("id", validate.Optional(validate.String))}),
		),
		http.MethodPost: pipeline.Chain(pipeline.HandlerFunc(s.checkout),
			Authenticated,
			validate.Validator(validate.Schema{validate.F("paymentToken", validate.Required, validate.String)}),
		),
	}
}

// getOrders lists the caller's orders, or returns the one named by ?id=.
func (s *Service) getOrders(ctx context.Context, req *pipeline.Request) pipeline.Result {
	user, err := s.users.Read(ctx, s.users.ID(req.User))
	if err != nil {
		return pipeline.Fail(err)
	}

	ids := stringList(user["orders"])

	if id, _ := req.Query["id"].(string); id != "" {
		if !slices.Contains(ids, id) {
			return pipeline.Reply(http.StatusNotFound, pipeline.NewError(fmt.Sprintf("Order %s does not exist", id), nil))
		}

		order, err := s.orders.Read(ctx, id)
		if err != nil {
			return pipeline.Fail(err)
		}

		if order == nil {
			return pipeline.Reply(http.StatusNotFound, pipeline.NewError(fmt.Sprintf("Order %s does not exist", id), nil))
		}

		return pipeline.Reply(http.StatusOK, map[string]any{"order": order})
	}

	orders := make([]docstore.Record, 0, len(ids))

	for _, id := range ids {
		order, err := s.orders.Read(ctx, id)
		if err != nil {
			return pipeline.Fail(err)
		}

		if order != nil {
			orders = append(orders, order)
		}
	}

	return pipeline.Reply(http.StatusOK, map[string]any{"orders": orders})
}

// checkout turns the caller's cart into an order, charges it, mails a
// confirmation and empties the cart.
func (s *Service) checkout(ctx context.Context, req *pipeline.Request) pipeline.Result {
	userID := s.users.ID(req.User)
	paymentToken, _ := req.BodyMap()["paymentToken"].(string)

	user, err := s.users.Read(ctx, userID)
	if err != nil {
		return pipeline.Fail(err)
	}

	cart, found, err := cartOf(user)
	if err != nil {
		return pipeline.Fail(err)
	}

	if !found || len(cart.Items) == 0 {
		return pipeline.Reply(http.StatusBadRequest,
			pipeline.NewError("Nothing to checkout", map[string]any{"cart": "cart is empty"}))
	}

	items, err := toRecordValue(cart.Items)
	if err != nil {
		return pipeline.Fail(err)
	}

	total := cart.Total()

	order, err := s.orders.Create(ctx, docstore.Record{
		"userId":    userID,
		"items":     items,
		"total":     total,
		"createdAt": s.nowMillis(),
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	orderID := s.orders.ID(order)
	log := s.log.With(zap.String("order", orderID), zap.String("user", userID))

	paymentID, err := s.charger.Charge(ctx, paymentToken, total, "Order "+orderID)
	if err != nil {
		log.Warn("charge failed", zap.Error(err))

		return pipeline.Fail(fmt.Errorf("charge order %s: %w", orderID, err))
	}

	if paymentID != "" {
		order, err = s.orders.Merge(ctx, orderID, docstore.Record{"payment": paymentID})
		if err != nil {
			return pipeline.Fail(err)
		}
	}

	s.notify(ctx, log, user, orderID, total)

	_, err = s.users.Patch(ctx, userID, func(cur docstore.Record) (docstore.Record, error) {
		cur["cart"] = nil
		cur["orders"] = append(stringList(cur["orders"]), orderID)

		return cur, nil
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, map[string]any{"order": order})
}

// notify mails the order confirmation. Failures are logged, never returned.
func (s *Service) notify(ctx context.Context, log *zap.Logger, user docstore.Record, orderID string, total float64) {
	name, _ := user["name"].(string)
	email, _ := user["email"].(string)

	messageID, err := s.notifier.Notify(ctx, Message{
		To:      fmt.Sprintf("%s <%s>", name, email),
		Subject: "Order " + orderID,
		Text:    fmt.Sprintf("Hello, %s!\n\nOrder %s created.\n\nTotal price: $%s\n", name, orderID, formatPrice(total)),
	})
	if err != nil {
		log.Warn("unable to send order email", zap.Error(err))

		return
	}

	if messageID == "" {
		return
	}

	_, err = s.orders.Merge(ctx, orderID, docstore.Record{"message": messageID})
	if err != nil {
		log.Warn("unable to save message id", zap.Error(err))
	}
}

func formatPrice(total float64) string {
	return fmt.Sprintf("%.2f", total)
}
