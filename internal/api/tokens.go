package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
	"github.com/calvinalkan/shop/internal/validate"
)

var errBadCredentials = pipeline.NewError("Incorrect email or password", nil)

// validateTokenID requires ?id= to look like a token identifier.
var validateTokenID = validate.QueryValidator(
	validate.Schema{validate.F("id", validate.Required, validate.String, validate.Length(32))},
	validate.WithMessage("Invalid token id"),
	validate.WithStatus(http.StatusBadRequest),
)

func (s *Service) tokensRoutes() pipeline.Methods {
	return pipeline.Methods{
		http.MethodPost: pipeline.Chain(pipeline.HandlerFunc(s.login),
			validate.Validator(validate.Schema{
				validate.F("email", validate.Required, validate.String, validate.Email),
				validate.F("password", validate.Required, validate.String, validate.MinLength(6)),
			},
				validate.WithExtract(trimmedBody([]string{"email", "password"}, "email")),
				validate.WithMessage("Incorrect credentials"),
			),
		),
		http.MethodPut: pipeline.Chain(pipeline.HandlerFunc(s.extendToken),
			Authenticated, validateTokenID,
			validate.Validator(validate.Schema{validate.F("extend", validate.Required, validate.Bool)}),
		),
		http.MethodGet: pipeline.Chain(pipeline.HandlerFunc(s.getToken),
			Authenticated, validateTokenID,
		),
		http.MethodDelete: pipeline.Chain(pipeline.HandlerFunc(s.deleteToken),
			Authenticated, validateTokenID,
		),
	}
}

func (s *Service) login(ctx context.Context, req *pipeline.Request) pipeline.Result {
	body := req.BodyMap()
	email, _ := body["email"].(string)
	password, _ := body["password"].(string)

	user, err := s.users.Read(ctx, email)
	if err != nil {
		return pipeline.Fail(err)
	}

	// Same answer for unknown email and wrong password.
	if user == nil || !s.checkPassword(user["password"], password) {
		return pipeline.Reply(http.StatusUnauthorized, errBadCredentials)
	}

	token, err := s.tokens.Create(ctx, docstore.Record{
		"userId":  email,
		"expires": s.nowMillis() + s.tokenTTL.Milliseconds(),
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	tokenID := s.tokens.ID(token)

	_, err = s.users.Patch(ctx, email, func(cur docstore.Record) (docstore.Record, error) {
		cur["tokens"] = append(stringList(cur["tokens"]), tokenID)

		return cur, nil
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, tokenView.Apply(token))
}

func (s *Service) extendToken(ctx context.Context, req *pipeline.Request) pipeline.Result {
	if extend, _ := req.BodyMap()["extend"].(bool); !extend {
		return pipeline.Reply(http.StatusBadRequest, pipeline.NewError("extend should be true", nil))
	}

	token, res, ok := s.ownToken(ctx, req)
	if !ok {
		return res
	}

	if s.expired(token) {
		return pipeline.Reply(http.StatusUnauthorized, pipeline.NewError("Token is expired", nil))
	}

	token["expires"] = s.nowMillis() + s.tokenTTL.Milliseconds()

	updated, err := s.tokens.Update(ctx, token)
	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, tokenView.Apply(updated))
}

func (s *Service) getToken(ctx context.Context, req *pipeline.Request) pipeline.Result {
	token, res, ok := s.ownToken(ctx, req)
	if !ok {
		return res
	}

	return pipeline.Reply(http.StatusOK, tokenView.Apply(token))
}

func (s *Service) deleteToken(ctx context.Context, req *pipeline.Request) pipeline.Result {
	token, res, ok := s.ownToken(ctx, req)
	if !ok {
		return res
	}

	tokenID := s.tokens.ID(token)

	err := s.tokens.RemoveByID(ctx, tokenID)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return pipeline.Fail(err)
	}

	_, err = s.users.Patch(ctx, s.users.ID(req.User), func(cur docstore.Record) (docstore.Record, error) {
		cur["tokens"] = slices.DeleteFunc(stringList(cur["tokens"]), func(id string) bool { return id == tokenID })

		return cur, nil
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusNoContent, nil)
}

// ownToken reads the token named by ?id= and checks it belongs to the
// caller. If ok is false, res is the response to send.
func (s *Service) ownToken(ctx context.Context, req *pipeline.Request) (token docstore.Record, res pipeline.Result, ok bool) {
	id, _ := req.Query["id"].(string)

	token, err := s.tokens.Read(ctx, id)
	if err != nil {
		return nil, pipeline.Fail(err), false
	}

	if token == nil {
		return nil, pipeline.Reply(http.StatusNotFound,
			pipeline.NewError(fmt.Sprintf("Token with the id %s does not exist", id), nil)), false
	}

	if token["userId"] != s.users.ID(req.User) {
		return nil, pipeline.Reply(http.StatusForbidden, errAccessDenied), false
	}

	return token, pipeline.Continue(), true
}

// stringList reads a stored list of strings. Anything else yields nil.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return slices.Clone(list)
	case []any:
		out := make([]string, 0, len(list))

		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
