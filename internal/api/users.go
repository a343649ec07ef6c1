package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
	"github.com/calvinalkan/shop/internal/validate"
)

var errAccessDenied = pipeline.NewError("Access denied", nil)

// validateUserID requires ?id= to be an email.
var validateUserID = validate.QueryValidator(
	validate.Schema{validate.F("id", validate.Required, validate.Email)},
	validate.WithMessage("Incorrect user id"),
	validate.WithStatus(http.StatusBadRequest),
)

// trimmedBody extracts the named body fields, trimming the string values of
// the fields in trim. Absent fields stay absent.
func trimmedBody(fields []string, trim ...string) validate.ExtractFunc {
	return func(req *pipeline.Request) map[string]any {
		body := req.BodyMap()
		out := make(map[string]any, len(fields))

		for _, name := range fields {
			v, ok := body[name]
			if !ok {
				continue
			}

			if s, isString := v.(string); isString && slices.Contains(trim, name) {
				v = strings.TrimSpace(s)
			}

			out[name] = v
		}

		return out
	}
}

func (s *Service) usersRoutes() pipeline.Methods {
	return pipeline.Methods{
		http.MethodPost: pipeline.Chain(pipeline.HandlerFunc(s.signup),
			validate.Validator(validate.Schema{
				validate.F("email", validate.Required, validate.String, validate.Email),
				validate.F("name", validate.Required, validate.String, validate.MinLength(2)),
				validate.F("password", validate.Required, validate.String, validate.MinLength(6)),
				validate.F("address", validate.Required, validate.String, validate.MinLength(1)),
			},
				validate.WithExtract(trimmedBody([]string{"email", "name", "password", "address"}, "email", "name")),
				validate.WithMessage("User data is invalid"),
			),
		),
		http.MethodGet: pipeline.Chain(pipeline.HandlerFunc(s.getUser),
			Authenticated, validateUserID,
		),
		http.MethodPut: pipeline.Chain(pipeline.HandlerFunc(s.updateUser),
			Authenticated, validateUserID,
			validate.Validator(validate.Schema{
				validate.F("name", validate.Optional(validate.String, validate.MinLength(2))),
				validate.F("address", validate.Optional(validate.String, validate.MinLength(1))),
				validate.F("password", validate.Optional(validate.String, validate.MinLength(6))),
			},
				validate.WithExtract(trimmedBody([]string{"name", "address", "password"}, "name")),
				validate.WithMessage("User data is invalid"),
			),
		),
		http.MethodDelete: pipeline.Chain(pipeline.HandlerFunc(s.deleteUser),
			Authenticated, validateUserID,
		),
	}
}

func (s *Service) signup(ctx context.Context, req *pipeline.Request) pipeline.Result {
	body := req.BodyMap()
	email, _ := body["email"].(string)

	exists, err := s.users.Exists(ctx, email)
	if err != nil {
		return pipeline.Fail(err)
	}

	if exists {
		return userExists(email)
	}

	hash, err := s.hashPassword(body["password"].(string))
	if err != nil {
		return pipeline.Fail(err)
	}

	now := s.nowMillis()

	user, err := s.users.Create(ctx, docstore.Record{
		"email":      email,
		"name":       body["name"],
		"address":    body["address"],
		"password":   hash,
		"createdAt":  now,
		"modifiedAt": now,
	})
	if errors.Is(err, docstore.ErrDuplicateID) {
		return userExists(email)
	}

	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, userView.Apply(user))
}

func userExists(email string) pipeline.Result {
	return pipeline.Reply(http.StatusUnprocessableEntity,
		pipeline.NewError(fmt.Sprintf("User with this email %s already exists", email), nil))
}

func (s *Service) getUser(_ context.Context, req *pipeline.Request) pipeline.Result {
	if req.Query["id"] != s.users.ID(req.User) {
		return pipeline.Reply(http.StatusForbidden, errAccessDenied)
	}

	return pipeline.Reply(http.StatusOK, userView.Apply(req.User))
}

func (s *Service) updateUser(ctx context.Context, req *pipeline.Request) pipeline.Result {
	body := req.BodyMap()
	updates := docstore.Record{}

	for _, field := range []string{"name", "address"} {
		if v, _ := body[field].(string); v != "" {
			updates[field] = v
		}
	}

	if password, _ := body["password"].(string); password != "" {
		hash, err := s.hashPassword(password)
		if err != nil {
			return pipeline.Fail(err)
		}

		updates["password"] = hash
	}

	if len(updates) == 0 {
		return pipeline.Reply(http.StatusBadRequest, pipeline.NewError("No fields to update were specified", nil))
	}

	id := s.users.ID(req.User)
	if req.Query["id"] != id {
		return pipeline.Reply(http.StatusForbidden, errAccessDenied)
	}

	updates["modifiedAt"] = s.nowMillis()

	user, err := s.users.Merge(ctx, id, updates)
	if errors.Is(err, docstore.ErrNotFound) {
		return pipeline.Reply(http.StatusNotFound, pipeline.NewError("User does not exist", nil))
	}

	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusOK, userView.Apply(user))
}

func (s *Service) deleteUser(ctx context.Context, req *pipeline.Request) pipeline.Result {
	id := s.users.ID(req.User)
	if req.Query["id"] != id {
		return pipeline.Reply(http.StatusForbidden, errAccessDenied)
	}

	err := s.users.RemoveByID(ctx, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return pipeline.Fail(err)
	}

	return pipeline.Reply(http.StatusNoContent, nil)
}

// hashPassword bcrypts the password keyed with the shop secret.
func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(s.pepper(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

func (s *Service) checkPassword(hash any, password string) bool {
	h, ok := hash.(string)
	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(h), s.pepper(password)) == nil
}

func (s *Service) pepper(password string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(password))

	return []byte(hex.EncodeToString(mac.Sum(nil)))
}
