package api

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/calvinalkan/shop/internal/pipeline"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// TokenHeader and TokenCookie carry the login token.
const (
	TokenHeader = "token"
	TokenCookie = "token"
)

// tokenIDPattern matches the identifiers login hands out. Anything else
// cannot name a stored token.
var tokenIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseBody decodes application/json request bodies into req.Body. Other
// content types are left alone.
var ParseBody = pipeline.HandlerFunc(func(_ context.Context, req *pipeline.Request) pipeline.Result {
	if req.HTTP == nil || req.HTTP.Body == nil {
		return pipeline.Continue()
	}

	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return pipeline.Continue()
	}

	// -1 means the length is unknown, as with chunked bodies.
	if req.HTTP.ContentLength < 0 {
		return pipeline.Reply(http.StatusBadRequest, pipeline.NewError("Incorrect Content-Length header", nil))
	}

	if req.HTTP.ContentLength > MaxBodyBytes {
		return pipeline.Reply(http.StatusRequestEntityTooLarge, pipeline.NewError("Request payload is too large", nil))
	}

	data, err := io.ReadAll(io.LimitReader(req.HTTP.Body, MaxBodyBytes))
	if err != nil {
		return pipeline.Reply(http.StatusBadRequest, pipeline.NewError("Unable to read request payload", nil))
	}

	var body any

	err = json.Unmarshal(data, &body)
	if err != nil {
		return pipeline.Reply(http.StatusBadRequest, pipeline.NewError("Unable to parse request payload", nil))
	}

	req.Body = body

	return pipeline.Continue()
})

// ParseQuery decodes the query string into req.Query. A key given once maps
// to a string, a repeated key to a list of strings.
var ParseQuery = pipeline.HandlerFunc(func(_ context.Context, req *pipeline.Request) pipeline.Result {
	// Malformed pairs are dropped; the rest is kept.
	values, _ := url.ParseQuery(req.RawQuery)

	query := make(map[string]any, len(values))

	for key, vs := range values {
		if len(vs) == 1 {
			query[key] = vs[0]

			continue
		}

		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}

		query[key] = list
	}

	req.Query = query

	return pipeline.Continue()
})

// ParseUser resolves the login token from the token header or cookie and
// sets req.Token and req.User. Requests without a valid, unexpired token
// continue anonymously.
func (s *Service) ParseUser() pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) pipeline.Result {
		tokenID := strings.TrimSpace(req.Header.Get(TokenHeader))
		if tokenID == "" {
			tokenID = strings.TrimSpace(req.Cookie(TokenCookie))
		}

		if !tokenIDPattern.MatchString(tokenID) {
			return pipeline.Continue()
		}

		token, err := s.tokens.Read(ctx, tokenID)
		if err != nil {
			return pipeline.Fail(err)
		}

		if token == nil || s.expired(token) {
			return pipeline.Continue()
		}

		userID, _ := token["userId"].(string)
		if userID == "" {
			return pipeline.Continue()
		}

		user, err := s.users.Read(ctx, userID)
		if err != nil {
			return pipeline.Fail(err)
		}

		if user == nil {
			return pipeline.Continue()
		}

		req.Token = token
		req.User = user

		return pipeline.Continue()
	})
}

// Authenticated rejects requests that have no resolved user.
var Authenticated = pipeline.Guard(func(_ context.Context, req *pipeline.Request) pipeline.Result {
	if req.User == nil {
		return pipeline.Reply(http.StatusUnauthorized, pipeline.NewError("Token is missing or expired", nil))
	}

	return pipeline.Continue()
})

func (s *Service) expired(token map[string]any) bool {
	expires, ok := token["expires"].(float64)

	return !ok || int64(expires) < s.nowMillis()
}
