package api_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/calvinalkan/shop/internal/api"
	"github.com/calvinalkan/shop/internal/docstore"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "secret-pw"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testAPI struct {
	t       *testing.T
	db      *docstore.DB
	clock   *fakeClock
	svc     *api.Service
	handler http.Handler
}

func newTestAPI(t *testing.T, opts ...api.Option) *testAPI {
	t.Helper()

	ctx := t.Context()
	db := docstore.New(t.TempDir())

	for _, spec := range api.Collections(false) {
		db.Configure(spec)
	}

	require.NoError(t, db.Connect(ctx))

	_, err := api.SeedProducts(ctx, db, api.DefaultProducts)
	require.NoError(t, err)

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	base := []api.Option{
		api.WithBcryptCost(bcrypt.MinCost),
		api.WithSecret("test-secret"),
		api.WithClock(clock.Now),
	}

	svc, err := api.New(db, append(base, opts...)...)
	require.NoError(t, err)

	return &testAPI{t: t, db: db, clock: clock, svc: svc, handler: svc.Pipeline()}
}

type reply struct {
	status int
	header http.Header
	body   map[string]any
}

// do sends a request. body, when not nil, is sent as JSON.
func (a *testAPI) do(method, target string, body any, token string) reply {
	a.t.Helper()

	var r io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)

		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("token", token)
	}

	return a.serve(req)
}

func (a *testAPI) serve(req *http.Request) reply {
	a.t.Helper()

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	out := reply{status: rec.Code, header: rec.Header()}

	if rec.Body.Len() > 0 {
		err := json.Unmarshal(rec.Body.Bytes(), &out.body)
		if err != nil {
			a.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}

	return out
}

func (a *testAPI) signup(email, password string) reply {
	a.t.Helper()

	return a.do(http.MethodPost, "/api/users", map[string]any{
		"email":    email,
		"name":     "Alice",
		"password": password,
		"address":  "1 Main St",
	}, "")
}

// login signs up (if needed) and logs in, returning the token id.
func (a *testAPI) login(email, password string) string {
	a.t.Helper()

	a.signup(email, password)

	res := a.do(http.MethodPost, "/api/tokens", map[string]any{"email": email, "password": password}, "")
	require.Equal(a.t, http.StatusOK, res.status, "login: %v", res.body)

	id, _ := res.body["id"].(string)
	require.Len(a.t, id, 32)

	return id
}

// productIDs maps product names to ids.
func (a *testAPI) productIDs(token string) map[string]string {
	a.t.Helper()

	res := a.do(http.MethodGet, "/api/products", nil, token)
	require.Equal(a.t, http.StatusOK, res.status)

	ids := make(map[string]string)

	for _, p := range res.body["products"].([]any) {
		product := p.(map[string]any)
		ids[product["name"].(string)] = product["_id"].(string)
	}

	return ids
}

func items(t *testing.T, cart any) []map[string]any {
	t.Helper()

	m, ok := cart.(map[string]any)
	require.True(t, ok, "cart = %T", cart)

	list, ok := m["items"].([]any)
	require.True(t, ok, "items = %T", m["items"])

	out := make([]map[string]any, len(list))
	for i, item := range list {
		out[i] = item.(map[string]any)
	}

	return out
}
