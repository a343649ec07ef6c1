package pipeline

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Methods maps HTTP method names to handlers for one endpoint.
type Methods map[string]Handler

// Get is the route of an endpoint that only answers GET.
func Get(h Handler) Methods {
	return Methods{http.MethodGet: h}
}

// Routes maps route keys, relative to the router prefix, to their methods.
type Routes map[string]Methods

type endpoint struct {
	handlers map[string]Handler
	allow    string
}

// Router is a [Handler] that serves a fixed table of endpoints.
//
// Paths are compared with leading and trailing slashes stripped. A path not
// in the table continues the pipeline. A known path with an unsupported
// method gets 405, or 204 for OPTIONS; both carry an Allow header listing the
// supported methods.
type Router struct {
	endpoints map[string]endpoint
}

// NewRouter builds a router serving routes under prefix.
func NewRouter(prefix string, routes Routes) *Router {
	prefix = normalizePath(prefix)
	endpoints := make(map[string]endpoint, len(routes))

	for key, methods := range routes {
		handlers := make(map[string]Handler, len(methods))
		for method, h := range methods {
			handlers[strings.ToUpper(method)] = h
		}

		endpoints[joinPath(prefix, normalizePath(key))] = endpoint{
			handlers: handlers,
			allow:    strings.Join(slices.Sorted(maps.Keys(handlers)), ", "),
		}
	}

	return &Router{endpoints: endpoints}
}

// Endpoints returns the served paths, sorted.
func (rt *Router) Endpoints() []string {
	return slices.Sorted(maps.Keys(rt.endpoints))
}

// Handle implements [Handler].
func (rt *Router) Handle(ctx context.Context, req *Request) Result {
	ep, ok := rt.endpoints[normalizePath(req.Path)]
	if !ok {
		return Continue()
	}

	method := strings.ToUpper(req.Method)

	h, ok := ep.handlers[method]
	if ok {
		return h.Handle(ctx, req)
	}

	header := http.Header{"Allow": {ep.allow}}

	if method == http.MethodOptions {
		return Respond(http.StatusNoContent, map[string]any{}, header)
	}

	return Respond(http.StatusMethodNotAllowed, NewError("Method not supported "+method, nil), header)
}

func normalizePath(p string) string {
	p, _, _ = strings.Cut(p, "?")

	return strings.Trim(p, "/")
}

func joinPath(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "/" + key
	}
}
