// Package pipeline dispatches requests through an ordered chain of stages.
//
// Every stage returns a [Result]: [Continue] passes the request on, [Respond]
// ends the chain with a response, [Fail] ends it with a 500. The first stage
// that does not continue decides the response. If every stage continues, the
// not-found handler answers 404.
//
// The pipeline serializes the winning response exactly once, by content type.
package pipeline

import (
	"context"
	"net/http"
	"slices"

	"go.uber.org/zap"
)

// internalErrorMessage is all a client learns about a failure in production.
const internalErrorMessage = "Internal error"

// Handler handles one request.
type Handler interface {
	Handle(ctx context.Context, req *Request) Result
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, req *Request) Result

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) Result {
	return f(ctx, req)
}

// Pipeline is an ordered list of handlers.
//
// Configure it with [Pipeline.Use] before serving; Use must not race with
// Dispatch.
type Pipeline struct {
	handlers   []Handler
	notFound   Handler
	production bool
	log        *zap.Logger
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithProduction hides stack traces from error payloads and replaces the
// message of every failure with a generic one.
func WithProduction(production bool) Option {
	return func(p *Pipeline) { p.production = production }
}

// WithLogger sets the logger used for failures. Default: no logging.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithNotFound replaces the final handler that runs when every stage continued.
func WithNotFound(h Handler) Option {
	return func(p *Pipeline) { p.notFound = h }
}

// New returns an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		notFound: HandlerFunc(notFound),
		log:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Use appends handlers and returns p.
func (p *Pipeline) Use(handlers ...Handler) *Pipeline {
	p.handlers = append(p.handlers, handlers...)

	return p
}

// Production reports whether stack traces and failure messages are hidden.
func (p *Pipeline) Production() bool {
	return p.production
}

// Dispatch runs the handlers in order and returns the response of the first
// one that does not continue.
func (p *Pipeline) Dispatch(ctx context.Context, req *Request) Response {
	handlers := append(slices.Clip(p.handlers), p.notFound)

	for _, h := range handlers {
		res := p.run(ctx, h, req)

		switch res.Kind() {
		case KindContinue:
			continue
		case KindRespond:
			return res.Response()
		case KindFail:
			return p.failure(req, res.Err())
		}
	}

	// The not-found handler itself continued.
	return Response{Status: http.StatusNotFound, Payload: NewError("Not found", nil)}
}

// ServeHTTP dispatches r and writes the response.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := FromHTTP(r)
	p.write(w, req, p.Dispatch(r.Context(), req))
}

func (p *Pipeline) run(ctx context.Context, h Handler, req *Request) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			res = Fail(newPanicError(v))
		}
	}()

	return h.Handle(ctx, req)
}

func (p *Pipeline) failure(req *Request, err error) Response {
	if err == nil {
		err = NewError(internalErrorMessage, nil)
	}

	p.log.Error("request failed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Error(err),
	)

	if p.production {
		return Response{Status: http.StatusInternalServerError, Payload: NewError(internalErrorMessage, nil)}
	}

	return Response{Status: http.StatusInternalServerError, Payload: err}
}

func notFound(context.Context, *Request) Result {
	return Reply(http.StatusNotFound, NewError("Not found", nil))
}
