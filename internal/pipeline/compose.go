package pipeline

import "context"

// Stage wraps a handler with one step that runs before it, such as an auth
// gate or a validator. A stage either short-circuits or calls next.
type Stage func(next Handler) Handler

// Compose returns a function that puts stages in front of a terminal
// handler. Stages run in the order given; the terminal runs only if every
// stage passed.
func Compose(stages ...Stage) func(Handler) Handler {
	return func(terminal Handler) Handler {
		h := terminal
		for i := len(stages) - 1; i >= 0; i-- {
			h = stages[i](h)
		}

		return h
	}
}

// Chain is Compose(stages...)(terminal).
func Chain(terminal Handler, stages ...Stage) Handler {
	return Compose(stages...)(terminal)
}

// Guard turns a check into a [Stage]. If check continues, next handles the
// request; any other result is returned as is.
func Guard(check HandlerFunc) Stage {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) Result {
			res := check(ctx, req)
			if res.Kind() != KindContinue {
				return res
			}

			return next.Handle(ctx, req)
		})
	}
}
