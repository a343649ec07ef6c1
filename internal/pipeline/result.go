package pipeline

import "net/http"

// Kind tells the pipeline what a stage decided.
type Kind int

const (
	// KindContinue passes the request to the next stage. It is the zero Kind.
	KindContinue Kind = iota
	// KindRespond ends the pipeline with a response.
	KindRespond
	// KindFail ends the pipeline with a 500.
	KindFail
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindRespond:
		return "respond"
	case KindFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Response is what the pipeline hands to the transport.
type Response struct {
	Status  int
	Payload any
	Header  http.Header
}

// Result is the outcome of one stage. The zero Result continues.
type Result struct {
	kind Kind
	resp Response
	err  error
}

// Continue lets the next stage handle the request.
func Continue() Result {
	return Result{kind: KindContinue}
}

// Respond short-circuits the pipeline with a response. header may be nil.
func Respond(status int, payload any, header http.Header) Result {
	return Result{kind: KindRespond, resp: Response{Status: status, Payload: payload, Header: header}}
}

// Reply is Respond without extra headers.
func Reply(status int, payload any) Result {
	return Respond(status, payload, nil)
}

// Fail short-circuits the pipeline with an internal error.
func Fail(err error) Result {
	return Result{kind: KindFail, err: err}
}

// Kind reports what the stage decided.
func (r Result) Kind() Kind { return r.kind }

// Response returns the response of a [KindRespond] result.
func (r Result) Response() Response { return r.resp }

// Err returns the error of a [KindFail] result.
func (r Result) Err() error { return r.err }
