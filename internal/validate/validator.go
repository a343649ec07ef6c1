// Package validate builds pipeline stages that check request fields against
// a schema of predicates.
//
//	stage := validate.Validator(validate.Schema{
//		{Name: "productId", Predicates: []validate.Predicate{validate.Required, validate.String}},
//		{Name: "value", Predicates: []validate.Predicate{validate.Required, validate.Number, validate.Gte(1), validate.Integer}},
//	})
//
// Each field is checked by its predicates in order and the first failure is
// reported for that field. Other fields are still checked. If any field
// failed, the stage responds with an error whose details map field names to
// messages.
package validate

import (
	"context"
	"maps"
	"net/http"
	"slices"

	"github.com/calvinalkan/shop/internal/pipeline"
)

// Default failure response.
const (
	DefaultStatus  = http.StatusUnprocessableEntity
	DefaultMessage = "Entry is invalid"
)

// Field is one schema entry.
type Field struct {
	Name       string
	Predicates []Predicate
}

// F is shorthand for a [Field].
func F(name string, preds ...Predicate) Field {
	return Field{Name: name, Predicates: preds}
}

// Schema is an ordered list of fields.
type Schema []Field

// SchemaOf builds a schema from a map, ordered by field name.
func SchemaOf(fields map[string][]Predicate) Schema {
	schema := make(Schema, 0, len(fields))
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		schema = append(schema, Field{Name: name, Predicates: fields[name]})
	}

	return schema
}

// Check validates obj and returns field name to message for every failing
// field, or nil if all passed.
func (s Schema) Check(obj map[string]any) map[string]any {
	var errs map[string]any

	for _, field := range s {
		if _, failed := errs[field.Name]; failed {
			continue
		}

		value, present := obj[field.Name]

		for _, p := range field.Predicates {
			msg, failed := p.Check(value, present, field.Name, obj)
			if !failed {
				continue
			}

			if errs == nil {
				errs = make(map[string]any)
			}

			errs[field.Name] = msg

			break
		}
	}

	return errs
}

// ExtractFunc selects the object to validate from the request.
type ExtractFunc func(req *pipeline.Request) map[string]any

// MergeFunc stores the validated object back on the request.
type MergeFunc func(req *pipeline.Request, obj map[string]any)

type options struct {
	extract ExtractFunc
	merge   MergeFunc
	status  int
	message string
}

// Option configures a validator.
type Option func(*options)

// WithExtract sets where the validated data comes from. Default: the body.
func WithExtract(fn ExtractFunc) Option {
	return func(o *options) { o.extract = fn }
}

// WithMerge sets where validated data goes. Default: replaces the body.
func WithMerge(fn MergeFunc) Option {
	return func(o *options) { o.merge = fn }
}

// WithStatus sets the failure status. Default: 422.
func WithStatus(status int) Option {
	return func(o *options) { o.status = status }
}

// WithMessage sets the failure message. Default: "Entry is invalid".
func WithMessage(message string) Option {
	return func(o *options) { o.message = message }
}

// Validator returns a stage that checks the request against schema.
func Validator(schema Schema, opts ...Option) pipeline.Stage {
	o := options{
		extract: extractBody,
		merge:   mergeBody,
		status:  DefaultStatus,
		message: DefaultMessage,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return pipeline.Guard(func(_ context.Context, req *pipeline.Request) pipeline.Result {
		obj := o.extract(req)

		errs := schema.Check(obj)
		if errs != nil {
			return pipeline.Reply(o.status, pipeline.NewError(o.message, errs))
		}

		o.merge(req, obj)

		return pipeline.Continue()
	})
}

// QueryValidator is [Validator] over the query parameters.
func QueryValidator(schema Schema, opts ...Option) pipeline.Stage {
	return Validator(schema, append([]Option{WithExtract(extractQuery), WithMerge(mergeQuery)}, opts...)...)
}

func extractBody(req *pipeline.Request) map[string]any {
	return req.BodyMap()
}

func mergeBody(req *pipeline.Request, obj map[string]any) {
	if obj == nil {
		obj = map[string]any{}
	}

	req.Body = obj
}

func extractQuery(req *pipeline.Request) map[string]any {
	return req.Query
}

func mergeQuery(req *pipeline.Request, obj map[string]any) {
	merged := maps.Clone(req.Query)
	if merged == nil {
		merged = make(map[string]any, len(obj))
	}

	maps.Copy(merged, obj)
	req.Query = merged
}
