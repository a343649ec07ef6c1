package api

// Projection maps output field names to source field names.
type Projection map[string]string

// Fields builds a projection that copies each name unchanged.
func Fields(names ...string) Projection {
	p := make(Projection, len(names))
	for _, name := range names {
		p[name] = name
	}

	return p
}

// Rename adds an output field taken from a differently named source field.
func (p Projection) Rename(out, src string) Projection {
	p[out] = src

	return p
}

// Apply returns a new object holding the projected fields of src. Fields
// missing from src are left out.
func (p Projection) Apply(src map[string]any) map[string]any {
	out := make(map[string]any, len(p))

	for name, from := range p {
		v, ok := src[from]
		if !ok {
			continue
		}

		out[name] = v
	}

	return out
}

var (
	userView  = Fields("name", "address", "orders", "email").Rename("id", "email")
	tokenView = Fields("userId", "expires").Rename("id", "_id")
)
