package schema

// Target is the document surface visible to virtual getters and setters.
type Target interface {
	Get(path string) any
	Set(path string, v any) error
}

// VirtualGetter computes a virtual value. prev is the result of the previous
// getter in the chain (nil for the first).
type VirtualGetter func(prev any, doc Target) any

// VirtualSetter receives the assigned value, may write real paths through doc,
// and returns the value handed to the next setter in the chain.
type VirtualSetter func(v any, doc Target) (any, error)

// Virtual is a computed, never persisted path.
type Virtual struct {
	Name    string
	getters []VirtualGetter
	setters []VirtualSetter
	auto    bool
}

// Get appends a getter.
func (v *Virtual) Get(fn VirtualGetter) *Virtual {
	v.getters = append(v.getters, fn)
	return v
}

// Set appends a setter.
func (v *Virtual) Set(fn VirtualSetter) *Virtual {
	v.setters = append(v.setters, fn)
	return v
}

// HasGetters reports whether a getter chain exists.
func (v *Virtual) HasGetters() bool { return len(v.getters) > 0 }

// ApplyGetters evaluates the getter chain in registration order.
func (v *Virtual) ApplyGetters(doc Target) any {
	var out any
	for _, g := range v.getters {
		out = g(out, doc)
	}
	return out
}

// ApplySetters runs the setter chain in registration order. Virtuals without
// setters ignore assignments.
func (v *Virtual) ApplySetters(val any, doc Target) error {
	for _, s := range v.setters {
		next, err := s(val, doc)
		if err != nil {
			return err
		}
		val = next
	}
	return nil
}

func (v *Virtual) clone() *Virtual {
	return &Virtual{
		Name:    v.Name,
		getters: append([]VirtualGetter(nil), v.getters...),
		setters: append([]VirtualSetter(nil), v.setters...),
	}
}

// idGetter backs the read-only id virtual.
func idGetter(_ any, doc Target) any {
	switch id := doc.Get("_id").(type) {
	case ObjectID:
		return id.Hex()
	case nil:
		return nil
	case interface{ String() string }:
		return id.String()
	default:
		return id
	}
}
