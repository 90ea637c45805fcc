package inference

// Results holds one inference call's raw outputs keyed by output tensor name. Only the
// configured output names are accepted.
type Results struct {
	names []string
	data  map[string][]float32
}

// NewResults creates an empty store for the given output names.
func NewResults(outputNames []string) *Results {
	return &Results{
		names: append([]string(nil), outputNames...),
		data:  make(map[string][]float32, len(outputNames)),
	}
}

// Names returns the accepted output names in configuration order.
func (r *Results) Names() []string {
	return append([]string(nil), r.names...)
}

// Set stores a copy of values under name. Unknown names are ignored.
//
// Arguments:
//   - name: An output tensor name.
//   - values: The raw values.
//
// Returns:
//   - bool: False if the name is not a configured output.
func (r *Results) Set(name string, values []float32) bool {
	if !r.accepts(name) {
		return false
	}
	r.data[name] = append([]float32(nil), values...)
	return true
}

// Get returns the values stored under name.
func (r *Results) Get(name string) ([]float32, bool) {
	if !r.accepts(name) {
		return nil, false
	}
	v, ok := r.data[name]
	return v, ok
}

// Clear drops every stored output.
func (r *Results) Clear() {
	clear(r.data)
}

func (r *Results) accepts(name string) bool {
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}
