package domain

// Params is an insertion-ordered mapping of parameter names to string values.
// Setting an existing name replaces its value but keeps its position.
// The zero value is an empty mapping ready to use.
type Params struct {
	keys   []string
	values map[string]string
}

// Param is a single name/value pair.
type Param struct {
	Name  string
	Value string
}

// NewParams builds Params from pairs, in order.
func NewParams(pairs ...Param) Params {
	var p Params
	for _, kv := range pairs {
		p.Set(kv.Name, kv.Value)
	}
	return p
}

// Set adds or replaces a parameter.
func (p *Params) Set(name, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, exists := p.values[name]; !exists {
		p.keys = append(p.keys, name)
	}
	p.values[name] = value
}

// Get returns the value for name.
func (p Params) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.keys)
}

// Names returns the parameter names in insertion order.
func (p Params) Names() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Pairs returns the parameters in insertion order.
func (p Params) Pairs() []Param {
	out := make([]Param, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, Param{Name: k, Value: p.values[k]})
	}
	return out
}

// Each calls fn for every parameter in insertion order.
func (p Params) Each(fn func(name, value string)) {
	for _, k := range p.keys {
		fn(k, p.values[k])
	}
}
