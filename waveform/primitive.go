package waveform

import (
	"fmt"
	"math"
	"strings"
)

// Primitive is an immutable waveform primitive instance: a kind plus its
// parameter values in schema order.
type Primitive struct {
	kind   Kind
	values []float64
}

// New validates params against the kind's schema and builds a primitive.
// Parameters outside the schema and missing parameters are rejected.
func New(kind Kind, params map[string]float64) (Primitive, error) {
	schema, ok := schemas[kind]
	if !ok {
		return Primitive{}, &UnknownPrimitiveError{Name: string(kind)}
	}
	known := make(map[string]struct{}, len(schema))
	values := make([]float64, len(schema))
	for i, param := range schema {
		known[param.Name] = struct{}{}
		v, ok := params[param.Name]
		if !ok {
			return Primitive{}, &ParameterError{Kind: kind, Parameter: param.Name, Reason: "missing"}
		}
		if err := checkValue(kind, param, v); err != nil {
			return Primitive{}, err
		}
		values[i] = v
	}
	for _, name := range sortedKeys(params) {
		if _, ok := known[name]; !ok {
			return Primitive{}, &ParameterError{Kind: kind, Parameter: name, Reason: "not part of schema"}
		}
	}
	return Primitive{kind: kind, values: values}, nil
}

// Default builds a primitive with every parameter at its schema default.
func Default(kind Kind) (Primitive, error) {
	schema, ok := schemas[kind]
	if !ok {
		return Primitive{}, &UnknownPrimitiveError{Name: string(kind)}
	}
	values := make([]float64, len(schema))
	for i, param := range schema {
		values[i] = param.Default
	}
	return Primitive{kind: kind, values: values}, nil
}

// Idle returns the zero-output primitive.
func Idle() Primitive {
	return Primitive{kind: KindIdle}
}

// MustNew is like New but panics on error. Intended for tests and static tables.
func MustNew(kind Kind, params map[string]float64) Primitive {
	prim, err := New(kind, params)
	if err != nil {
		panic(err)
	}
	return prim
}

func checkValue(kind Kind, param Parameter, v float64) error {
	if math.IsNaN(v) {
		return &ParameterError{Kind: kind, Parameter: param.Name, Reason: "value is NaN"}
	}
	if v < param.Min || v > param.Max {
		return &ParameterError{Kind: kind, Parameter: param.Name, Reason: fmt.Sprintf("value %g outside [%g, %g]", v, param.Min, param.Max)}
	}
	return nil
}

// Kind returns the primitive's tag. The zero Primitive reports Idle.
func (p Primitive) Kind() Kind {
	if p.kind == "" {
		return KindIdle
	}
	return p.kind
}

// IsIdle reports whether the primitive never drives its channel.
func (p Primitive) IsIdle() bool {
	return p.Kind() == KindIdle
}

// IsSilent reports whether the primitive outputs zero everywhere: Idle, or
// every amplitude parameter is zero.
func (p Primitive) IsSilent() bool {
	for i, param := range schemas[p.Kind()] {
		if strings.HasPrefix(param.Name, "amplitude") && p.values[i] != 0 {
			return false
		}
	}
	return true
}

// Params returns a copy of the parameter values keyed by name.
func (p Primitive) Params() map[string]float64 {
	schema := schemas[p.Kind()]
	out := make(map[string]float64, len(schema))
	for i, param := range schema {
		out[param.Name] = p.values[i]
	}
	return out
}

// Param looks up a single parameter value.
func (p Primitive) Param(name string) (float64, bool) {
	for i, param := range schemas[p.Kind()] {
		if param.Name == name {
			return p.values[i], true
		}
	}
	return 0, false
}

// WithParam returns a copy with a single parameter replaced.
func (p Primitive) WithParam(name string, value float64) (Primitive, error) {
	kind := p.Kind()
	for i, param := range schemas[kind] {
		if param.Name != name {
			continue
		}
		if err := checkValue(kind, param, value); err != nil {
			return Primitive{}, err
		}
		values := make([]float64, len(p.values))
		copy(values, p.values)
		values[i] = value
		return Primitive{kind: kind, values: values}, nil
	}
	return Primitive{}, &ParameterError{Kind: kind, Parameter: name, Reason: "not part of schema"}
}

// Equal reports whether both primitives have the same kind and values.
func (p Primitive) Equal(other Primitive) bool {
	if p.Kind() != other.Kind() || len(p.values) != len(other.values) {
		return false
	}
	for i := range p.values {
		if p.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// Samples evaluates the primitive over t (seconds). Callers choose whether t
// is local to the element or absolute within the ensemble.
func (p Primitive) Samples(t []float64) []float64 {
	return evaluate(p.Kind(), t, p.values)
}

// ToMap renders the persisted form {"name": kind, "params": {...}}.
func (p Primitive) ToMap() map[string]interface{} {
	params := make(map[string]interface{}, len(p.values))
	for name, v := range p.Params() {
		params[name] = v
	}
	return map[string]interface{}{
		"name":   string(p.Kind()),
		"params": params,
	}
}

// FromMap decodes the persisted form produced by ToMap.
func FromMap(raw map[string]interface{}) (Primitive, error) {
	name, ok := raw["name"].(string)
	if !ok {
		return Primitive{}, fmt.Errorf("primitive name must be a string, got %T", raw["name"])
	}
	kind, err := ParseKind(name)
	if err != nil {
		return Primitive{}, err
	}
	params := make(map[string]float64)
	switch rawParams := raw["params"].(type) {
	case nil:
	case map[string]interface{}:
		for key, value := range rawParams {
			f, err := toFloat(value)
			if err != nil {
				return Primitive{}, &ParameterError{Kind: kind, Parameter: key, Reason: err.Error()}
			}
			params[key] = f
		}
	case map[string]float64:
		for key, value := range rawParams {
			params[key] = value
		}
	default:
		return Primitive{}, fmt.Errorf("primitive params must be a mapping, got %T", raw["params"])
	}
	return New(kind, params)
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}
