package waveform

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind identifies one of the analog waveform primitives.
type Kind string

const (
	// KindIdle outputs zero.
	KindIdle Kind = "Idle"
	// KindDC outputs a constant amplitude.
	KindDC Kind = "DC"
	// KindSin outputs a single sine.
	KindSin Kind = "Sin"
	// KindCos outputs a single cosine.
	KindCos Kind = "Cos"
	// KindDoubleSin outputs the sum of two sines.
	KindDoubleSin Kind = "DoubleSin"
	// KindTripleSin outputs the sum of three sines.
	KindTripleSin Kind = "TripleSin"
	// KindChirp outputs a linear frequency sweep across the element window.
	KindChirp Kind = "Chirp"
)

// Parameter describes a single entry of a primitive's parameter schema.
type Parameter struct {
	Name    string
	Unit    string
	Default float64
	Min     float64
	Max     float64
}

var kindOrder = []Kind{KindIdle, KindDC, KindSin, KindCos, KindDoubleSin, KindTripleSin, KindChirp}

var schemas = map[Kind][]Parameter{
	KindIdle: nil,
	KindDC: {
		{Name: "amplitude", Unit: "V", Default: 0, Min: math.Inf(-1), Max: math.Inf(1)},
	},
	KindSin:       oscillator(""),
	KindCos:       oscillator(""),
	KindDoubleSin: append(oscillator("_1"), oscillator("_2")...),
	KindTripleSin: append(append(oscillator("_1"), oscillator("_2")...), oscillator("_3")...),
	KindChirp: {
		{Name: "amplitude", Unit: "V", Default: 0, Min: 0, Max: math.Inf(1)},
		{Name: "start_frequency", Unit: "Hz", Default: 2.87e9, Min: 0, Max: math.Inf(1)},
		{Name: "stop_frequency", Unit: "Hz", Default: 2.87e9, Min: 0, Max: math.Inf(1)},
		{Name: "phase", Unit: "turn", Default: 0, Min: -1, Max: 1},
	},
}

func oscillator(suffix string) []Parameter {
	return []Parameter{
		{Name: "amplitude" + suffix, Unit: "V", Default: 0, Min: 0, Max: math.Inf(1)},
		{Name: "frequency" + suffix, Unit: "Hz", Default: 2.87e9, Min: 0, Max: math.Inf(1)},
		{Name: "phase" + suffix, Unit: "turn", Default: 0, Min: -1, Max: 1},
	}
}

// Kinds returns all known primitive kinds in registry order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// ParseKind resolves a primitive name as found in persisted documents.
func ParseKind(name string) (Kind, error) {
	trimmed := strings.TrimSpace(name)
	for _, kind := range kindOrder {
		if string(kind) == trimmed {
			return kind, nil
		}
	}
	return "", &UnknownPrimitiveError{Name: name}
}

// Schema returns the ordered parameter schema of a primitive kind.
func Schema(kind Kind) ([]Parameter, error) {
	params, ok := schemas[kind]
	if !ok {
		return nil, &UnknownPrimitiveError{Name: string(kind)}
	}
	out := make([]Parameter, len(params))
	copy(out, params)
	return out, nil
}

// Evaluate samples a primitive over the provided time axis (seconds).
//
// It is pure and does not retain the inputs. Every parameter of the kind's
// schema must be present in params.
func Evaluate(kind Kind, t []float64, params map[string]float64) ([]float64, error) {
	prim, err := New(kind, params)
	if err != nil {
		return nil, err
	}
	return prim.Samples(t), nil
}

func evaluate(kind Kind, t []float64, values []float64) []float64 {
	out := make([]float64, len(t))
	switch kind {
	case KindIdle:
	case KindDC:
		for i := range out {
			out[i] = values[0]
		}
	case KindSin:
		addSine(out, t, values[0], values[1], values[2], math.Sin)
	case KindCos:
		addSine(out, t, values[0], values[1], values[2], math.Cos)
	case KindDoubleSin, KindTripleSin:
		for i := 0; i+2 < len(values); i += 3 {
			addSine(out, t, values[i], values[i+1], values[i+2], math.Sin)
		}
	case KindChirp:
		chirp(out, t, values[0], values[1], values[2], values[3])
	}
	return out
}

func addSine(dst, t []float64, amplitude, frequency, phase float64, fn func(float64) float64) {
	if amplitude == 0 {
		return
	}
	omega := 2 * math.Pi * frequency
	offset := 2 * math.Pi * phase
	for i, ts := range t {
		dst[i] += amplitude * fn(omega*ts+offset)
	}
}

func chirp(dst, t []float64, amplitude, start, stop, phase float64) {
	if len(t) == 0 || amplitude == 0 {
		return
	}
	t0 := t[0]
	window := t[len(t)-1] - t0
	sweep := 0.0
	if window > 0 {
		sweep = (stop - start) / window / 2
	}
	offset := 2 * math.Pi * phase
	for i, ts := range t {
		tau := ts - t0
		dst[i] = amplitude * math.Sin(2*math.Pi*tau*(start+sweep*tau)+offset)
	}
}

// UnknownPrimitiveError reports a primitive name outside the registry.
type UnknownPrimitiveError struct {
	Name string
}

func (e *UnknownPrimitiveError) Error() string {
	return fmt.Sprintf("unknown waveform primitive %q", e.Name)
}

// ParameterError reports a missing, unknown or out-of-range primitive parameter.
type ParameterError struct {
	Kind      Kind
	Parameter string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s parameter %q: %s", e.Kind, e.Parameter, e.Reason)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
