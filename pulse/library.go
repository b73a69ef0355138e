package pulse

import (
	"math"
	"reflect"
)

// BlockResolver looks up blocks by name.
type BlockResolver interface {
	Block(name string) (*Block, bool)
}

// EnsembleResolver looks up ensembles by name.
type EnsembleResolver interface {
	Ensemble(name string) (*Ensemble, bool)
}

// Library is an immutable snapshot of named blocks, ensembles and sequences.
// The sampler only ever reads from a Library; stores hand out deep copies.
type Library struct {
	Blocks    map[string]*Block
	Ensembles map[string]*Ensemble
	Sequences map[string]*Sequence
}

// NewLibrary indexes the provided entities by name.
func NewLibrary(blocks []*Block, ensembles []*Ensemble, sequences []*Sequence) *Library {
	lib := &Library{
		Blocks:    make(map[string]*Block, len(blocks)),
		Ensembles: make(map[string]*Ensemble, len(ensembles)),
		Sequences: make(map[string]*Sequence, len(sequences)),
	}
	for _, b := range blocks {
		lib.Blocks[b.Name()] = b
	}
	for _, e := range ensembles {
		lib.Ensembles[e.Name()] = e
	}
	for _, s := range sequences {
		lib.Sequences[s.Name()] = s
	}
	return lib
}

// Block implements BlockResolver.
func (l *Library) Block(name string) (*Block, bool) {
	if l == nil {
		return nil, false
	}
	b, ok := l.Blocks[name]
	return b, ok
}

// Ensemble implements EnsembleResolver.
func (l *Library) Ensemble(name string) (*Ensemble, bool) {
	if l == nil {
		return nil, false
	}
	e, ok := l.Ensembles[name]
	return e, ok
}

// Sequence looks up a sequence by name.
func (l *Library) Sequence(name string) (*Sequence, bool) {
	if l == nil {
		return nil, false
	}
	s, ok := l.Sequences[name]
	return s, ok
}

// cloneInfo deep copies an info map into the shape it has after a JSON round
// trip: nested maps become map[string]interface{}, slices []interface{}, and
// numbers int64 when integral, float64 otherwise.
func cloneInfo(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool:
		return v
	case map[string]interface{}:
		return cloneInfo(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return unsignedValue(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return unsignedValue(val)
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = cloneValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = cloneValue(iter.Value().Interface())
		}
		return out
	default:
		return v
	}
}

func unsignedValue(v uint64) interface{} {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}

// floatValue keeps integral floats as int64, matching how DecodeJSON reads
// them back.
func floatValue(v float64) interface{} {
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return int64(v)
	}
	return v
}

func infoEqual(a, b map[string]interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
