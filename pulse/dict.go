package pulse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/timzifer/pulsed/waveform"
)

// ToMap renders the persisted dictionary form of an element.
func (e Element) ToMap() map[string]interface{} {
	analog := make(map[string]interface{}, len(e.analog))
	for id, prim := range e.analog {
		analog[id.String()] = prim.ToMap()
	}
	digital := make(map[string]interface{}, len(e.digital))
	for id, level := range e.digital {
		digital[id.String()] = level
	}
	return map[string]interface{}{
		"length_bins":    e.lengthBins,
		"increment_bins": e.incrementBins,
		"analog":         analog,
		"digital":        digital,
		"is_tick":        e.isTick,
	}
}

// ElementFromMap decodes the form produced by Element.ToMap.
func ElementFromMap(raw map[string]interface{}) (Element, error) {
	length, err := toUint64(raw["length_bins"])
	if err != nil {
		return Element{}, fmt.Errorf("length_bins: %w", err)
	}
	increment, err := toInt64(raw["increment_bins"])
	if err != nil {
		return Element{}, fmt.Errorf("increment_bins: %w", err)
	}
	isTick, err := optionalBool(raw["is_tick"])
	if err != nil {
		return Element{}, fmt.Errorf("is_tick: %w", err)
	}
	analog := make(map[ChannelID]waveform.Primitive)
	rawAnalog, err := asMap(raw["analog"])
	if err != nil {
		return Element{}, fmt.Errorf("analog: %w", err)
	}
	for key, value := range rawAnalog {
		id, err := ParseChannelID(key)
		if err != nil {
			return Element{}, err
		}
		primMap, err := asMap(value)
		if err != nil {
			return Element{}, fmt.Errorf("analog %s: %w", key, err)
		}
		prim, err := waveform.FromMap(primMap)
		if err != nil {
			return Element{}, fmt.Errorf("analog %s: %w", key, err)
		}
		analog[id] = prim
	}
	digital := make(map[ChannelID]bool)
	rawDigital, err := asMap(raw["digital"])
	if err != nil {
		return Element{}, fmt.Errorf("digital: %w", err)
	}
	for key, value := range rawDigital {
		id, err := ParseChannelID(key)
		if err != nil {
			return Element{}, err
		}
		level, ok := value.(bool)
		if !ok {
			return Element{}, fmt.Errorf("digital %s: expected bool, got %T", key, value)
		}
		digital[id] = level
	}
	return NewElement(length, increment, analog, digital, isTick)
}

// ToMap renders the persisted dictionary form of a block.
func (b *Block) ToMap() map[string]interface{} {
	elements := make([]interface{}, len(b.elements))
	for i, el := range b.elements {
		elements[i] = el.ToMap()
	}
	return map[string]interface{}{
		"name":     b.name,
		"elements": elements,
	}
}

// BlockFromMap decodes the form produced by Block.ToMap.
func BlockFromMap(raw map[string]interface{}) (*Block, error) {
	name, ok := raw["name"].(string)
	if !ok {
		return nil, fmt.Errorf("block name must be a string, got %T", raw["name"])
	}
	items, err := asSlice(raw["elements"])
	if err != nil {
		return nil, fmt.Errorf("block %s elements: %w", name, err)
	}
	elements := make([]Element, len(items))
	for i, item := range items {
		m, err := asMap(item)
		if err != nil {
			return nil, &ElementError{Block: name, Element: i, Err: err}
		}
		el, err := ElementFromMap(m)
		if err != nil {
			return nil, &ElementError{Block: name, Element: i, Err: err}
		}
		elements[i] = el
	}
	return NewBlock(name, elements...)
}

// ToMap renders the persisted dictionary form of an ensemble.
func (e *Ensemble) ToMap() map[string]interface{} {
	steps := make([]interface{}, len(e.steps))
	for i, step := range e.steps {
		steps[i] = map[string]interface{}{
			"block":       step.Block,
			"repetitions": step.Repetitions,
		}
	}
	return map[string]interface{}{
		"name":             e.name,
		"steps":            steps,
		"sample_rate_hz":   e.sampleRateHz,
		"channel_set":      e.channelSet.Strings(),
		"rotating_frame":   e.rotatingFrame,
		"sampling_info":    infoOrEmpty(e.samplingInfo),
		"measurement_info": infoOrEmpty(e.measurementInfo),
	}
}

// EnsembleFromMap decodes the form produced by Ensemble.ToMap.
func EnsembleFromMap(raw map[string]interface{}) (*Ensemble, error) {
	name, ok := raw["name"].(string)
	if !ok {
		return nil, fmt.Errorf("ensemble name must be a string, got %T", raw["name"])
	}
	rate, err := toFloat(raw["sample_rate_hz"])
	if err != nil {
		return nil, fmt.Errorf("ensemble %s sample_rate_hz: %w", name, err)
	}
	channels, err := channelSetFrom(raw["channel_set"])
	if err != nil {
		return nil, fmt.Errorf("ensemble %s channel_set: %w", name, err)
	}
	rotating, err := optionalBool(raw["rotating_frame"])
	if err != nil {
		return nil, fmt.Errorf("ensemble %s rotating_frame: %w", name, err)
	}
	items, err := asSlice(raw["steps"])
	if err != nil {
		return nil, fmt.Errorf("ensemble %s steps: %w", name, err)
	}
	steps := make([]BlockStep, len(items))
	for i, item := range items {
		m, err := asMap(item)
		if err != nil {
			return nil, fmt.Errorf("ensemble %s step %d: %w", name, i, err)
		}
		block, ok := m["block"].(string)
		if !ok {
			return nil, fmt.Errorf("ensemble %s step %d: block must be a string", name, i)
		}
		reps, err := toUint64(m["repetitions"])
		if err != nil || reps > math.MaxUint32 {
			return nil, fmt.Errorf("ensemble %s step %d: invalid repetitions %v", name, i, m["repetitions"])
		}
		steps[i] = BlockStep{Block: block, Repetitions: uint32(reps)}
	}
	ens, err := NewEnsemble(name, rate, channels, rotating, steps...)
	if err != nil {
		return nil, err
	}
	if ens.samplingInfo, err = infoFrom(raw["sampling_info"]); err != nil {
		return nil, fmt.Errorf("ensemble %s sampling_info: %w", name, err)
	}
	if ens.measurementInfo, err = infoFrom(raw["measurement_info"]); err != nil {
		return nil, fmt.Errorf("ensemble %s measurement_info: %w", name, err)
	}
	return ens, nil
}

// ToMap renders the persisted dictionary form of a sequence.
func (s *Sequence) ToMap() map[string]interface{} {
	steps := make([]interface{}, len(s.steps))
	for i, step := range s.steps {
		steps[i] = map[string]interface{}{
			"ensemble":      step.Ensemble,
			"repetitions":   step.Params.Repetitions,
			"go_to":         step.Params.GoTo,
			"event_jump_to": step.Params.EventJumpTo,
			"wait_for":      step.Params.WaitFor,
			"flag_high":     step.Params.FlagHigh,
		}
	}
	return map[string]interface{}{
		"name":             s.name,
		"steps":            steps,
		"rotating_frame":   s.rotatingFrame,
		"sampling_info":    infoOrEmpty(s.samplingInfo),
		"measurement_info": infoOrEmpty(s.measurementInfo),
	}
}

// SequenceFromMap decodes the form produced by Sequence.ToMap. Missing step
// parameters take their DefaultStepParams values.
func SequenceFromMap(raw map[string]interface{}) (*Sequence, error) {
	name, ok := raw["name"].(string)
	if !ok {
		return nil, fmt.Errorf("sequence name must be a string, got %T", raw["name"])
	}
	rotating, err := optionalBool(raw["rotating_frame"])
	if err != nil {
		return nil, fmt.Errorf("sequence %s rotating_frame: %w", name, err)
	}
	items, err := asSlice(raw["steps"])
	if err != nil {
		return nil, fmt.Errorf("sequence %s steps: %w", name, err)
	}
	steps := make([]SequenceStep, len(items))
	for i, item := range items {
		m, err := asMap(item)
		if err != nil {
			return nil, fmt.Errorf("sequence %s step %d: %w", name, i, err)
		}
		ens, ok := m["ensemble"].(string)
		if !ok {
			return nil, fmt.Errorf("sequence %s step %d: ensemble must be a string", name, i)
		}
		params := DefaultStepParams()
		fields := []struct {
			key string
			dst *int32
		}{
			{"repetitions", &params.Repetitions},
			{"go_to", &params.GoTo},
			{"event_jump_to", &params.EventJumpTo},
			{"wait_for", &params.WaitFor},
			{"flag_high", &params.FlagHigh},
		}
		for _, f := range fields {
			value, present := m[f.key]
			if !present {
				continue
			}
			v, err := toInt64(value)
			if err != nil || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("sequence %s step %d: invalid %s %v", name, i, f.key, value)
			}
			*f.dst = int32(v)
		}
		steps[i] = SequenceStep{Ensemble: ens, Params: params}
	}
	seq, err := NewSequence(name, rotating, steps...)
	if err != nil {
		return nil, err
	}
	if seq.samplingInfo, err = infoFrom(raw["sampling_info"]); err != nil {
		return nil, fmt.Errorf("sequence %s sampling_info: %w", name, err)
	}
	if seq.measurementInfo, err = infoFrom(raw["measurement_info"]); err != nil {
		return nil, fmt.Errorf("sequence %s measurement_info: %w", name, err)
	}
	return seq, nil
}

func infoOrEmpty(info map[string]interface{}) map[string]interface{} {
	if info == nil {
		return map[string]interface{}{}
	}
	return cloneInfo(info)
}

func infoFrom(raw interface{}) (map[string]interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return cloneInfo(m), nil
}

func channelSetFrom(raw interface{}) (ChannelSet, error) {
	switch v := raw.(type) {
	case nil:
		return ChannelSet{}, nil
	case []string:
		return ParseChannelSet(v)
	case []interface{}:
		names := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected channel descriptor string, got %T", item)
			}
			names[i] = s
		}
		return ParseChannelSet(names)
	default:
		return nil, fmt.Errorf("expected list of channel descriptors, got %T", raw)
	}
}

func asMap(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case map[string]bool:
		out := make(map[string]interface{}, len(v))
		for k, b := range v {
			out[k] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected mapping, got %T", raw)
	}
}

func asSlice(raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", raw)
	}
}

func optionalBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("expected bool, got %T", raw)
	}
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
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

func toInt64(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, fmt.Errorf("expected integral number, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func toUint64(raw interface{}) (uint64, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	default:
		i, err := toInt64(raw)
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, fmt.Errorf("expected non-negative integer, got %d", i)
		}
		return uint64(i), nil
	}
}

// MarshalJSON encodes the persisted dictionary form.
func (b *Block) MarshalJSON() ([]byte, error) { return json.Marshal(b.ToMap()) }

// MarshalJSON encodes the persisted dictionary form.
func (e *Ensemble) MarshalJSON() ([]byte, error) { return json.Marshal(e.ToMap()) }

// MarshalJSON encodes the persisted dictionary form.
func (s *Sequence) MarshalJSON() ([]byte, error) { return json.Marshal(s.ToMap()) }

// DecodeJSON parses a JSON document into a generic dictionary, keeping
// integers exact.
func DecodeJSON(data []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return normalizeNumbers(raw).(map[string]interface{}), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val[k] = normalizeNumbers(val[k])
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}
