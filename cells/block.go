package cells

import (
	"fmt"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

type field int

const (
	fieldLength field = iota
	fieldIncrement
	fieldTick
	fieldDigital
	fieldKind
	fieldParam
)

type binding struct {
	field   field
	channel pulse.ChannelID
	param   string
}

// BlockTable exposes the elements of a block as typed rows. Writes replace
// the affected element, so the block's channel set invariant is enforced on
// every edit.
type BlockTable struct {
	block    *pulse.Block
	columns  []Column
	bindings []binding
}

var _ Accessor = (*BlockTable)(nil)

// NewBlockTable builds the column layout from the block's channel set: timing
// and tick columns, one level column per digital channel, and per analog
// channel a primitive column followed by one column per known parameter.
func NewBlockTable(block *pulse.Block) *BlockTable {
	t := &BlockTable{block: block}
	t.add(Column{Name: "length_bins", Kind: KindInteger}, binding{field: fieldLength})
	t.add(Column{Name: "increment_bins", Kind: KindInteger}, binding{field: fieldIncrement})
	t.add(Column{Name: "is_tick", Kind: KindBool}, binding{field: fieldTick})
	params := parameterNames()
	for _, id := range block.ChannelSet() {
		if id.Kind == pulse.Digital {
			t.add(Column{Name: id.String(), Kind: KindBool}, binding{field: fieldDigital, channel: id})
			continue
		}
		t.add(Column{Name: id.String(), Kind: KindString}, binding{field: fieldKind, channel: id})
		for _, name := range params {
			t.add(Column{Name: id.String() + "." + name, Kind: KindNumber}, binding{field: fieldParam, channel: id, param: name})
		}
	}
	return t
}

func parameterNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, kind := range waveform.Kinds() {
		schema, _ := waveform.Schema(kind)
		for _, p := range schema {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}
	return names
}

func (t *BlockTable) add(col Column, b binding) {
	t.columns = append(t.columns, col)
	t.bindings = append(t.bindings, b)
}

// Block returns the edited block.
func (t *BlockTable) Block() *pulse.Block { return t.block }

// Rows returns the number of elements.
func (t *BlockTable) Rows() int { return t.block.Len() }

// Columns returns the column declarations.
func (t *BlockTable) Columns() []Column { return append([]Column(nil), t.columns...) }

// ColumnIndex looks up a column by name.
func (t *BlockTable) ColumnIndex(name string) (int, bool) {
	for i, col := range t.columns {
		if col.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Get returns the value of a cell. Parameters the channel's current
// primitive does not define read as 0.
func (t *BlockTable) Get(row, col int) (interface{}, error) {
	el, b, err := t.cell(row, col)
	if err != nil {
		return nil, err
	}
	switch b.field {
	case fieldLength:
		return int64(el.LengthBins()), nil
	case fieldIncrement:
		return el.IncrementBins(), nil
	case fieldTick:
		return el.IsTick(), nil
	case fieldDigital:
		level, _ := el.Digital(b.channel)
		return level, nil
	case fieldKind:
		prim, _ := el.Analog(b.channel)
		return string(prim.Kind()), nil
	default:
		prim, _ := el.Analog(b.channel)
		v, _ := prim.Param(b.param)
		return v, nil
	}
}

// Set writes a cell. The value must match the column kind exactly.
func (t *BlockTable) Set(row, col int, value interface{}) error {
	el, b, err := t.cell(row, col)
	if err != nil {
		return err
	}
	column := t.columns[col]
	v, err := Normalize(column.Kind, value)
	if err != nil {
		return &TypeMismatchError{Row: row, Column: column.Name, Want: column.Kind, Got: fmt.Sprintf("%T", value)}
	}

	var next pulse.Element
	switch b.field {
	case fieldLength:
		length := v.(int64)
		if length <= 0 {
			return fmt.Errorf("cell (%d, %s): length must be positive", row, column.Name)
		}
		next, err = el.WithLength(uint64(length), el.IncrementBins())
	case fieldIncrement:
		next, err = el.WithLength(el.LengthBins(), v.(int64))
	case fieldTick:
		next = el.WithTick(v.(bool))
	case fieldDigital:
		next, err = el.WithDigital(b.channel, v.(bool))
	case fieldKind:
		var prim waveform.Primitive
		prim, err = switchKind(el, b.channel, v.(string))
		if err == nil {
			next, err = el.WithAnalog(b.channel, prim)
		}
	default:
		prim, _ := el.Analog(b.channel)
		prim, err = prim.WithParam(b.param, v.(float64))
		if err == nil {
			next, err = el.WithAnalog(b.channel, prim)
		}
	}
	if err != nil {
		return &pulse.ElementError{Block: t.block.Name(), Element: row, Err: err}
	}
	return t.block.Replace(row, next)
}

// switchKind replaces the primitive kind, keeping every parameter value the
// old and new schema share.
func switchKind(el pulse.Element, id pulse.ChannelID, name string) (waveform.Primitive, error) {
	kind, err := waveform.ParseKind(name)
	if err != nil {
		return waveform.Primitive{}, err
	}
	old, _ := el.Analog(id)
	if old.Kind() == kind {
		return old, nil
	}
	prim, err := waveform.Default(kind)
	if err != nil {
		return waveform.Primitive{}, err
	}
	for pname, value := range old.Params() {
		if carried, err := prim.WithParam(pname, value); err == nil {
			prim = carried
		}
	}
	return prim, nil
}

func (t *BlockTable) cell(row, col int) (pulse.Element, binding, error) {
	if col < 0 || col >= len(t.columns) {
		return pulse.Element{}, binding{}, fmt.Errorf("column %d out of range", col)
	}
	el, err := t.block.Element(row)
	if err != nil {
		return pulse.Element{}, binding{}, err
	}
	return el, t.bindings[col], nil
}
