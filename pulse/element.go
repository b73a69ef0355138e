package pulse

import (
	"fmt"

	"github.com/timzifer/pulsed/waveform"
)

// Element is one atomic timed instruction of a block. Its channel set is fixed
// at construction; the With* helpers return modified copies.
type Element struct {
	lengthBins    uint64
	incrementBins int64
	analog        map[ChannelID]waveform.Primitive
	digital       map[ChannelID]bool
	isTick        bool
	channels      ChannelSet
}

// NewElement validates and builds an element.
func NewElement(lengthBins uint64, incrementBins int64, analog map[ChannelID]waveform.Primitive, digital map[ChannelID]bool, isTick bool) (Element, error) {
	if len(analog) == 0 && len(digital) == 0 {
		return Element{}, &EmptyChannelSetError{}
	}
	if lengthBins == 0 {
		return Element{}, &waveform.ParameterError{Kind: "Element", Parameter: "length_bins", Reason: "must be greater than zero"}
	}
	ids := make([]ChannelID, 0, len(analog)+len(digital))
	a := make(map[ChannelID]waveform.Primitive, len(analog))
	for id, prim := range analog {
		if id.Kind != Analog {
			return Element{}, fmt.Errorf("channel %s used as analog channel", id)
		}
		a[id] = prim
		ids = append(ids, id)
	}
	d := make(map[ChannelID]bool, len(digital))
	for id, level := range digital {
		if id.Kind != Digital {
			return Element{}, fmt.Errorf("channel %s used as digital channel", id)
		}
		d[id] = level
		ids = append(ids, id)
	}
	return Element{
		lengthBins:    lengthBins,
		incrementBins: incrementBins,
		analog:        a,
		digital:       d,
		isTick:        isTick,
		channels:      NewChannelSet(ids...),
	}, nil
}

// MustElement is like NewElement but panics on error.
func MustElement(lengthBins uint64, incrementBins int64, analog map[ChannelID]waveform.Primitive, digital map[ChannelID]bool, isTick bool) Element {
	el, err := NewElement(lengthBins, incrementBins, analog, digital, isTick)
	if err != nil {
		panic(err)
	}
	return el
}

// LengthBins returns the length of the first play.
func (e Element) LengthBins() uint64 { return e.lengthBins }

// IncrementBins returns the per-repetition length change.
func (e Element) IncrementBins() int64 { return e.incrementBins }

// IsTick reports whether the element carries the swept variable.
func (e Element) IsTick() bool { return e.isTick }

// ChannelSet returns the channels driven by the element.
func (e Element) ChannelSet() ChannelSet { return e.channels }

// Analog returns the primitive driving an analog channel.
func (e Element) Analog(id ChannelID) (waveform.Primitive, bool) {
	prim, ok := e.analog[id]
	return prim, ok
}

// Digital returns the level of a digital channel.
func (e Element) Digital(id ChannelID) (level bool, ok bool) {
	level, ok = e.digital[id]
	return level, ok
}

// AnalogMap returns a copy of the analog channel assignment.
func (e Element) AnalogMap() map[ChannelID]waveform.Primitive {
	out := make(map[ChannelID]waveform.Primitive, len(e.analog))
	for id, prim := range e.analog {
		out[id] = prim
	}
	return out
}

// DigitalMap returns a copy of the digital channel levels.
func (e Element) DigitalMap() map[ChannelID]bool {
	out := make(map[ChannelID]bool, len(e.digital))
	for id, level := range e.digital {
		out[id] = level
	}
	return out
}

// LengthAt returns the length in bins of play k (0-based).
func (e Element) LengthAt(k uint32) (uint64, bool) {
	length := int64(e.lengthBins) + int64(k)*e.incrementBins
	if length < 0 {
		return 0, false
	}
	return uint64(length), true
}

// WithAnalog replaces the primitive of an existing analog channel.
func (e Element) WithAnalog(id ChannelID, prim waveform.Primitive) (Element, error) {
	if _, ok := e.analog[id]; !ok {
		return Element{}, fmt.Errorf("element does not drive analog channel %s", id)
	}
	analog := e.AnalogMap()
	analog[id] = prim
	return NewElement(e.lengthBins, e.incrementBins, analog, e.digital, e.isTick)
}

// WithDigital replaces the level of an existing digital channel.
func (e Element) WithDigital(id ChannelID, level bool) (Element, error) {
	if _, ok := e.digital[id]; !ok {
		return Element{}, fmt.Errorf("element does not drive digital channel %s", id)
	}
	digital := e.DigitalMap()
	digital[id] = level
	return NewElement(e.lengthBins, e.incrementBins, e.analog, digital, e.isTick)
}

// WithLength replaces the timing of the element.
func (e Element) WithLength(lengthBins uint64, incrementBins int64) (Element, error) {
	return NewElement(lengthBins, incrementBins, e.analog, e.digital, e.isTick)
}

// WithTick sets the tick flag.
func (e Element) WithTick(isTick bool) Element {
	out := e
	out.isTick = isTick
	return out
}

// Equal compares timing, tick flag and every channel assignment.
func (e Element) Equal(other Element) bool {
	if e.lengthBins != other.lengthBins || e.incrementBins != other.incrementBins || e.isTick != other.isTick {
		return false
	}
	if !e.channels.Equal(other.channels) {
		return false
	}
	for id, level := range e.digital {
		if other.digital[id] != level {
			return false
		}
	}
	for id, prim := range e.analog {
		if !prim.Equal(other.analog[id]) {
			return false
		}
	}
	return true
}
