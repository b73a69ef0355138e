package pulse

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIndexOutOfRange is returned by list mutations addressing a missing position.
var ErrIndexOutOfRange = errors.New("index out of range")

// EmptyChannelSetError is returned when an element would drive no channel at all.
type EmptyChannelSetError struct{}

func (e *EmptyChannelSetError) Error() string {
	return "element must drive at least one analog or digital channel"
}

// ChannelSetMismatchError reports an entity whose channel set disagrees with
// the set established by its container.
type ChannelSetMismatchError struct {
	Entity string
	Index  int
	Want   ChannelSet
	Got    ChannelSet
}

func (e *ChannelSetMismatchError) Error() string {
	return fmt.Sprintf("%s: channel set of entry %d is %s, expected %s", e.Entity, e.Index, e.Got, e.Want)
}

// UnresolvedBlockReferenceError reports an ensemble step naming an unknown block.
type UnresolvedBlockReferenceError struct {
	Ensemble string
	Step     int
	Block    string
}

func (e *UnresolvedBlockReferenceError) Error() string {
	return fmt.Sprintf("ensemble %s step %d: block %q not found", e.Ensemble, e.Step, e.Block)
}

// UnresolvedEnsembleReferenceError reports a sequence step naming an unknown ensemble.
type UnresolvedEnsembleReferenceError struct {
	Sequence string
	Step     int
	Ensemble string
}

func (e *UnresolvedEnsembleReferenceError) Error() string {
	return fmt.Sprintf("sequence %s step %d: ensemble %q not found", e.Sequence, e.Step, e.Ensemble)
}

// ElementError attaches the block and element position to a parametric error.
type ElementError struct {
	Block   string
	Element int
	Err     error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("block %s element %d: %v", e.Block, e.Element, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// NegativeLengthError reports an element whose length at a repetition index
// would drop below zero.
type NegativeLengthError struct {
	Block      string
	Element    int
	Repetition uint32
	Length     int64
}

func (e *NegativeLengthError) Error() string {
	return fmt.Sprintf("block %s element %d: length at repetition %d would be %d bins", e.Block, e.Element, e.Repetition, e.Length)
}

// TickLocation points at a tick element inside an ensemble.
type TickLocation struct {
	Step    int
	Block   string
	Element int
}

func (l TickLocation) String() string {
	return fmt.Sprintf("step %d (%s) element %d", l.Step, l.Block, l.Element)
}

// AmbiguousTickError reports an ensemble that does not carry exactly one tick element.
type AmbiguousTickError struct {
	Ensemble  string
	Locations []TickLocation
}

func (e *AmbiguousTickError) Error() string {
	if len(e.Locations) == 0 {
		return fmt.Sprintf("ensemble %s: no tick element found", e.Ensemble)
	}
	parts := make([]string, len(e.Locations))
	for i, loc := range e.Locations {
		parts[i] = loc.String()
	}
	return fmt.Sprintf("ensemble %s: %d tick elements found (%s)", e.Ensemble, len(e.Locations), strings.Join(parts, "; "))
}

// InvalidStepReferenceError reports a sequence step parameter that points
// outside the program or the trigger/flag lines.
type InvalidStepReferenceError struct {
	Sequence string
	Step     int
	Field    string
	Value    int32
	Reason   string
}

func (e *InvalidStepReferenceError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("sequence %s: %s", e.Sequence, e.Reason)
	}
	return fmt.Sprintf("sequence %s step %d: %s=%d %s", e.Sequence, e.Step, e.Field, e.Value, e.Reason)
}

// SequenceFallthroughError reports a run that would continue past the last step.
type SequenceFallthroughError struct {
	Sequence string
	Step     int
}

func (e *SequenceFallthroughError) Error() string {
	return fmt.Sprintf("sequence %s: step %d falls through past the last step", e.Sequence, e.Step)
}
