package pulse

import "fmt"

// StepParams controls how the hardware sequencer plays one step.
type StepParams struct {
	// Repetitions is -1 for an endless loop, otherwise the step plays
	// Repetitions+1 times.
	Repetitions int32
	// GoTo is the step index to continue with, -1 advances to the next step.
	GoTo int32
	// EventJumpTo is the trigger line that forces an immediate jump to GoTo,
	// -1 ignores triggers.
	EventJumpTo int32
	// WaitFor is the trigger line awaited before the step starts, -1 plays
	// immediately.
	WaitFor int32
	// FlagHigh is the flag line held high while the step plays, -1 for none.
	FlagHigh int32
}

// DefaultStepParams plays a step once and falls through to the next one.
func DefaultStepParams() StepParams {
	return StepParams{Repetitions: 0, GoTo: -1, EventJumpTo: -1, WaitFor: -1, FlagHigh: -1}
}

// SequenceStep references an ensemble by name.
type SequenceStep struct {
	Ensemble string
	Params   StepParams
}

// SequenceLimits bounds the trigger and flag lines a sequence may reference.
type SequenceLimits struct {
	TriggerLines int
	FlagLines    int
}

// Sequence is a small branching/looping program over ensembles.
type Sequence struct {
	name            string
	steps           []SequenceStep
	rotatingFrame   bool
	samplingInfo    map[string]interface{}
	measurementInfo map[string]interface{}
}

// NewSequence builds a sequence. Use Validate before handing it to hardware.
func NewSequence(name string, rotatingFrame bool, steps ...SequenceStep) (*Sequence, error) {
	if name == "" {
		return nil, fmt.Errorf("sequence name must not be empty")
	}
	for i, step := range steps {
		if step.Ensemble == "" {
			return nil, fmt.Errorf("sequence %s step %d: ensemble name must not be empty", name, i)
		}
	}
	return &Sequence{name: name, steps: append([]SequenceStep(nil), steps...), rotatingFrame: rotatingFrame}, nil
}

// Name returns the sequence's key in its store.
func (s *Sequence) Name() string { return s.name }

// Len returns the number of steps.
func (s *Sequence) Len() int { return len(s.steps) }

// Steps returns a copy of the steps.
func (s *Sequence) Steps() []SequenceStep { return append([]SequenceStep(nil), s.steps...) }

// Step returns the step at index i.
func (s *Sequence) Step(i int) (SequenceStep, error) {
	if i < 0 || i >= len(s.steps) {
		return SequenceStep{}, fmt.Errorf("sequence %s step %d: %w", s.name, i, ErrIndexOutOfRange)
	}
	return s.steps[i], nil
}

// RotatingFrame reports whether phase is preserved across ensembles.
func (s *Sequence) RotatingFrame() bool { return s.rotatingFrame }

// SamplingInfo returns a copy of the data recorded by the last sampler run.
func (s *Sequence) SamplingInfo() map[string]interface{} { return cloneInfo(s.samplingInfo) }

// MeasurementInfo returns a copy of the measurement metadata.
func (s *Sequence) MeasurementInfo() map[string]interface{} { return cloneInfo(s.measurementInfo) }

// SetSamplingInfo stores the sampler's metadata.
func (s *Sequence) SetSamplingInfo(info map[string]interface{}) { s.samplingInfo = cloneInfo(info) }

// SetMeasurementInfo stores measurement metadata.
func (s *Sequence) SetMeasurementInfo(info map[string]interface{}) {
	s.measurementInfo = cloneInfo(info)
}

func (s *Sequence) invalidate() {
	s.samplingInfo = nil
	s.measurementInfo = nil
}

// IsFinite reports whether no step loops forever.
func (s *Sequence) IsFinite() bool {
	for _, step := range s.steps {
		if step.Params.Repetitions < 0 {
			return false
		}
	}
	return true
}

// Append adds a step at the end or at the front.
func (s *Sequence) Append(step SequenceStep, atFront bool) error {
	if step.Ensemble == "" {
		return fmt.Errorf("sequence %s: ensemble name must not be empty", s.name)
	}
	if atFront {
		s.steps = append([]SequenceStep{step}, s.steps...)
	} else {
		s.steps = append(s.steps, step)
	}
	s.invalidate()
	return nil
}

// Replace swaps the step at index i.
func (s *Sequence) Replace(i int, step SequenceStep) error {
	if i < 0 || i >= len(s.steps) {
		return fmt.Errorf("sequence %s replace %d: %w", s.name, i, ErrIndexOutOfRange)
	}
	if step.Ensemble == "" {
		return fmt.Errorf("sequence %s: ensemble name must not be empty", s.name)
	}
	s.steps[i] = step
	s.invalidate()
	return nil
}

// Delete removes the step at index i.
func (s *Sequence) Delete(i int) error {
	if i < 0 || i >= len(s.steps) {
		return fmt.Errorf("sequence %s delete %d: %w", s.name, i, ErrIndexOutOfRange)
	}
	s.steps = append(s.steps[:i:i], s.steps[i+1:]...)
	s.invalidate()
	return nil
}

// SetRotatingFrame toggles phase continuity across ensembles.
func (s *Sequence) SetRotatingFrame(on bool) {
	s.rotatingFrame = on
	s.invalidate()
}

// Validate checks step count and every jump, trigger and flag reference.
func (s *Sequence) Validate(limits SequenceLimits) error {
	if len(s.steps) == 0 {
		return &InvalidStepReferenceError{Sequence: s.name, Step: -1, Reason: "sequence has no steps"}
	}
	n := int32(len(s.steps))
	for i, step := range s.steps {
		p := step.Params
		if p.Repetitions < -1 {
			return &InvalidStepReferenceError{Sequence: s.name, Step: i, Field: "repetitions", Value: p.Repetitions, Reason: "must be -1 or non-negative"}
		}
		if p.GoTo < -1 || p.GoTo >= n {
			return &InvalidStepReferenceError{Sequence: s.name, Step: i, Field: "go_to", Value: p.GoTo, Reason: fmt.Sprintf("must be -1 or a step index below %d", n)}
		}
		if err := checkLine(s.name, i, "event_jump_to", p.EventJumpTo, limits.TriggerLines); err != nil {
			return err
		}
		if err := checkLine(s.name, i, "wait_for", p.WaitFor, limits.TriggerLines); err != nil {
			return err
		}
		if err := checkLine(s.name, i, "flag_high", p.FlagHigh, limits.FlagLines); err != nil {
			return err
		}
	}
	return nil
}

// ValidateContinuous is Validate plus a check that the program never runs
// past its last step, as required by instruments that loop their sequence
// memory unconditionally.
func (s *Sequence) ValidateContinuous(limits SequenceLimits) error {
	if err := s.Validate(limits); err != nil {
		return err
	}
	last := len(s.steps) - 1
	p := s.steps[last].Params
	if p.GoTo == -1 && p.Repetitions >= 0 {
		return &SequenceFallthroughError{Sequence: s.name, Step: last}
	}
	return nil
}

func checkLine(seq string, step int, field string, value int32, lines int) error {
	if value == -1 {
		return nil
	}
	if value < -1 || int(value) >= lines {
		return &InvalidStepReferenceError{Sequence: seq, Step: step, Field: field, Value: value, Reason: fmt.Sprintf("must be -1 or a line index below %d", lines)}
	}
	return nil
}

// Resolve returns the referenced ensembles in step order.
func (s *Sequence) Resolve(ensembles EnsembleResolver) ([]*Ensemble, error) {
	out := make([]*Ensemble, len(s.steps))
	for i, step := range s.steps {
		ens, ok := ensembles.Ensemble(step.Ensemble)
		if !ok {
			return nil, &UnresolvedEnsembleReferenceError{Sequence: s.name, Step: i, Ensemble: step.Ensemble}
		}
		out[i] = ens
	}
	return out, nil
}

// Clone returns an independent copy including metadata.
func (s *Sequence) Clone() *Sequence {
	if s == nil {
		return nil
	}
	return &Sequence{
		name:            s.name,
		steps:           s.Steps(),
		rotatingFrame:   s.rotatingFrame,
		samplingInfo:    cloneInfo(s.samplingInfo),
		measurementInfo: cloneInfo(s.measurementInfo),
	}
}

// Equal compares every field including the metadata maps.
func (s *Sequence) Equal(other *Sequence) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.name != other.name || s.rotatingFrame != other.rotatingFrame || len(s.steps) != len(other.steps) {
		return false
	}
	for i := range s.steps {
		if s.steps[i] != other.steps[i] {
			return false
		}
	}
	return infoEqual(s.samplingInfo, other.samplingInfo) && infoEqual(s.measurementInfo, other.measurementInfo)
}
