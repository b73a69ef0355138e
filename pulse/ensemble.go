package pulse

import (
	"fmt"
	"math"
)

// BlockStep plays a block Repetitions+1 times.
type BlockStep struct {
	Block       string
	Repetitions uint32
}

// Ensemble is an ordered list of block steps plus the sampling context used to
// turn it into one waveform.
type Ensemble struct {
	name            string
	steps           []BlockStep
	sampleRateHz    float64
	channelSet      ChannelSet
	rotatingFrame   bool
	samplingInfo    map[string]interface{}
	measurementInfo map[string]interface{}
}

// NewEnsemble builds an ensemble. Block references are resolved later against
// a Library, see Validate.
func NewEnsemble(name string, sampleRateHz float64, channels ChannelSet, rotatingFrame bool, steps ...BlockStep) (*Ensemble, error) {
	if name == "" {
		return nil, fmt.Errorf("ensemble name must not be empty")
	}
	if err := checkSampleRate(sampleRateHz); err != nil {
		return nil, fmt.Errorf("ensemble %s: %w", name, err)
	}
	for i, step := range steps {
		if step.Block == "" {
			return nil, fmt.Errorf("ensemble %s step %d: block name must not be empty", name, i)
		}
	}
	return &Ensemble{
		name:          name,
		steps:         append([]BlockStep(nil), steps...),
		sampleRateHz:  sampleRateHz,
		channelSet:    NewChannelSet(channels...),
		rotatingFrame: rotatingFrame,
	}, nil
}

func checkSampleRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("sample rate must be positive and finite, got %g", rate)
	}
	return nil
}

// Name returns the ensemble's key in its store.
func (e *Ensemble) Name() string { return e.name }

// Steps returns a copy of the block steps.
func (e *Ensemble) Steps() []BlockStep { return append([]BlockStep(nil), e.steps...) }

// SampleRateHz returns the sampling rate in Hz.
func (e *Ensemble) SampleRateHz() float64 { return e.sampleRateHz }

// ChannelSet returns the active channel set.
func (e *Ensemble) ChannelSet() ChannelSet { return e.channelSet }

// RotatingFrame reports whether oscillator phase is continuous across elements.
func (e *Ensemble) RotatingFrame() bool { return e.rotatingFrame }

// SamplingInfo returns a copy of the data recorded by the last sampler run.
func (e *Ensemble) SamplingInfo() map[string]interface{} { return cloneInfo(e.samplingInfo) }

// MeasurementInfo returns a copy of the measurement metadata.
func (e *Ensemble) MeasurementInfo() map[string]interface{} { return cloneInfo(e.measurementInfo) }

// SetSamplingInfo stores the sampler's metadata.
func (e *Ensemble) SetSamplingInfo(info map[string]interface{}) { e.samplingInfo = cloneInfo(info) }

// SetMeasurementInfo stores measurement metadata.
func (e *Ensemble) SetMeasurementInfo(info map[string]interface{}) {
	e.measurementInfo = cloneInfo(info)
}

func (e *Ensemble) invalidate() {
	e.samplingInfo = nil
	e.measurementInfo = nil
}

// Append adds a step at the end or at the front.
func (e *Ensemble) Append(step BlockStep, atFront bool) error {
	if step.Block == "" {
		return fmt.Errorf("ensemble %s: block name must not be empty", e.name)
	}
	if atFront {
		e.steps = append([]BlockStep{step}, e.steps...)
	} else {
		e.steps = append(e.steps, step)
	}
	e.invalidate()
	return nil
}

// Replace swaps the step at index i.
func (e *Ensemble) Replace(i int, step BlockStep) error {
	if i < 0 || i >= len(e.steps) {
		return fmt.Errorf("ensemble %s replace %d: %w", e.name, i, ErrIndexOutOfRange)
	}
	if step.Block == "" {
		return fmt.Errorf("ensemble %s: block name must not be empty", e.name)
	}
	e.steps[i] = step
	e.invalidate()
	return nil
}

// Delete removes the step at index i.
func (e *Ensemble) Delete(i int) error {
	if i < 0 || i >= len(e.steps) {
		return fmt.Errorf("ensemble %s delete %d: %w", e.name, i, ErrIndexOutOfRange)
	}
	e.steps = append(e.steps[:i:i], e.steps[i+1:]...)
	e.invalidate()
	return nil
}

// SetSampleRate changes the sampling rate.
func (e *Ensemble) SetSampleRate(rate float64) error {
	if err := checkSampleRate(rate); err != nil {
		return fmt.Errorf("ensemble %s: %w", e.name, err)
	}
	e.sampleRateHz = rate
	e.invalidate()
	return nil
}

// SetChannelSet changes the active channel set.
func (e *Ensemble) SetChannelSet(channels ChannelSet) {
	e.channelSet = NewChannelSet(channels...)
	e.invalidate()
}

// SetRotatingFrame toggles phase continuity.
func (e *Ensemble) SetRotatingFrame(on bool) {
	e.rotatingFrame = on
	e.invalidate()
}

// Validate resolves every block reference and checks the channel set invariant.
func (e *Ensemble) Validate(blocks BlockResolver) error {
	_, err := e.Resolve(blocks)
	return err
}

// Resolve returns the referenced blocks in step order.
func (e *Ensemble) Resolve(blocks BlockResolver) ([]*Block, error) {
	out := make([]*Block, len(e.steps))
	for i, step := range e.steps {
		block, ok := blocks.Block(step.Block)
		if !ok {
			return nil, &UnresolvedBlockReferenceError{Ensemble: e.name, Step: i, Block: step.Block}
		}
		if !block.ChannelSet().Equal(e.channelSet) {
			return nil, &ChannelSetMismatchError{
				Entity: "ensemble " + e.name,
				Index:  i,
				Want:   e.channelSet,
				Got:    block.ChannelSet(),
			}
		}
		out[i] = block
	}
	return out, nil
}

// Clone returns an independent copy including metadata.
func (e *Ensemble) Clone() *Ensemble {
	if e == nil {
		return nil
	}
	return &Ensemble{
		name:            e.name,
		steps:           e.Steps(),
		sampleRateHz:    e.sampleRateHz,
		channelSet:      append(ChannelSet{}, e.channelSet...),
		rotatingFrame:   e.rotatingFrame,
		samplingInfo:    cloneInfo(e.samplingInfo),
		measurementInfo: cloneInfo(e.measurementInfo),
	}
}

// Equal compares every field including the metadata maps.
func (e *Ensemble) Equal(other *Ensemble) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.name != other.name || e.sampleRateHz != other.sampleRateHz || e.rotatingFrame != other.rotatingFrame {
		return false
	}
	if !e.channelSet.Equal(other.channelSet) || len(e.steps) != len(other.steps) {
		return false
	}
	for i := range e.steps {
		if e.steps[i] != other.steps[i] {
			return false
		}
	}
	return infoEqual(e.samplingInfo, other.samplingInfo) && infoEqual(e.measurementInfo, other.measurementInfo)
}
