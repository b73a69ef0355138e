// Package hardware describes what a pulse generator can execute and checks
// ensembles and sequences against it before sampling.
package hardware

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/timzifer/pulsed/pulse"
)

// Range bounds a continuous setting. A zero Step disables the grid check.
type Range struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// IntRange bounds a discrete setting. A zero Max means unbounded.
type IntRange struct {
	Min  uint64 `yaml:"min"`
	Max  uint64 `yaml:"max"`
	Step uint64 `yaml:"step"`
}

// SampleWidth is the number of bytes one bin occupies per active channel in a
// waveform format. Digital widths may be fractional when markers are packed.
type SampleWidth struct {
	Analog  float64 `yaml:"analog"`
	Digital float64 `yaml:"digital"`
}

// Descriptor is the capability description of one instrument.
type Descriptor struct {
	Name             string                 `yaml:"name"`
	SampleRate       Range                  `yaml:"sample_rate"`
	ActivationConfig map[string][]string    `yaml:"activation_config"`
	WaveformFormat   string                 `yaml:"waveform_format"`
	Formats          map[string]SampleWidth `yaml:"formats"`
	WaveformLength   IntRange               `yaml:"waveform_length"`
	SequenceSteps    IntRange               `yaml:"sequence_steps"`
	Repetitions      IntRange               `yaml:"repetitions"`
	TriggerLines     int                    `yaml:"trigger_lines"`
	FlagLines        int                    `yaml:"flag_lines"`
}

// OutOfHardwareRangeError reports a program setting the instrument cannot execute.
type OutOfHardwareRangeError struct {
	Entity string
	Field  string
	Value  string
	Reason string
}

func (e *OutOfHardwareRangeError) Error() string {
	return fmt.Sprintf("%s: %s=%s %s", e.Entity, e.Field, e.Value, e.Reason)
}

// Limits returns the trigger and flag lines a sequence may reference.
func (d *Descriptor) Limits() pulse.SequenceLimits {
	return pulse.SequenceLimits{TriggerLines: d.TriggerLines, FlagLines: d.FlagLines}
}

// Activations parses the activation configs into channel sets.
func (d *Descriptor) Activations() (map[string]pulse.ChannelSet, error) {
	out := make(map[string]pulse.ChannelSet, len(d.ActivationConfig))
	for name, channels := range d.ActivationConfig {
		set, err := pulse.ParseChannelSet(channels)
		if err != nil {
			return nil, fmt.Errorf("activation config %s: %w", name, err)
		}
		out[name] = set
	}
	return out, nil
}

// ActivationFor returns the name of the activation config matching channels.
func (d *Descriptor) ActivationFor(channels pulse.ChannelSet) (string, bool, error) {
	configs, err := d.Activations()
	if err != nil {
		return "", false, err
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if configs[name].Equal(channels) {
			return name, true, nil
		}
	}
	return "", false, nil
}

// Validate checks the descriptor itself.
func (d *Descriptor) Validate() error {
	if d.SampleRate.Min <= 0 || d.SampleRate.Max < d.SampleRate.Min {
		return fmt.Errorf("hardware %s: invalid sample rate range [%g, %g]", d.Name, d.SampleRate.Min, d.SampleRate.Max)
	}
	if d.SampleRate.Step < 0 {
		return fmt.Errorf("hardware %s: sample rate step must not be negative", d.Name)
	}
	if d.WaveformFormat != "" {
		if _, ok := d.Formats[d.WaveformFormat]; !ok {
			return fmt.Errorf("hardware %s: waveform format %q has no sample width", d.Name, d.WaveformFormat)
		}
	}
	if d.TriggerLines < 0 || d.FlagLines < 0 {
		return fmt.Errorf("hardware %s: line counts must not be negative", d.Name)
	}
	_, err := d.Activations()
	return err
}

// CheckSampleRate verifies that rate lies within the supported range and on
// its grid. Decimal arithmetic avoids false rejections like 1.25e9 on a
// 1e-3 Hz grid.
func (d *Descriptor) CheckSampleRate(entity string, rate float64) error {
	value := decimal.NewFromFloat(rate)
	if rate < d.SampleRate.Min || rate > d.SampleRate.Max {
		return &OutOfHardwareRangeError{
			Entity: entity,
			Field:  "sample_rate_hz",
			Value:  value.String(),
			Reason: fmt.Sprintf("outside [%g, %g]", d.SampleRate.Min, d.SampleRate.Max),
		}
	}
	if d.SampleRate.Step > 0 {
		offset := value.Sub(decimal.NewFromFloat(d.SampleRate.Min))
		if !offset.Mod(decimal.NewFromFloat(d.SampleRate.Step)).IsZero() {
			return &OutOfHardwareRangeError{
				Entity: entity,
				Field:  "sample_rate_hz",
				Value:  value.String(),
				Reason: fmt.Sprintf("not a multiple of %g above %g", d.SampleRate.Step, d.SampleRate.Min),
			}
		}
	}
	return nil
}

// ValidateEnsemble checks an ensemble's sample rate and channel set.
func (d *Descriptor) ValidateEnsemble(ens *pulse.Ensemble) error {
	entity := "ensemble " + ens.Name()
	if err := d.CheckSampleRate(entity, ens.SampleRateHz()); err != nil {
		return err
	}
	if len(d.ActivationConfig) == 0 {
		return nil
	}
	_, ok, err := d.ActivationFor(ens.ChannelSet())
	if err != nil {
		return err
	}
	if !ok {
		return &OutOfHardwareRangeError{
			Entity: entity,
			Field:  "channel_set",
			Value:  ens.ChannelSet().String(),
			Reason: "matches no activation config",
		}
	}
	return nil
}

// ValidateWaveformLength checks a sampled waveform length in bins.
func (d *Descriptor) ValidateWaveformLength(name string, bins uint64) error {
	r := d.WaveformLength
	entity := "waveform " + name
	if bins < r.Min || (r.Max > 0 && bins > r.Max) {
		return &OutOfHardwareRangeError{Entity: entity, Field: "length_bins", Value: fmt.Sprint(bins), Reason: fmt.Sprintf("outside [%d, %d]", r.Min, r.Max)}
	}
	if r.Step > 1 && bins%r.Step != 0 {
		return &OutOfHardwareRangeError{Entity: entity, Field: "length_bins", Value: fmt.Sprint(bins), Reason: fmt.Sprintf("not a multiple of %d", r.Step)}
	}
	return nil
}

// ValidateSequence checks the step table, the trigger and flag lines and
// every referenced ensemble.
func (d *Descriptor) ValidateSequence(seq *pulse.Sequence, ensembles pulse.EnsembleResolver) error {
	entity := "sequence " + seq.Name()
	if err := seq.Validate(d.Limits()); err != nil {
		return err
	}
	steps := uint64(seq.Len())
	if steps < d.SequenceSteps.Min || (d.SequenceSteps.Max > 0 && steps > d.SequenceSteps.Max) {
		return &OutOfHardwareRangeError{Entity: entity, Field: "steps", Value: fmt.Sprint(steps), Reason: fmt.Sprintf("outside [%d, %d]", d.SequenceSteps.Min, d.SequenceSteps.Max)}
	}
	resolved, err := seq.Resolve(ensembles)
	if err != nil {
		return err
	}
	for i, step := range seq.Steps() {
		reps := step.Params.Repetitions
		if reps >= 0 && d.Repetitions.Max > 0 && uint64(reps) > d.Repetitions.Max {
			return &OutOfHardwareRangeError{Entity: fmt.Sprintf("%s step %d", entity, i), Field: "repetitions", Value: fmt.Sprint(reps), Reason: fmt.Sprintf("exceeds %d", d.Repetitions.Max)}
		}
		if err := d.ValidateEnsemble(resolved[i]); err != nil {
			return err
		}
	}
	return nil
}

// EstimateBytes returns the output size of a waveform in the descriptor's
// waveform format.
func (d *Descriptor) EstimateBytes(channels pulse.ChannelSet, totalBins uint64) (uint64, error) {
	width, ok := d.Formats[d.WaveformFormat]
	if !ok {
		return 0, fmt.Errorf("hardware %s: unknown waveform format %q", d.Name, d.WaveformFormat)
	}
	return EstimateBytes(channels, totalBins, width), nil
}

// EstimateBytes multiplies the per-bin width of every active channel with
// the number of bins, rounding up to whole bytes.
func EstimateBytes(channels pulse.ChannelSet, totalBins uint64, width SampleWidth) uint64 {
	analog := decimal.NewFromInt(int64(len(channels.Analog())))
	digital := decimal.NewFromInt(int64(len(channels.Digital())))
	perBin := analog.Mul(decimal.NewFromFloat(width.Analog)).Add(digital.Mul(decimal.NewFromFloat(width.Digital)))
	total := perBin.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(totalBins), 0)).Ceil()
	return total.BigInt().Uint64()
}
