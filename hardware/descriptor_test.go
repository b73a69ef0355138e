package hardware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
)

func testDescriptor() *Descriptor {
	return &Descriptor{
		Name:       "awg",
		SampleRate: Range{Min: 1e7, Max: 2.5e9, Step: 1e3},
		ActivationConfig: map[string][]string{
			"a_ch1_d_ch1": {"a_ch1", "d_ch1"},
			"digital":     {"d_ch1", "d_ch2"},
		},
		WaveformFormat: "wfmx",
		Formats: map[string]SampleWidth{
			"wfmx": {Analog: 4, Digital: 0.5},
			"fpga": {Digital: 0.125},
		},
		WaveformLength: IntRange{Min: 1, Max: 1 << 20, Step: 1},
		SequenceSteps:  IntRange{Min: 1, Max: 4},
		Repetitions:    IntRange{Max: 65535},
		TriggerLines:   2,
		FlagLines:      4,
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := testDescriptor()
	require.NoError(t, d.Validate())

	d.WaveformFormat = "seq"
	require.Error(t, d.Validate())

	d = testDescriptor()
	d.ActivationConfig["bad"] = []string{"x_ch1"}
	require.Error(t, d.Validate())
}

func TestCheckSampleRate(t *testing.T) {
	d := testDescriptor()
	require.NoError(t, d.CheckSampleRate("e", 1.25e9))
	require.NoError(t, d.CheckSampleRate("e", 1e7))

	var rangeErr *OutOfHardwareRangeError
	require.ErrorAs(t, d.CheckSampleRate("e", 5e9), &rangeErr)
	require.Equal(t, "sample_rate_hz", rangeErr.Field)

	require.ErrorAs(t, d.CheckSampleRate("e", 1.2500005e9), &rangeErr)
	require.Contains(t, rangeErr.Reason, "multiple")
}

func TestValidateEnsembleChannelSet(t *testing.T) {
	d := testDescriptor()
	ok, err := pulse.NewEnsemble("ok", 1e9, pulse.NewChannelSet(pulse.DigitalChannel(2), pulse.DigitalChannel(1)), false)
	require.NoError(t, err)
	require.NoError(t, d.ValidateEnsemble(ok))

	name, found, err := d.ActivationFor(ok.ChannelSet())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "digital", name)

	bad, err := pulse.NewEnsemble("bad", 1e9, pulse.NewChannelSet(pulse.AnalogChannel(2)), false)
	require.NoError(t, err)
	var rangeErr *OutOfHardwareRangeError
	require.ErrorAs(t, d.ValidateEnsemble(bad), &rangeErr)
	require.Equal(t, "channel_set", rangeErr.Field)
}

func TestValidateSequence(t *testing.T) {
	d := testDescriptor()
	ens, err := pulse.NewEnsemble("e", 1e9, pulse.NewChannelSet(pulse.DigitalChannel(1), pulse.DigitalChannel(2)), false)
	require.NoError(t, err)
	lib := pulse.NewLibrary(nil, []*pulse.Ensemble{ens}, nil)

	params := pulse.DefaultStepParams()
	params.Repetitions = 70000
	seq, err := pulse.NewSequence("s", false, pulse.SequenceStep{Ensemble: "e", Params: params})
	require.NoError(t, err)
	var rangeErr *OutOfHardwareRangeError
	require.ErrorAs(t, d.ValidateSequence(seq, lib), &rangeErr)
	require.Equal(t, "repetitions", rangeErr.Field)

	params.Repetitions = -1
	params.EventJumpTo = 1
	params.FlagHigh = 3
	require.NoError(t, seq.Replace(0, pulse.SequenceStep{Ensemble: "e", Params: params}))
	require.NoError(t, d.ValidateSequence(seq, lib))

	params.EventJumpTo = 2
	require.NoError(t, seq.Replace(0, pulse.SequenceStep{Ensemble: "e", Params: params}))
	var invalid *pulse.InvalidStepReferenceError
	require.ErrorAs(t, d.ValidateSequence(seq, lib), &invalid)

	long, err := pulse.NewSequence("long", false,
		pulse.SequenceStep{Ensemble: "e", Params: pulse.DefaultStepParams()},
		pulse.SequenceStep{Ensemble: "e", Params: pulse.DefaultStepParams()},
		pulse.SequenceStep{Ensemble: "e", Params: pulse.DefaultStepParams()},
		pulse.SequenceStep{Ensemble: "e", Params: pulse.DefaultStepParams()},
		pulse.SequenceStep{Ensemble: "e", Params: pulse.DefaultStepParams()},
	)
	require.NoError(t, err)
	require.ErrorAs(t, d.ValidateSequence(long, lib), &rangeErr)
	require.Equal(t, "steps", rangeErr.Field)
}

func TestValidateWaveformLength(t *testing.T) {
	d := testDescriptor()
	d.WaveformLength = IntRange{Min: 4800, Max: 1 << 20, Step: 4}
	require.NoError(t, d.ValidateWaveformLength("w", 4800))
	require.Error(t, d.ValidateWaveformLength("w", 4801))
	require.Error(t, d.ValidateWaveformLength("w", 100))
}

func TestEstimateBytes(t *testing.T) {
	d := testDescriptor()
	channels := pulse.NewChannelSet(pulse.AnalogChannel(1), pulse.DigitalChannel(1), pulse.DigitalChannel(2))

	size, err := d.EstimateBytes(channels, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), size)

	require.Equal(t, uint64(2), EstimateBytes(pulse.NewChannelSet(pulse.DigitalChannel(1)), 9, SampleWidth{Digital: 0.125}))

	d.WaveformFormat = "unknown"
	_, err = d.EstimateBytes(channels, 1000)
	require.Error(t, err)
}
