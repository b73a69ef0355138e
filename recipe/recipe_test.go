package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

const rabiRecipe = `
name: rabi
parameters:
  rabi_period: 200.0e-9
  mw_amplitude: 0.25
  mw_frequency: 2.87e9
  tau_start: 8.0e-9
  tau_step: 8.0e-9
  num_of_points: 50
  laser_length: 3.0e-6
sample_rate_hz: 1.25e9
channels: [a_ch1, d_ch1]
blocks:
  - name: rabi
    elements:
      - length: tau_start
        increment: tau_step
        tick: true
        analog:
          a_ch1:
            name: Sin
            params:
              amplitude: mw_amplitude
              frequency: mw_frequency
              phase: 0
        digital: {d_ch1: false}
      - length: laser_length
        analog:
          a_ch1: {name: Idle}
        digital: {d_ch1: true}
  - name: pi_pulse
    elements:
      - length: rabi_period / 2
        analog:
          a_ch1: {name: DC, params: {amplitude: mw_amplitude * 2}}
        digital: {d_ch1: false}
ensemble:
  steps:
    - block: rabi
      repetitions: num_of_points - 1
    - block: pi_pulse
sequence:
  steps:
    - repetitions: -1
`

func TestBuildRabi(t *testing.T) {
	r, err := Parse([]byte(rabiRecipe))
	require.NoError(t, err)

	gen, err := r.Build(nil)
	require.NoError(t, err)
	require.Len(t, gen.Blocks, 2)

	rabi := gen.Blocks[0]
	require.Equal(t, "rabi", rabi.Name())
	require.Equal(t, uint64(10+3750), rabi.BaseLengthBins())
	require.Equal(t, int64(10), rabi.BaseIncrementBins())

	first, err := rabi.Element(0)
	require.NoError(t, err)
	require.True(t, first.IsTick())
	prim, ok := first.Analog(pulse.AnalogChannel(1))
	require.True(t, ok)
	require.Equal(t, waveform.KindSin, prim.Kind())
	amp, _ := prim.Param("amplitude")
	require.InDelta(t, 0.25, amp, 1e-12)

	pi := gen.Blocks[1]
	require.Equal(t, uint64(125), pi.BaseLengthBins())
	el, err := pi.Element(0)
	require.NoError(t, err)
	dc, _ := el.Analog(pulse.AnalogChannel(1))
	level, _ := dc.Param("amplitude")
	require.InDelta(t, 0.5, level, 1e-12)

	steps := gen.Ensemble.Steps()
	require.Equal(t, []pulse.BlockStep{{Block: "rabi", Repetitions: 49}, {Block: "pi_pulse", Repetitions: 0}}, steps)
	require.Equal(t, "rabi", gen.Ensemble.Name())
	require.Equal(t, "rabi", gen.Ensemble.MeasurementInfo()["recipe"])

	require.NotNil(t, gen.Sequence)
	seqSteps := gen.Sequence.Steps()
	require.Len(t, seqSteps, 1)
	require.Equal(t, "rabi", seqSteps[0].Ensemble)
	require.Equal(t, int32(-1), seqSteps[0].Params.Repetitions)
	require.Equal(t, int32(-1), seqSteps[0].Params.GoTo)
	require.False(t, gen.Sequence.IsFinite())

	lib := gen.Library()
	_, ok = lib.Sequence("rabi")
	require.True(t, ok)
}

func TestBuildOverrides(t *testing.T) {
	r, err := Parse([]byte(rabiRecipe))
	require.NoError(t, err)

	gen, err := r.Build(map[string]float64{"num_of_points": 5, "laser_length": 1e-6})
	require.NoError(t, err)
	require.Equal(t, uint32(4), gen.Ensemble.Steps()[0].Repetitions)
	require.Equal(t, uint64(10+1250), gen.Blocks[0].BaseLengthBins())
	require.Equal(t, 5.0, gen.Parameters["num_of_points"])

	// the declared defaults stay untouched
	require.Equal(t, 50.0, r.Parameters["num_of_points"])

	_, err = r.Build(map[string]float64{"num_points": 5})
	require.Error(t, err)
}

func TestBuildRejectsFractionalRepetitions(t *testing.T) {
	r, err := Parse([]byte(rabiRecipe))
	require.NoError(t, err)
	_, err = r.Build(map[string]float64{"num_of_points": 2.5})
	require.ErrorContains(t, err, "not an integer")
}

func TestBuildNegativeLength(t *testing.T) {
	r, err := Parse([]byte(rabiRecipe))
	require.NoError(t, err)
	_, err = r.Build(map[string]float64{"tau_start": -8e-9})
	var elErr *pulse.ElementError
	if !errors.As(err, &elErr) {
		t.Fatalf("expected element error, got %v", err)
	}
	require.Equal(t, "rabi", elErr.Block)
	require.Equal(t, 0, elErr.Element)
}

func TestParseRejectsBadExpression(t *testing.T) {
	doc := `
name: broken
sample_rate_hz: 1e9
channels: [d_ch1]
blocks:
  - name: b
    elements:
      - length: "1e-6 *"
        digital: {d_ch1: true}
ensemble:
  steps: [{block: b}]
`
	_, err := Parse([]byte(doc))
	require.ErrorContains(t, err, "block b element 0")
}

func TestBuildUndefinedVariable(t *testing.T) {
	doc := `
name: undefined
sample_rate_hz: 1e9
channels: [d_ch1]
blocks:
  - name: b
    elements:
      - length: missing_length
        digital: {d_ch1: true}
ensemble:
  steps: [{block: b}]
`
	r, err := Parse([]byte(doc))
	require.NoError(t, err)
	_, err = r.Build(nil)
	require.ErrorContains(t, err, "missing_length")
}

func TestBuildChannelMismatch(t *testing.T) {
	doc := `
name: mismatch
sample_rate_hz: 1e9
channels: [d_ch1, d_ch2]
blocks:
  - name: b
    elements:
      - length: 1e-6
        digital: {d_ch1: true}
ensemble:
  steps: [{block: b}]
`
	r, err := Parse([]byte(doc))
	require.NoError(t, err)
	_, err = r.Build(nil)
	var mismatch *pulse.ChannelSetMismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(rabiRecipe), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	recipes, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	require.Equal(t, filepath.Join(dir, "a.yaml"), recipes[0].Source())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(rabiRecipe), 0o600))
	_, err = LoadDir(dir)
	require.ErrorContains(t, err, "defined in")
}
