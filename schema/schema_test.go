package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

func TestValidateAcceptsPersistedForms(t *testing.T) {
	sin := waveform.MustNew(waveform.KindSin, map[string]float64{"amplitude": 1, "frequency": 1e7, "phase": 0})
	el := pulse.MustElement(7, 70,
		map[pulse.ChannelID]waveform.Primitive{pulse.AnalogChannel(1): sin},
		map[pulse.ChannelID]bool{pulse.DigitalChannel(1): false},
		true,
	)
	block, err := pulse.NewBlock("rabi", el)
	require.NoError(t, err)
	require.NoError(t, Validate(KindBlock, block.ToMap()))

	ens, err := pulse.NewEnsemble("rabi", 1e9, block.ChannelSet(), false, pulse.BlockStep{Block: "rabi", Repetitions: 49})
	require.NoError(t, err)
	ens.SetSamplingInfo(map[string]interface{}{"length_bins": int64(86100), "tick_bins": []interface{}{int64(7)}})
	require.NoError(t, Validate(KindEnsemble, ens.ToMap()))

	params := pulse.DefaultStepParams()
	params.Repetitions = -1
	seq, err := pulse.NewSequence("seq", false, pulse.SequenceStep{Ensemble: "rabi", Params: params})
	require.NoError(t, err)
	require.NoError(t, Validate(KindSequence, seq.ToMap()))
}

func TestValidateRejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		doc  map[string]interface{}
	}{
		{"zero length", KindElement, map[string]interface{}{"length_bins": 0}},
		{"bad channel", KindElement, map[string]interface{}{"length_bins": 5, "digital": map[string]interface{}{"x_ch1": true}}},
		{"unknown primitive", KindElement, map[string]interface{}{
			"length_bins": 5,
			"analog":      map[string]interface{}{"a_ch1": map[string]interface{}{"name": "Square"}},
		}},
		{"missing rate", KindEnsemble, map[string]interface{}{"name": "e", "steps": []interface{}{}}},
		{"negative reps", KindSequence, map[string]interface{}{
			"name":  "s",
			"steps": []interface{}{map[string]interface{}{"ensemble": "e", "repetitions": -2}},
		}},
		{"unknown field", KindBlock, map[string]interface{}{"name": "b", "elements": []interface{}{}, "color": "red"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.kind, tc.doc)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Issues)
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	require.Error(t, Validate("Waveform", map[string]interface{}{}))
}
