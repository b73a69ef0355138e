package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

func fixture(t *testing.T) (*pulse.Block, *pulse.Ensemble, *pulse.Sequence) {
	t.Helper()
	sin := waveform.MustNew(waveform.KindSin, map[string]float64{"amplitude": 0.5, "frequency": 2.5e7, "phase": 0.25})
	el := pulse.MustElement(7, 70,
		map[pulse.ChannelID]waveform.Primitive{pulse.AnalogChannel(1): sin},
		map[pulse.ChannelID]bool{pulse.DigitalChannel(1): false},
		true,
	)
	block, err := pulse.NewBlock("rabi", el)
	require.NoError(t, err)
	ens, err := pulse.NewEnsemble("rabi", 1.25e9, block.ChannelSet(), false, pulse.BlockStep{Block: "rabi", Repetitions: 49})
	require.NoError(t, err)
	seq, err := pulse.NewSequence("seq", false, pulse.SequenceStep{Ensemble: "rabi", Params: pulse.DefaultStepParams()})
	require.NoError(t, err)
	return block, ens, seq
}

func TestMemorySnapshotIsolation(t *testing.T) {
	m := NewMemory()
	block, ens, seq := fixture(t)
	require.NoError(t, m.PutBlock(block))
	require.NoError(t, m.PutEnsemble(ens))
	require.NoError(t, m.PutSequence(seq))

	snap := m.Snapshot()
	extra := pulse.MustElement(10, 0,
		map[pulse.ChannelID]waveform.Primitive{pulse.AnalogChannel(1): waveform.Idle()},
		map[pulse.ChannelID]bool{pulse.DigitalChannel(1): true},
		false,
	)
	require.NoError(t, block.Append(extra, false))
	require.NoError(t, m.PutBlock(block))

	snapBlock, ok := snap.Block("rabi")
	require.True(t, ok)
	require.Equal(t, 1, snapBlock.Len())

	stored, ok := m.Block("rabi")
	require.True(t, ok)
	require.Equal(t, 2, stored.Len())

	// mutating a returned copy does not reach the store
	require.NoError(t, stored.Delete(0))
	again, _ := m.Block("rabi")
	require.Equal(t, 2, again.Len())
}

func TestMemoryInvalidatesDependentInfo(t *testing.T) {
	m := NewMemory()
	block, ens, seq := fixture(t)
	require.NoError(t, m.PutBlock(block))
	require.NoError(t, m.PutEnsemble(ens))
	require.NoError(t, m.PutSequence(seq))

	_, gens := m.Capture()
	require.NoError(t, m.SetEnsembleSamplingInfo("rabi", gens.Ensembles["rabi"], map[string]interface{}{"length_bins": int64(86100)}))
	require.NoError(t, m.SetSequenceSamplingInfo("seq", gens.Sequences["seq"], map[string]interface{}{"length_bins": int64(86100)}))
	stored, _ := m.Ensemble("rabi")
	require.Equal(t, int64(86100), stored.SamplingInfo()["length_bins"])

	require.NoError(t, m.PutBlock(block))
	stored, _ = m.Ensemble("rabi")
	require.Empty(t, stored.SamplingInfo())
	storedSeq, _ := m.Sequence("seq")
	require.Empty(t, storedSeq.SamplingInfo())

	require.ErrorIs(t, m.SetEnsembleSamplingInfo("missing", 0, nil), ErrNotFound)
	require.ErrorIs(t, m.DeleteBlock("missing"), ErrNotFound)
}

func TestMemoryNames(t *testing.T) {
	m := NewMemory()
	block, ens, seq := fixture(t)
	require.NoError(t, m.PutBlock(block))
	renamed, err := block.Rename("echo")
	require.NoError(t, err)
	require.NoError(t, m.PutBlock(renamed))
	require.NoError(t, m.PutEnsemble(ens))
	require.NoError(t, m.PutSequence(seq))

	names := m.Names()
	require.Equal(t, []string{"echo", "rabi"}, names.Blocks)
	require.Equal(t, []string{"rabi"}, names.Ensembles)
	require.Equal(t, []string{"seq"}, names.Sequences)

	require.NoError(t, m.DeleteSequence("seq"))
	require.Empty(t, m.Names().Sequences)
}

func TestSQLiteReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "pulsed.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	block, ens, seq := fixture(t)
	require.NoError(t, s.PutBlock(block))
	require.NoError(t, s.PutEnsemble(ens))
	require.NoError(t, s.PutSequence(seq))
	_, gens := s.Capture()
	require.NoError(t, s.SetEnsembleSamplingInfo("rabi", gens.Ensembles["rabi"], map[string]interface{}{
		"length_bins": int64(86100),
		"tick_bins":   []interface{}{int64(7), int64(77)},
	}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	gotBlock, ok := reopened.Block("rabi")
	require.True(t, ok)
	require.True(t, block.Equal(gotBlock))

	gotEns, ok := reopened.Ensemble("rabi")
	require.True(t, ok)
	require.Equal(t, ens.Steps(), gotEns.Steps())
	require.Equal(t, 1.25e9, gotEns.SampleRateHz())
	require.Equal(t, int64(86100), gotEns.SamplingInfo()["length_bins"])
	require.Equal(t, []interface{}{int64(7), int64(77)}, gotEns.SamplingInfo()["tick_bins"])

	gotSeq, ok := reopened.Sequence("seq")
	require.True(t, ok)
	require.True(t, seq.Equal(gotSeq))

	require.NoError(t, reopened.DeleteBlock("rabi"))
	_, ok = reopened.Block("rabi")
	require.False(t, ok)
}

func TestSQLiteReopenKeepsFloatInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsed.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	block, ens, _ := fixture(t)
	ens.SetMeasurementInfo(map[string]interface{}{"controlled_variable": []float64{1.0, 2.5}})
	require.NoError(t, s.PutBlock(block))
	require.NoError(t, s.PutEnsemble(ens))
	_, gens := s.Capture()
	require.NoError(t, s.SetEnsembleSamplingInfo("rabi", gens.Ensembles["rabi"], map[string]interface{}{
		"sample_rate_hz": 1e9,
		"length_bins":    uint64(3500),
	}))
	want, ok := s.Ensemble("rabi")
	require.True(t, ok)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok := reopened.Ensemble("rabi")
	require.True(t, ok)
	require.True(t, want.Equal(got))
	require.Equal(t, int64(1e9), got.SamplingInfo()["sample_rate_hz"])
}

func TestMemoryRejectsStaleSamplingInfo(t *testing.T) {
	m := NewMemory()
	block, ens, seq := fixture(t)
	require.NoError(t, m.PutBlock(block))
	require.NoError(t, m.PutEnsemble(ens))
	require.NoError(t, m.PutSequence(seq))
	_, before := m.Capture()

	// recording info leaves the generation alone
	require.NoError(t, m.SetEnsembleSamplingInfo("rabi", before.Ensembles["rabi"], map[string]interface{}{"length_bins": int64(1)}))
	_, same := m.Capture()
	require.Equal(t, before, same)

	// a block edit moves both the ensemble and the sequence playing it
	require.NoError(t, m.PutBlock(block))
	err := m.SetEnsembleSamplingInfo("rabi", before.Ensembles["rabi"], map[string]interface{}{"length_bins": int64(2)})
	require.ErrorIs(t, err, ErrStale)
	err = m.SetSequenceSamplingInfo("seq", before.Sequences["seq"], map[string]interface{}{"length_bins": int64(2)})
	require.ErrorIs(t, err, ErrStale)
	stored, _ := m.Ensemble("rabi")
	require.Empty(t, stored.SamplingInfo())

	// delete and recreate does not reuse a generation
	require.NoError(t, m.DeleteEnsemble("rabi"))
	require.NoError(t, m.PutEnsemble(ens))
	_, after := m.Capture()
	require.Greater(t, uint64(after.Ensembles["rabi"]), uint64(before.Ensembles["rabi"]))
	require.NoError(t, m.SetEnsembleSamplingInfo("rabi", after.Ensembles["rabi"], map[string]interface{}{"length_bins": int64(3)}))
}
