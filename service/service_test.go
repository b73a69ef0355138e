package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/config"
	"github.com/timzifer/pulsed/hardware"
	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sampler"
	"github.com/timzifer/pulsed/store"
)

const rabiRecipe = `
name: rabi
parameters:
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
          a_ch1: {name: Sin, params: {amplitude: mw_amplitude, frequency: mw_frequency}}
        digital: {d_ch1: false}
      - length: laser_length
        analog:
          a_ch1: {name: Idle}
        digital: {d_ch1: true}
ensemble:
  steps:
    - block: rabi
      repetitions: num_of_points - 1
`

type recordingCollector struct {
	mu       sync.Mutex
	reloads  []string
	samples  map[string]uint64
	failures map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{samples: map[string]uint64{}, failures: map[string]string{}}
}

func (c *recordingCollector) IncHotReload(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads = append(c.reloads, file)
}

func (c *recordingCollector) ObserveSampling(kind string, bins uint64, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[kind] += bins
}

func (c *recordingCollector) IncSamplingFailure(kind, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[kind] = reason
}

func (c *recordingCollector) reloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reloads)
}

func testHardware() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:             "awg",
		SampleRate:       hardware.Range{Min: 1e8, Max: 1.25e9, Step: 1e6},
		ActivationConfig: map[string][]string{"all": {"a_ch1", "d_ch1"}},
		WaveformFormat:   "wfm",
		Formats:          map[string]hardware.SampleWidth{"wfm": {Analog: 4, Digital: 0.125}},
		WaveformLength:   hardware.IntRange{Min: 1, Max: 1 << 30, Step: 1},
		SequenceSteps:    hardware.IntRange{Min: 1, Max: 16},
		Repetitions:      hardware.IntRange{Max: 65535},
		TriggerLines:     2,
		FlagLines:        2,
	}
}

func newTestService(t *testing.T, mutate func(*config.Config), opts ...Option) (*Service, *recordingCollector, string) {
	t.Helper()
	dir := t.TempDir()
	recipeDir := filepath.Join(dir, "recipes")
	require.NoError(t, os.Mkdir(recipeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "rabi.yaml"), []byte(rabiRecipe), 0o600))

	cfg := config.Default()
	cfg.Hardware = testHardware()
	cfg.Sampling.GatingChannel = "d_ch1"
	cfg.Recipes.Dirs = []string{recipeDir}
	if mutate != nil {
		mutate(cfg)
	}
	collector := newRecordingCollector()
	opts = append([]Option{WithTelemetry(collector)}, opts...)
	svc, err := New(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.LoadRecipes())
	return svc, collector, recipeDir
}

func TestImportAndSampleRecipe(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, collector, _ := newTestService(t, nil, WithClock(func() time.Time { return fixed }))
	require.Equal(t, []string{"rabi"}, svc.Recipes())

	gen, err := svc.ImportRecipe("rabi", nil)
	require.NoError(t, err)
	require.Equal(t, "rabi", gen.Ensemble.Name())

	res, err := svc.SampleEnsemble(context.Background(), "rabi")
	require.NoError(t, err)
	require.Equal(t, uint64(50*3760+10*49*50/2), res.TotalBins)
	require.Equal(t, uint64(50), res.PulseCount)
	require.Len(t, res.TickBins, 50)
	require.Equal(t, uint64(10), res.TickBins[0])

	runID, ok := res.Info["run_id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T12:00:00Z", res.Info["generated_at"])
	// 4 bytes analog + 1/8 byte digital per bin, rounded up
	require.Equal(t, int64(826032), res.Info["estimated_bytes"])

	stored, ok := svc.Store().Ensemble("rabi")
	require.True(t, ok)
	require.Equal(t, runID, stored.SamplingInfo()["run_id"])
	require.Equal(t, "rabi", stored.MeasurementInfo()["recipe"])
	require.Equal(t, res.TotalBins, collector.samples["ensemble"])
}

func TestSampleEnsembleRecordsFailures(t *testing.T) {
	svc, collector, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Hardware.WaveformLength.Max = 1000
	})
	_, err := svc.ImportRecipe("rabi", nil)
	require.NoError(t, err)

	_, err = svc.SampleEnsemble(context.Background(), "rabi")
	var rangeErr *hardware.OutOfHardwareRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, "hardware_range", collector.failures["ensemble"])

	_, err = svc.SampleEnsemble(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, "not_found", collector.failures["ensemble"])

	stored, _ := svc.Store().Ensemble("rabi")
	require.Empty(t, stored.SamplingInfo())
}

// editingStore applies edit once, right after the next snapshot is taken.
type editingStore struct {
	*store.Memory
	edit func(*store.Memory)
}

func (s *editingStore) Capture() (*pulse.Library, store.Generations) {
	lib, gens := s.Memory.Capture()
	if s.edit != nil {
		s.edit(s.Memory)
		s.edit = nil
	}
	return lib, gens
}

func TestSampleEnsembleDropsInfoForChangedDefinition(t *testing.T) {
	st := &editingStore{Memory: store.NewMemory()}
	svc, _, _ := newTestService(t, nil, WithStore(st))
	_, err := svc.ImportRecipe("rabi", nil)
	require.NoError(t, err)

	st.edit = func(m *store.Memory) {
		block, ok := m.Block("rabi")
		require.True(t, ok)
		require.NoError(t, block.Delete(1))
		require.NoError(t, m.PutBlock(block))
	}
	res, err := svc.SampleEnsemble(context.Background(), "rabi")
	require.NoError(t, err)
	require.Equal(t, uint64(50*3760+10*49*50/2), res.TotalBins)

	stored, _ := svc.Store().Ensemble("rabi")
	require.Empty(t, stored.SamplingInfo())

	res, err = svc.SampleEnsemble(context.Background(), "rabi")
	require.NoError(t, err)
	stored, _ = svc.Store().Ensemble("rabi")
	require.Equal(t, res.Info["run_id"], stored.SamplingInfo()["run_id"])
	require.Equal(t, int64(res.TotalBins), stored.SamplingInfo()["length_bins"])
}

func TestFailureReason(t *testing.T) {
	require.Equal(t, "", FailureReason(nil))
	require.Equal(t, "canceled", FailureReason(context.Canceled))
	require.Equal(t, "negative_length", FailureReason(&pulse.NegativeLengthError{Block: "b"}))
	require.Equal(t, "ambiguous_tick", FailureReason(&pulse.AmbiguousTickError{Ensemble: "e"}))
	require.Equal(t, "unresolved_reference", FailureReason(&pulse.UnresolvedBlockReferenceError{Ensemble: "e", Block: "b"}))
	require.Equal(t, "other", FailureReason(os.ErrClosed))
}

func TestSampleSequence(t *testing.T) {
	svc, collector, _ := newTestService(t, nil)
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 2})
	require.NoError(t, err)

	params := pulse.DefaultStepParams()
	params.Repetitions = 2
	seq, err := pulse.NewSequence("loop", false,
		pulse.SequenceStep{Ensemble: "rabi", Params: params},
		pulse.SequenceStep{Ensemble: "rabi", Params: pulse.DefaultStepParams()},
	)
	require.NoError(t, err)
	require.NoError(t, svc.Store().PutSequence(seq))

	res, err := svc.SampleSequence(context.Background(), "loop")
	require.NoError(t, err)
	require.Len(t, res.Waveforms, 1)
	require.True(t, res.Finite)
	// one waveform of 2*3760+10 bins played 3 + 1 times
	require.Equal(t, uint64(4*(2*3760+10)), res.TotalBins)
	require.Equal(t, uint64(8), res.PulseCount)
	require.Equal(t, int64(4*(2*3760+10)), res.Info["length_bins"])
	require.Contains(t, res.Info, "estimated_bytes")
	require.Equal(t, uint64(2*3760+10), collector.samples["sequence"])

	stored, _ := svc.Store().Sequence("loop")
	require.Equal(t, res.Info["run_id"], stored.SamplingInfo()["run_id"])
}

func TestSampleAllKeepsOrder(t *testing.T) {
	svc, _, _ := newTestService(t, func(cfg *config.Config) { cfg.Sampling.Workers = 3 })
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 3})
	require.NoError(t, err)

	rabi, _ := svc.Store().Ensemble("rabi")
	for _, name := range []string{"copy_a", "copy_b", "copy_c"} {
		ens, err := pulse.NewEnsemble(name, rabi.SampleRateHz(), rabi.ChannelSet(), false, rabi.Steps()...)
		require.NoError(t, err)
		require.NoError(t, svc.Store().PutEnsemble(ens))
	}

	results, err := svc.SampleAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, name := range []string{"copy_a", "copy_b", "copy_c", "rabi"} {
		require.Equal(t, name, results[i].Name)
		require.NoError(t, results[i].Err)
		require.Equal(t, results[3].Result.TotalBins, results[i].Result.TotalBins)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err = svc.SampleAll(ctx, []string{"rabi", "copy_a"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestSampleWithChunkWriter(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 1})
	require.NoError(t, err)

	var chunks []sampler.Chunk
	writer := sampler.ChunkWriterFunc(func(_ context.Context, c sampler.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	res, err := svc.SampleEnsemble(context.Background(), "rabi", sampler.WithChunkWriter(writer, 4096))
	require.NoError(t, err)
	require.Nil(t, res.Buffers.Analog)
	require.NotEmpty(t, chunks)
	require.True(t, chunks[len(chunks)-1].Last)
}

func TestCheckReportsProblems(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 2})
	require.NoError(t, err)

	broken, err := pulse.NewEnsemble("broken", 1.25e9, pulse.NewChannelSet(pulse.AnalogChannel(1), pulse.DigitalChannel(1)), false,
		pulse.BlockStep{Block: "nope"})
	require.NoError(t, err)
	require.NoError(t, svc.Store().PutEnsemble(broken))

	params := pulse.DefaultStepParams()
	params.GoTo = 0
	seq, err := pulse.NewSequence("forever", false, pulse.SequenceStep{Ensemble: "rabi", Params: params})
	require.NoError(t, err)
	require.NoError(t, svc.Store().PutSequence(seq))

	reports := svc.Check()
	require.Len(t, reports, 3)
	byName := map[string]EntityReport{}
	for _, r := range reports {
		byName[r.Kind+"/"+r.Name] = r
	}
	require.False(t, byName["ensemble/broken"].OK())
	require.Contains(t, strings.Join(byName["ensemble/broken"].Errors, ";"), "nope")
	require.True(t, byName["ensemble/rabi"].OK())
	require.Equal(t, uint64(2*3760+10), byName["ensemble/rabi"].Analysis.TotalBins)
	require.True(t, byName["sequence/forever"].OK())
	require.Equal(t, uint64(32), byName["sequence/forever"].Plays["rabi"])
}

func TestWatchRebuildsImportedRecipes(t *testing.T) {
	svc, collector, recipeDir := newTestService(t, func(cfg *config.Config) {
		cfg.Recipes.Interval = config.Duration{Duration: 10 * time.Millisecond}
	})
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, "") }()

	time.Sleep(30 * time.Millisecond)
	updated := strings.Replace(rabiRecipe, "laser_length: 3.0e-6", "laser_length: 1e-6", 1)
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "rabi.yaml"), []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		block, ok := svc.Store().Block("rabi")
		return ok && block.BaseLengthBins() == 10+1250
	}, 3*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, collector.reloadCount(), 1)

	// overrides survive the rebuild
	ens, _ := svc.Store().Ensemble("rabi")
	require.Equal(t, uint32(1), ens.Steps()[0].Repetitions)

	cancel()
	require.NoError(t, <-done)
}

func TestNewWithSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsed.db")
	svc, _, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, Path: path}
	})
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 2})
	require.NoError(t, err)
	_, err = svc.SampleEnsemble(context.Background(), "rabi")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	reopened, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	ens, ok := reopened.Ensemble("rabi")
	require.True(t, ok)
	require.NotEmpty(t, ens.SamplingInfo()["run_id"])
}

func TestRunWorkerPoolSequential(t *testing.T) {
	out, aborted := runWorkerPool(context.Background(), 1, []int{1, 2, 3}, func(_ context.Context, v int) int { return v * v })
	require.False(t, aborted)
	require.Equal(t, []int{1, 4, 9}, out)

	out, aborted = runWorkerPool(context.Background(), 4, []int{1, 2, 3, 4, 5}, func(_ context.Context, v int) int { return v + 1 })
	require.False(t, aborted)
	require.Equal(t, []int{2, 3, 4, 5, 6}, out)
}
