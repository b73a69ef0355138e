package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timzifer/pulsed/hardware"
	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sampler"
	"github.com/timzifer/pulsed/store"
)

const (
	kindEnsemble = "ensemble"
	kindSequence = "sequence"
)

// SamplerOptions returns the sampler options derived from the configuration,
// followed by extra.
func (s *Service) SamplerOptions(extra ...sampler.Option) []sampler.Option {
	opts := make([]sampler.Option, 0, len(extra)+3)
	if id, ok := s.cfg.GatingChannel(); ok {
		opts = append(opts, sampler.WithGatingChannel(id))
	}
	if scale, err := s.cfg.AnalogScale(); err == nil && len(scale) > 0 {
		opts = append(opts, sampler.WithAnalogScale(scale))
	}
	if s.hardware != nil {
		opts = append(opts, sampler.WithSequenceLimits(s.hardware.Limits()))
	}
	return append(opts, extra...)
}

// ChunkBytes returns the configured chunk size for streamed output.
func (s *Service) ChunkBytes() uint64 { return s.cfg.Sampling.ChunkBytes }

// SampleEnsemble lowers a stored ensemble, checks the result against the
// hardware descriptor and stores the sampling info on the ensemble.
func (s *Service) SampleEnsemble(ctx context.Context, name string, opts ...sampler.Option) (*sampler.Result, error) {
	logger := s.logger.With().Str("ensemble", name).Logger()
	lib, gens := s.store.Capture()
	ens, ok := lib.Ensemble(name)
	if !ok {
		return nil, s.fail(kindEnsemble, fmt.Errorf("ensemble %q: %w", name, store.ErrNotFound))
	}
	if s.hardware != nil {
		if err := s.hardware.ValidateEnsemble(ens); err != nil {
			return nil, s.fail(kindEnsemble, err)
		}
	}

	started := s.now()
	res, err := sampler.Sample(ctx, lib, name, s.SamplerOptions(opts...)...)
	if err != nil {
		logger.Error().Err(err).Msg("sampling failed")
		return nil, s.fail(kindEnsemble, err)
	}
	elapsed := s.now().Sub(started)

	info := res.Info
	if s.hardware != nil {
		if err := s.hardware.ValidateWaveformLength(res.Name, res.TotalBins); err != nil {
			return nil, s.fail(kindEnsemble, err)
		}
		size, err := s.hardware.EstimateBytes(ens.ChannelSet(), res.TotalBins)
		if err != nil {
			return nil, s.fail(kindEnsemble, err)
		}
		info["estimated_bytes"] = int64(size)
	}
	s.stamp(info, started)
	if err := s.store.SetEnsembleSamplingInfo(name, gens.Ensembles[name], info); err != nil {
		if !errors.Is(err, store.ErrStale) {
			return nil, s.fail(kindEnsemble, err)
		}
		logger.Warn().Err(err).Msg("ensemble changed while sampling, sampling info not stored")
	}
	res.Info = info

	s.telemetry.ObserveSampling(kindEnsemble, res.TotalBins, elapsed)
	logger.Info().
		Uint64("length_bins", res.TotalBins).
		Uint64("pulse_count", res.PulseCount).
		Int("ticks", len(res.TickBins)).
		Dur("elapsed", elapsed).
		Str("run_id", fmt.Sprint(info["run_id"])).
		Msg("ensemble sampled")
	return res, nil
}

// SampleSequence lowers a stored sequence and stores its sampling info.
func (s *Service) SampleSequence(ctx context.Context, name string, opts ...sampler.Option) (*sampler.SequenceResult, error) {
	logger := s.logger.With().Str("sequence", name).Logger()
	lib, gens := s.store.Capture()
	seq, ok := lib.Sequence(name)
	if !ok {
		return nil, s.fail(kindSequence, fmt.Errorf("sequence %q: %w", name, store.ErrNotFound))
	}
	if s.hardware != nil {
		if err := s.hardware.ValidateSequence(seq, lib); err != nil {
			return nil, s.fail(kindSequence, err)
		}
	}

	started := s.now()
	res, err := sampler.SampleSequence(ctx, lib, name, s.SamplerOptions(opts...)...)
	if err != nil {
		logger.Error().Err(err).Msg("sampling failed")
		return nil, s.fail(kindSequence, err)
	}
	elapsed := s.now().Sub(started)

	info := res.Info
	if s.hardware != nil {
		var total uint64
		for _, wf := range res.Waveforms {
			if err := s.hardware.ValidateWaveformLength(wf.Name, wf.TotalBins); err != nil {
				return nil, s.fail(kindSequence, err)
			}
			ens, _ := lib.Ensemble(res.Steps[stepOf(res, wf)].Ensemble)
			size, err := s.hardware.EstimateBytes(ens.ChannelSet(), wf.TotalBins)
			if err != nil {
				return nil, s.fail(kindSequence, err)
			}
			total += size
		}
		info["estimated_bytes"] = int64(total)
	}
	s.stamp(info, started)
	if err := s.store.SetSequenceSamplingInfo(name, gens.Sequences[name], info); err != nil {
		if !errors.Is(err, store.ErrStale) {
			return nil, s.fail(kindSequence, err)
		}
		logger.Warn().Err(err).Msg("sequence changed while sampling, sampling info not stored")
	}
	res.Info = info

	var bins uint64
	for _, wf := range res.Waveforms {
		bins += wf.TotalBins
	}
	s.telemetry.ObserveSampling(kindSequence, bins, elapsed)
	logger.Info().
		Int("waveforms", len(res.Waveforms)).
		Bool("finite", res.Finite).
		Uint64("pulse_count", res.PulseCount).
		Dur("elapsed", elapsed).
		Msg("sequence sampled")
	return res, nil
}

// BatchResult is the outcome of sampling one ensemble in SampleAll.
type BatchResult struct {
	Name   string
	Result *sampler.Result
	Err    error
}

// SampleAll samples the named ensembles concurrently, bounded by the
// configured worker count. A nil names slice samples every stored ensemble.
func (s *Service) SampleAll(ctx context.Context, names []string, opts ...sampler.Option) ([]BatchResult, error) {
	if names == nil {
		names = s.store.Names().Ensembles
	}
	results, aborted := runWorkerPool(ctx, s.workers, names, func(ctx context.Context, name string) BatchResult {
		res, err := s.SampleEnsemble(ctx, name, opts...)
		return BatchResult{Name: name, Result: res, Err: err}
	})
	for i := range results {
		if results[i].Name == "" {
			results[i] = BatchResult{Name: names[i], Err: ctx.Err()}
		}
	}
	if aborted {
		return results, ctx.Err()
	}
	return results, nil
}

func stepOf(res *sampler.SequenceResult, wf *sampler.Result) int {
	for step, idx := range res.StepWaveforms {
		if res.Waveforms[idx] == wf {
			return step
		}
	}
	return 0
}

func (s *Service) stamp(info map[string]interface{}, started time.Time) {
	info["run_id"] = uuid.Must(uuid.NewV7()).String()
	info["generated_at"] = started.UTC().Format(time.RFC3339Nano)
}

func (s *Service) fail(kind string, err error) error {
	s.telemetry.IncSamplingFailure(kind, FailureReason(err))
	return err
}

// FailureReason maps an error onto a short label for metrics.
func FailureReason(err error) string {
	var (
		negative   *pulse.NegativeLengthError
		ambiguous  *pulse.AmbiguousTickError
		block      *pulse.UnresolvedBlockReferenceError
		ensemble   *pulse.UnresolvedEnsembleReferenceError
		mismatch   *pulse.ChannelSetMismatchError
		stepRef    *pulse.InvalidStepReferenceError
		fallthru   *pulse.SequenceFallthroughError
		outOfRange *hardware.OutOfHardwareRangeError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.As(err, &negative):
		return "negative_length"
	case errors.As(err, &ambiguous):
		return "ambiguous_tick"
	case errors.As(err, &block), errors.As(err, &ensemble):
		return "unresolved_reference"
	case errors.As(err, &mismatch):
		return "channel_mismatch"
	case errors.As(err, &stepRef), errors.As(err, &fallthru):
		return "invalid_sequence"
	case errors.As(err, &outOfRange):
		return "hardware_range"
	default:
		return "other"
	}
}
