package sampler

import (
	"context"
	"fmt"

	"github.com/timzifer/pulsed/pulse"
)

// SequenceResult is the output of sampling a sequence: the waveforms to
// upload plus the step table referencing them.
type SequenceResult struct {
	Name      string
	Waveforms []*Result
	// StepWaveforms maps every sequence step to an index into Waveforms.
	StepWaveforms []int
	Steps         []pulse.SequenceStep
	// Finite is false when a step loops forever; TotalBins and PulseCount
	// then only cover a single pass over every step.
	Finite     bool
	TotalBins  uint64
	PulseCount uint64
	Info       map[string]interface{}
}

// SampleSequence lowers the named sequence of lib. In the rotating frame
// every step gets its own waveform named <ensemble>_<step> whose clock starts
// where the previous step ended. Otherwise every distinct ensemble is sampled
// once.
func SampleSequence(ctx context.Context, lib *pulse.Library, name string, opts ...Option) (*SequenceResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	seq, ok := lib.Sequence(name)
	if !ok {
		return nil, fmt.Errorf("sequence %q not found", name)
	}
	cfg, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	if err := seq.Validate(cfg.limits); err != nil {
		return nil, err
	}
	ensembles, err := seq.Resolve(lib)
	if err != nil {
		return nil, err
	}

	steps := seq.Steps()
	res := &SequenceResult{
		Name:          seq.Name(),
		StepWaveforms: make([]int, len(steps)),
		Steps:         steps,
		Finite:        seq.IsFinite(),
	}
	byEnsemble := make(map[string]int)
	for i, step := range steps {
		ens := ensembles[i]
		if !seq.RotatingFrame() {
			if idx, seen := byEnsemble[step.Ensemble]; seen {
				res.StepWaveforms[i] = idx
				res.accumulate(res.Waveforms[idx], step.Params)
				continue
			}
		}
		stepCfg := *cfg
		waveformName := ens.Name()
		if seq.RotatingFrame() {
			waveformName = fmt.Sprintf("%s_%03d", ens.Name(), i)
			stepCfg.timeOffset = cfg.timeOffset + res.offsetBins()
		}
		wf, err := sampleEnsemble(ctx, ens, waveformName, lib, &stepCfg)
		if err != nil {
			return nil, fmt.Errorf("sequence %s step %d: %w", seq.Name(), i, err)
		}
		res.Waveforms = append(res.Waveforms, wf)
		idx := len(res.Waveforms) - 1
		byEnsemble[step.Ensemble] = idx
		res.StepWaveforms[i] = idx
		res.accumulate(wf, step.Params)
	}
	res.Info = res.info()
	return res, nil
}

func (r *SequenceResult) offsetBins() uint64 {
	var total uint64
	for _, wf := range r.Waveforms {
		total += wf.TotalBins
	}
	return total
}

func (r *SequenceResult) accumulate(wf *Result, params pulse.StepParams) {
	plays := uint64(1)
	if params.Repetitions > 0 {
		plays = uint64(params.Repetitions) + 1
	}
	r.TotalBins += wf.TotalBins * plays
	r.PulseCount += wf.PulseCount * plays
}

func (r *SequenceResult) info() map[string]interface{} {
	names := make([]interface{}, len(r.StepWaveforms))
	for i, idx := range r.StepWaveforms {
		names[i] = r.Waveforms[idx].Name
	}
	info := map[string]interface{}{
		"waveforms":   names,
		"is_finite":   r.Finite,
		"pulse_count": int64(r.PulseCount),
	}
	if r.Finite {
		info["length_bins"] = int64(r.TotalBins)
	}
	return info
}
