package service

import (
	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sampler"
	"github.com/timzifer/pulsed/sequencer"
)

// EntityReport summarises the static checks of one stored entity.
type EntityReport struct {
	Kind   string
	Name   string
	Errors []string
	// Set for ensembles that analysed cleanly.
	Analysis *sampler.Analysis
	// Set for sequences: plays per ensemble over one bounded simulation.
	Plays map[string]uint64
}

// OK reports whether no check failed.
func (r EntityReport) OK() bool { return len(r.Errors) == 0 }

// Check runs every static check on the stored ensembles and sequences
// without producing samples: reference resolution, channel sets, tick
// placement, negative lengths, hardware limits and sequence control flow.
func (s *Service) Check() []EntityReport {
	lib := s.store.Snapshot()
	names := s.store.Names()
	reports := make([]EntityReport, 0, len(names.Ensembles)+len(names.Sequences))

	for _, name := range names.Ensembles {
		ens, ok := lib.Ensemble(name)
		if !ok {
			continue
		}
		report := EntityReport{Kind: kindEnsemble, Name: name}
		if s.hardware != nil {
			if err := s.hardware.ValidateEnsemble(ens); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		}
		analysis, err := sampler.Analyze(ens, lib, s.SamplerOptions()...)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else {
			report.Analysis = analysis
			if s.hardware != nil {
				if err := s.hardware.ValidateWaveformLength(name, analysis.TotalBins); err != nil {
					report.Errors = append(report.Errors, err.Error())
				}
			}
		}
		reports = append(reports, report)
	}

	for _, name := range names.Sequences {
		seq, ok := lib.Sequence(name)
		if !ok {
			continue
		}
		report := EntityReport{Kind: kindSequence, Name: name}
		if s.hardware != nil {
			if err := s.hardware.ValidateSequence(seq, lib); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		} else if _, err := seq.Resolve(lib); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		if trace, err := s.Simulate(seq, s.SequenceLimits(seq), 0); err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else {
			report.Plays = trace.Plays()
		}
		reports = append(reports, report)
	}
	return reports
}

// Simulate runs the sequencer model for at most maxCycles cycles, or
// sixteen passes over the step table when maxCycles is zero. Without a
// sequencer.WithTriggers option no trigger ever fires.
func (s *Service) Simulate(seq *pulse.Sequence, limits pulse.SequenceLimits, maxCycles int, opts ...sequencer.Option) (sequencer.Trace, error) {
	if maxCycles <= 0 {
		maxCycles = 16 * (seq.Len() + 1)
	}
	var base []sequencer.Option
	if s.cfg.Sampling.InfiniteCap > 0 {
		base = append(base, sequencer.WithInfiniteCap(uint64(s.cfg.Sampling.InfiniteCap)))
	}
	sim, err := sequencer.New(seq, limits, append(base, opts...)...)
	if err != nil {
		return sequencer.Trace{}, err
	}
	return sim.Run(maxCycles)
}

// SequenceLimits returns the hardware line limits, or limits wide enough for
// seq when no hardware is configured.
func (s *Service) SequenceLimits(seq *pulse.Sequence) pulse.SequenceLimits {
	if s.hardware != nil {
		return s.hardware.Limits()
	}
	return unboundedLines(seq)
}

func unboundedLines(seq *pulse.Sequence) pulse.SequenceLimits {
	limits := pulse.SequenceLimits{}
	for _, step := range seq.Steps() {
		p := step.Params
		for _, line := range []int32{p.EventJumpTo, p.WaitFor} {
			if int(line)+1 > limits.TriggerLines {
				limits.TriggerLines = int(line) + 1
			}
		}
		if int(p.FlagHigh)+1 > limits.FlagLines {
			limits.FlagLines = int(p.FlagHigh) + 1
		}
	}
	return limits
}
