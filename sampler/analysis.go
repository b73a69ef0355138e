package sampler

import (
	"fmt"

	"github.com/timzifer/pulsed/pulse"
)

// StepLength is the number of bins contributed by a block played reps+1
// times: the sum of base+k·inc for k = 0..reps.
func StepLength(base uint64, inc int64, reps uint32) int64 {
	plays := int64(reps) + 1
	return int64(base)*plays + inc*int64(reps)*plays/2
}

// Analysis holds the metadata derived from an ensemble without evaluating
// any waveform.
type Analysis struct {
	TotalBins        uint64
	NumberOfElements int
	// ElementBins lists the length of every element play in play order.
	ElementBins  []uint64
	TickBins     []uint64
	TickSeconds  []float64
	PulseCount   uint64
	RisingBins   map[pulse.ChannelID][]uint64
	FallingBins  map[pulse.ChannelID][]uint64
	StepBins     []uint64
	TickLocation *pulse.TickLocation
}

// Analyze resolves the ensemble's blocks and computes its lengths, tick axis,
// gating count and digital edges.
func Analyze(ens *pulse.Ensemble, blocks pulse.BlockResolver, opts ...Option) (*Analysis, error) {
	cfg, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	resolved, err := ens.Resolve(blocks)
	if err != nil {
		return nil, err
	}
	return analyze(ens, resolved, cfg)
}

func analyze(ens *pulse.Ensemble, blocks []*pulse.Block, cfg *settings) (*Analysis, error) {
	if cfg.hasGating && !ens.ChannelSet().Contains(cfg.gating) {
		return nil, fmt.Errorf("ensemble %s: gating channel %s is not active", ens.Name(), cfg.gating)
	}
	steps := ens.Steps()
	out := &Analysis{
		RisingBins:  make(map[pulse.ChannelID][]uint64),
		FallingBins: make(map[pulse.ChannelID][]uint64),
		StepBins:    make([]uint64, len(steps)),
	}

	var ticks []pulse.TickLocation
	for i, step := range steps {
		for _, idx := range blocks[i].Aggregate().TickElements {
			ticks = append(ticks, pulse.TickLocation{Step: i, Block: step.Block, Element: idx})
		}
	}
	switch {
	case len(ticks) > 1, len(ticks) == 0 && !cfg.noSweep:
		return nil, &pulse.AmbiguousTickError{Ensemble: ens.Name(), Locations: ticks}
	case len(ticks) == 1:
		loc := ticks[0]
		out.TickLocation = &loc
	}

	levels := make(map[pulse.ChannelID]bool)
	var offset uint64
	for i, step := range steps {
		block := blocks[i]
		elements := block.Elements()
		for j, el := range elements {
			if err := checkLength(block.Name(), j, el, step.Repetitions); err != nil {
				return nil, err
			}
		}
		start := offset
		for k := uint32(0); ; k++ {
			for _, el := range elements {
				length, _ := el.LengthAt(k)
				for id, level := range el.DigitalMap() {
					prev := levels[id]
					if level && !prev {
						out.RisingBins[id] = append(out.RisingBins[id], offset)
					} else if !level && prev {
						out.FallingBins[id] = append(out.FallingBins[id], offset)
					}
					levels[id] = level
				}
				out.ElementBins = append(out.ElementBins, length)
				offset += length
			}
			if k == step.Repetitions {
				break
			}
		}
		out.NumberOfElements += len(elements) * (int(step.Repetitions) + 1)
		out.StepBins[i] = offset - start
		var want int64
		for _, el := range elements {
			want += StepLength(el.LengthBins(), el.IncrementBins(), step.Repetitions)
		}
		if want != int64(out.StepBins[i]) {
			return nil, fmt.Errorf("ensemble %s step %d: played %d bins, closed form gives %d", ens.Name(), i, out.StepBins[i], want)
		}
		if cfg.hasGating {
			out.PulseCount += countGates(elements, cfg.gating) * (uint64(step.Repetitions) + 1)
		}
		if out.TickLocation != nil && out.TickLocation.Step == i {
			tick := elements[out.TickLocation.Element]
			for k := uint32(0); ; k++ {
				length, _ := tick.LengthAt(k)
				out.TickBins = append(out.TickBins, length)
				out.TickSeconds = append(out.TickSeconds, float64(length)/ens.SampleRateHz())
				if k == step.Repetitions {
					break
				}
			}
		}
	}
	out.TotalBins = offset
	return out, nil
}

func checkLength(block string, index int, el pulse.Element, reps uint32) error {
	if el.IncrementBins() >= 0 {
		return nil
	}
	if _, ok := el.LengthAt(reps); ok {
		return nil
	}
	shrink := uint64(-el.IncrementBins())
	first := el.LengthBins()/shrink + 1
	return &pulse.NegativeLengthError{
		Block:      block,
		Element:    index,
		Repetition: uint32(first),
		Length:     int64(el.LengthBins()) + int64(first)*el.IncrementBins(),
	}
}

// countGates counts the rising edges of the gating channel over one play of
// the element list. Analog channels are active unless their primitive is
// silent (Idle, or zero amplitude).
func countGates(elements []pulse.Element, gating pulse.ChannelID) uint64 {
	var count uint64
	armed := false
	for _, el := range elements {
		if isActive(el, gating) {
			if !armed {
				count++
				armed = true
			}
		} else {
			armed = false
		}
	}
	return count
}

func isActive(el pulse.Element, id pulse.ChannelID) bool {
	if id.Kind == pulse.Digital {
		level, _ := el.Digital(id)
		return level
	}
	prim, ok := el.Analog(id)
	return ok && !prim.IsSilent()
}

// Info renders the analysis into the sampling_info form stored on the
// ensemble.
func (a *Analysis) Info(ens *pulse.Ensemble) map[string]interface{} {
	info := map[string]interface{}{
		"length_bins":          int64(a.TotalBins),
		"number_of_elements":   int64(a.NumberOfElements),
		"element_length_bins":  uintList(a.ElementBins),
		"digital_rising_bins":  edgeMap(a.RisingBins),
		"digital_falling_bins": edgeMap(a.FallingBins),
		"tick_bins":            uintList(a.TickBins),
		"pulse_count":          int64(a.PulseCount),
		"sample_rate_hz":       ens.SampleRateHz(),
		"rotating_frame":       ens.RotatingFrame(),
	}
	return info
}

func uintList(values []uint64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func edgeMap(edges map[pulse.ChannelID][]uint64) map[string]interface{} {
	out := make(map[string]interface{}, len(edges))
	for id, bins := range edges {
		out[id.String()] = uintList(bins)
	}
	return out
}
