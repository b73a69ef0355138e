// Package sampler lowers ensembles and sequences into per-channel sample
// buffers plus the derived sweep and gating metadata.
package sampler

import (
	"context"
	"fmt"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/waveform"
)

// Result is the output of sampling one ensemble.
type Result struct {
	Name        string
	Buffers     Buffers
	TickBins    []uint64
	TickSeconds []float64
	TotalBins   uint64
	PulseCount  uint64
	Analysis    *Analysis
	// Info is the sampling_info map to store on the ensemble.
	Info map[string]interface{}
}

// Sample lowers the named ensemble of lib. The library must not be mutated
// while sampling runs; pass a snapshot.
func Sample(ctx context.Context, lib *pulse.Library, name string, opts ...Option) (*Result, error) {
	ens, ok := lib.Ensemble(name)
	if !ok {
		return nil, fmt.Errorf("ensemble %q not found", name)
	}
	return SampleEnsemble(ctx, ens, lib, opts...)
}

// SampleEnsemble lowers ens, resolving its blocks through blocks.
func SampleEnsemble(ctx context.Context, ens *pulse.Ensemble, blocks pulse.BlockResolver, opts ...Option) (*Result, error) {
	cfg, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return sampleEnsemble(ctx, ens, ens.Name(), blocks, cfg)
}

func sampleEnsemble(ctx context.Context, ens *pulse.Ensemble, waveformName string, blocks pulse.BlockResolver, cfg *settings) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resolved, err := ens.Resolve(blocks)
	if err != nil {
		return nil, err
	}
	analysis, err := analyze(ens, resolved, cfg)
	if err != nil {
		return nil, err
	}

	var out sink
	var buffers *bufferSink
	if cfg.chunks != nil {
		out = newChunkSink(cfg.chunks, waveformName, ens.ChannelSet(), cfg.chunkBytes)
	} else {
		buffers = newBufferSink(ens.ChannelSet(), analysis.TotalBins)
		out = buffers
	}

	rate := ens.SampleRateHz()
	rotating := ens.RotatingFrame()
	steps := ens.Steps()
	var offset uint64
	for i, step := range steps {
		elements := resolved[i].Elements()
		for k := uint32(0); ; k++ {
			for _, el := range elements {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				length, _ := el.LengthAt(k)
				if length == 0 {
					continue
				}
				analog := make(map[pulse.ChannelID][]float32, len(el.AnalogMap()))
				for id, prim := range el.AnalogMap() {
					analog[id] = cfg.render(id, prim, length, offset, rotating, rate)
				}
				if err := out.write(ctx, analog, el.DigitalMap(), length); err != nil {
					return nil, err
				}
				offset += length
			}
			if k == step.Repetitions {
				break
			}
		}
		if cfg.progress != nil {
			cfg.progress(Progress{
				Step:      i,
				Steps:     len(steps),
				Block:     step.Block,
				BinsDone:  offset,
				BinsTotal: analysis.TotalBins,
			})
		}
	}
	if err := out.close(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		Name:        waveformName,
		TickBins:    analysis.TickBins,
		TickSeconds: analysis.TickSeconds,
		TotalBins:   analysis.TotalBins,
		PulseCount:  analysis.PulseCount,
		Analysis:    analysis,
		Info:        analysis.Info(ens),
	}
	if buffers != nil {
		res.Buffers = buffers.buf
	}
	return res, nil
}

// render evaluates one element play of an analog channel. In the rotating
// frame the time axis is absolute since the start of the program, so phase
// stays continuous across elements. Chirps always sweep over their own window.
func (cfg *settings) render(id pulse.ChannelID, prim waveform.Primitive, length, offset uint64, rotating bool, rate float64) []float32 {
	start := uint64(0)
	if rotating && prim.Kind() != waveform.KindChirp {
		start = cfg.timeOffset + offset
	}
	t := make([]float64, length)
	for i := range t {
		t[i] = float64(start+uint64(i)) / rate
	}
	values := prim.Samples(t)
	scale, scaled := cfg.analogScale[id]
	samples := make([]float32, length)
	for i, v := range values {
		if scaled {
			v *= scale
		}
		samples[i] = float32(v)
	}
	return samples
}
