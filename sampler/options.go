package sampler

import (
	"fmt"
	"math"

	"github.com/timzifer/pulsed/pulse"
)

// Option configures a sampling run.
type Option func(*settings) error

// Progress is reported after every completed block step.
type Progress struct {
	Step      int
	Steps     int
	Block     string
	BinsDone  uint64
	BinsTotal uint64
}

type settings struct {
	progress    func(Progress)
	chunks      ChunkWriter
	chunkBytes  uint64
	gating      pulse.ChannelID
	hasGating   bool
	noSweep     bool
	analogScale map[pulse.ChannelID]float64
	limits      pulse.SequenceLimits
	timeOffset  uint64
}

func newSettings(opts []Option) (*settings, error) {
	cfg := &settings{
		limits: pulse.SequenceLimits{TriggerLines: math.MaxInt32, FlagLines: math.MaxInt32},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithProgress installs a callback invoked after every completed block step.
func WithProgress(fn func(Progress)) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.progress = fn
		return nil
	}
}

// WithChunkWriter streams samples to w in chunks of at most maxBytes instead
// of collecting them in Result.Buffers.
func WithChunkWriter(w ChunkWriter, maxBytes uint64) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if w == nil {
			return fmt.Errorf("chunk writer must not be nil")
		}
		if maxBytes == 0 {
			return fmt.Errorf("chunk size must be positive")
		}
		cfg.chunks = w
		cfg.chunkBytes = maxBytes
		return nil
	}
}

// WithGatingChannel selects the channel whose rising edges are counted as
// detection gates. A digital channel is active while high; an analog channel
// while its primitive is not silent, so DC with amplitude 0 does not gate.
func WithGatingChannel(id pulse.ChannelID) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.gating = id
		cfg.hasGating = true
		return nil
	}
}

// WithoutSweep declares that the program has no swept parameter, allowing
// ensembles without a tick element.
func WithoutSweep() Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.noSweep = true
		return nil
	}
}

// WithAnalogScale normalises analog samples of the given channels to their
// peak-to-peak voltage so that ±vpp/2 maps to ±1.
func WithAnalogScale(vpp map[pulse.ChannelID]float64) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		scale := make(map[pulse.ChannelID]float64, len(vpp))
		for id, v := range vpp {
			if id.Kind != pulse.Analog {
				return fmt.Errorf("analog scale configured for non-analog channel %s", id)
			}
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("peak-to-peak voltage of %s must be positive, got %g", id, v)
			}
			scale[id] = 2 / v
		}
		cfg.analogScale = scale
		return nil
	}
}

// WithSequenceLimits bounds the trigger and flag lines a sequence may use.
func WithSequenceLimits(limits pulse.SequenceLimits) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.limits = limits
		return nil
	}
}

// withTimeOffset starts the rotating frame clock at the given bin.
func withTimeOffset(bins uint64) Option {
	return func(cfg *settings) error {
		cfg.timeOffset = bins
		return nil
	}
}
