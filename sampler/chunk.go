package sampler

import (
	"context"

	"github.com/timzifer/pulsed/pulse"
)

// Buffers holds the per-channel sample data of one waveform.
type Buffers struct {
	Analog  map[pulse.ChannelID][]float32
	Digital map[pulse.ChannelID][]bool
}

// Len returns the number of bins held by the buffers.
func (b Buffers) Len() int {
	for _, samples := range b.Analog {
		return len(samples)
	}
	for _, samples := range b.Digital {
		return len(samples)
	}
	return 0
}

// Chunk is a contiguous slice of a waveform starting at Offset bins.
type Chunk struct {
	Waveform string
	Offset   uint64
	Buffers
	// Last marks the final chunk of a waveform.
	Last bool
}

// ChunkWriter receives waveform chunks in order.
type ChunkWriter interface {
	WriteChunk(ctx context.Context, chunk Chunk) error
}

// ChunkWriterFunc adapts a function to ChunkWriter.
type ChunkWriterFunc func(ctx context.Context, chunk Chunk) error

// WriteChunk implements ChunkWriter.
func (f ChunkWriterFunc) WriteChunk(ctx context.Context, chunk Chunk) error {
	return f(ctx, chunk)
}

// sink receives sample segments in play order.
type sink interface {
	write(ctx context.Context, analog map[pulse.ChannelID][]float32, digital map[pulse.ChannelID]bool, n uint64) error
	close(ctx context.Context) error
}

type bufferSink struct {
	buf Buffers
}

func newBufferSink(channels pulse.ChannelSet, total uint64) *bufferSink {
	s := &bufferSink{buf: Buffers{
		Analog:  make(map[pulse.ChannelID][]float32),
		Digital: make(map[pulse.ChannelID][]bool),
	}}
	for _, id := range channels {
		if id.Kind == pulse.Analog {
			s.buf.Analog[id] = make([]float32, 0, total)
		} else {
			s.buf.Digital[id] = make([]bool, 0, total)
		}
	}
	return s
}

func (s *bufferSink) write(_ context.Context, analog map[pulse.ChannelID][]float32, digital map[pulse.ChannelID]bool, n uint64) error {
	for id, samples := range analog {
		s.buf.Analog[id] = append(s.buf.Analog[id], samples...)
	}
	for id, level := range digital {
		s.buf.Digital[id] = appendLevel(s.buf.Digital[id], level, n)
	}
	return nil
}

func (s *bufferSink) close(context.Context) error { return nil }

func appendLevel(dst []bool, level bool, n uint64) []bool {
	for i := uint64(0); i < n; i++ {
		dst = append(dst, level)
	}
	return dst
}

// chunkSink splits segments into chunks of at most maxBins bins.
type chunkSink struct {
	w        ChunkWriter
	name     string
	channels pulse.ChannelSet
	maxBins  uint64
	offset   uint64
	pending  *bufferSink
	buffered uint64
}

func newChunkSink(w ChunkWriter, name string, channels pulse.ChannelSet, maxBytes uint64) *chunkSink {
	perBin := uint64(0)
	for _, id := range channels {
		if id.Kind == pulse.Analog {
			perBin += 4
		} else {
			perBin++
		}
	}
	maxBins := uint64(1)
	if perBin > 0 && maxBytes/perBin > 0 {
		maxBins = maxBytes / perBin
	}
	return &chunkSink{w: w, name: name, channels: channels, maxBins: maxBins, pending: newBufferSink(channels, 0)}
}

func (s *chunkSink) write(ctx context.Context, analog map[pulse.ChannelID][]float32, digital map[pulse.ChannelID]bool, n uint64) error {
	var done uint64
	for done < n {
		take := n - done
		if room := s.maxBins - s.buffered; take > room {
			take = room
		}
		part := make(map[pulse.ChannelID][]float32, len(analog))
		for id, samples := range analog {
			part[id] = samples[done : done+take]
		}
		if err := s.pending.write(ctx, part, digital, take); err != nil {
			return err
		}
		s.buffered += take
		done += take
		if s.buffered == s.maxBins {
			if err := s.flush(ctx, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *chunkSink) flush(ctx context.Context, last bool) error {
	if s.buffered == 0 && !last {
		return nil
	}
	chunk := Chunk{Waveform: s.name, Offset: s.offset, Buffers: s.pending.buf, Last: last}
	s.offset += s.buffered
	s.buffered = 0
	s.pending = newBufferSink(s.channels, 0)
	return s.w.WriteChunk(ctx, chunk)
}

func (s *chunkSink) close(ctx context.Context) error {
	return s.flush(ctx, true)
}
