package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sampler"
)

// DirWriter is a sampler.ChunkWriter storing one raw file per waveform
// channel, named <waveform>_<channel>.bin. Analog samples are little-endian
// float32, digital samples one byte per bin.
type DirWriter struct {
	dir string

	mu    sync.Mutex
	open  map[string]map[string]*os.File
	files []string
}

var _ sampler.ChunkWriter = (*DirWriter)(nil)

// NewDirWriter creates dir if needed.
func NewDirWriter(dir string) (*DirWriter, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirWriter{dir: dir, open: make(map[string]map[string]*os.File)}, nil
}

// WriteChunk appends the chunk to the channel files of its waveform. The
// files of a waveform are closed with its last chunk.
func (w *DirWriter) WriteChunk(ctx context.Context, chunk sampler.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range sortedIDs(chunk.Analog) {
		f, err := w.file(chunk.Waveform, id, chunk.Offset)
		if err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, chunk.Analog[id]); err != nil {
			return fmt.Errorf("write %s: %w", f.Name(), err)
		}
	}
	for _, id := range sortedIDs(chunk.Digital) {
		f, err := w.file(chunk.Waveform, id, chunk.Offset)
		if err != nil {
			return err
		}
		levels := chunk.Digital[id]
		buf := make([]byte, len(levels))
		for i, high := range levels {
			if high {
				buf[i] = 1
			}
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write %s: %w", f.Name(), err)
		}
	}
	if chunk.Last {
		return w.closeWaveform(chunk.Waveform)
	}
	return nil
}

func (w *DirWriter) file(waveformName string, id pulse.ChannelID, offset uint64) (*os.File, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.bin", waveformName, id))
	if f, ok := w.open[waveformName][path]; ok {
		return f, nil
	}
	if offset != 0 {
		return nil, fmt.Errorf("waveform %s channel %s: chunk at offset %d without a leading chunk", waveformName, id, offset)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if w.open[waveformName] == nil {
		w.open[waveformName] = make(map[string]*os.File)
	}
	w.open[waveformName][path] = f
	w.files = append(w.files, path)
	return f, nil
}

func (w *DirWriter) closeWaveform(waveformName string) error {
	var errs []error
	for _, f := range w.open[waveformName] {
		errs = append(errs, f.Close())
	}
	delete(w.open, waveformName)
	return errors.Join(errs...)
}

// Files lists every file written so far, sorted.
func (w *DirWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]string(nil), w.files...)
	sort.Strings(out)
	return out
}

// Close closes files left open by an interrupted run.
func (w *DirWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for name := range w.open {
		errs = append(errs, w.closeWaveform(name))
	}
	return errors.Join(errs...)
}

func sortedIDs[T any](m map[pulse.ChannelID]T) []pulse.ChannelID {
	ids := make([]pulse.ChannelID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
