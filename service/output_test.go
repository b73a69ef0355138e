package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sampler"
)

func TestDirWriterWritesChannelFiles(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.ImportRecipe("rabi", map[string]float64{"num_of_points": 3})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	writer, err := NewDirWriter(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	res, err := svc.SampleEnsemble(context.Background(), "rabi", sampler.WithChunkWriter(writer, 1024))
	require.NoError(t, err)

	analog := filepath.Join(dir, "rabi_a_ch1.bin")
	digital := filepath.Join(dir, "rabi_d_ch1.bin")
	require.Equal(t, []string{analog, digital}, writer.Files())

	info, err := os.Stat(analog)
	require.NoError(t, err)
	require.Equal(t, int64(4*res.TotalBins), info.Size())
	info, err = os.Stat(digital)
	require.NoError(t, err)
	require.Equal(t, int64(res.TotalBins), info.Size())
}

func TestDirWriterEncoding(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDirWriter(dir)
	require.NoError(t, err)

	a, d := pulse.AnalogChannel(1), pulse.DigitalChannel(2)
	ctx := context.Background()
	require.NoError(t, writer.WriteChunk(ctx, sampler.Chunk{
		Waveform: "w",
		Buffers: sampler.Buffers{
			Analog:  map[pulse.ChannelID][]float32{a: {1, 0.5}},
			Digital: map[pulse.ChannelID][]bool{d: {true, false}},
		},
	}))
	require.NoError(t, writer.WriteChunk(ctx, sampler.Chunk{
		Waveform: "w",
		Offset:   2,
		Buffers: sampler.Buffers{
			Analog:  map[pulse.ChannelID][]float32{a: {0}},
			Digital: map[pulse.ChannelID][]bool{d: {true}},
		},
		Last: true,
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "w_a_ch1.bin"))
	require.NoError(t, err)
	// 1.0, 0.5 and 0.0 as little-endian float32
	require.Equal(t, []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x3f, 0, 0, 0, 0}, raw)
	raw, err = os.ReadFile(filepath.Join(dir, "w_d_ch2.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 1}, raw)

	if err := writer.WriteChunk(ctx, sampler.Chunk{Waveform: "x", Offset: 5, Buffers: sampler.Buffers{
		Analog: map[pulse.ChannelID][]float32{a: {0}},
	}}); err == nil {
		t.Fatalf("expected error for chunk without leading chunk")
	}
}
