package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/sampler"
	"github.com/timzifer/pulsed/service"
)

const defaultChunkBytes = 1 << 20

// SampleSummary describes one sampled waveform.
type SampleSummary struct {
	Name       string                 `json:"name"`
	LengthBins uint64                 `json:"length_bins"`
	Ticks      int                    `json:"ticks"`
	PulseCount uint64                 `json:"pulse_count"`
	Info       map[string]interface{} `json:"sampling_info,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// SampleOutput is the output of the sample command.
type SampleOutput struct {
	Waveforms []SampleSummary `json:"waveforms"`
	Files     []string        `json:"files,omitempty"`
}

type sampleOptions struct {
	sequence bool
	all      bool
	outDir   string
	progress bool
}

// NewSampleCommand creates the sample command.
func NewSampleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &sampleOptions{}

	cmd := &cobra.Command{
		Use:   "sample [name...]",
		Short: "Sample ensembles or a sequence into waveforms",
		Long: `Render stored ensembles into per-channel sample data and record the
sampling info on each ensemble. Several ensembles are sampled concurrently.
With --sequence exactly one sequence is sampled. With --out the samples are
streamed to raw files in that directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(rootOpts, opts, args, cmd)
		},
	}
	cmd.Flags().BoolVarP(&opts.sequence, "sequence", "s", false, "sample a sequence instead of ensembles")
	cmd.Flags().BoolVar(&opts.all, "all", false, "sample every stored ensemble")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "directory for raw sample files (default sampling.output_dir)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "report progress after every block step on stderr")

	return cmd
}

func runSample(rootOpts *RootOptions, opts *sampleOptions, names []string, cmd *cobra.Command) error {
	switch {
	case opts.sequence && len(names) != 1:
		return NewExitError(ExitCommandError, "--sequence takes exactly one name")
	case opts.sequence && opts.all:
		return NewExitError(ExitCommandError, "--all cannot be combined with --sequence")
	case opts.all && len(names) > 0:
		return NewExitError(ExitCommandError, "--all cannot be combined with names")
	case !opts.all && len(names) == 0:
		return NewExitError(ExitCommandError, "no ensemble named, use --all to sample every ensemble")
	}

	sess, err := openSession(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	var samplerOpts []sampler.Option
	if opts.progress {
		var mu sync.Mutex
		errOut := cmd.ErrOrStderr()
		samplerOpts = append(samplerOpts, sampler.WithProgress(func(p sampler.Progress) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(errOut, "step %d/%d block %s: %d/%d bins\n", p.Step+1, p.Steps, p.Block, p.BinsDone, p.BinsTotal)
		}))
	}

	outDir := opts.outDir
	if outDir == "" {
		outDir = sess.cfg.Sampling.OutputDir
	}
	var writer *service.DirWriter
	if outDir != "" {
		writer, err = service.NewDirWriter(outDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "output", err)
		}
		defer func() { _ = writer.Close() }()
		chunk := sess.svc.ChunkBytes()
		if chunk == 0 {
			chunk = defaultChunkBytes
		}
		samplerOpts = append(samplerOpts, sampler.WithChunkWriter(writer, chunk))
	}

	ctx := cmd.Context()
	var output SampleOutput
	failed := false
	if opts.sequence {
		res, err := sess.svc.SampleSequence(ctx, names[0], samplerOpts...)
		if err != nil {
			_ = sess.out.Error(service.FailureReason(err), err.Error(), names[0])
			return WrapExitError(ExitFailure, "sample", err)
		}
		for _, wf := range res.Waveforms {
			output.Waveforms = append(output.Waveforms, summary(wf))
		}
		output.Waveforms = append(output.Waveforms, SampleSummary{
			Name:       res.Name,
			LengthBins: res.TotalBins,
			PulseCount: res.PulseCount,
			Info:       res.Info,
		})
	} else {
		if opts.all {
			names = nil
		}
		results, err := sess.svc.SampleAll(ctx, names, samplerOpts...)
		if err != nil {
			return WrapExitError(ExitFailure, "sample", err)
		}
		for _, r := range results {
			if r.Err != nil {
				failed = true
				output.Waveforms = append(output.Waveforms, SampleSummary{Name: r.Name, Error: r.Err.Error()})
				continue
			}
			output.Waveforms = append(output.Waveforms, summary(r.Result))
		}
	}
	if writer != nil {
		output.Files = writer.Files()
	}

	if err := sess.out.Success(sampleText(output), output); err != nil {
		return err
	}
	if failed {
		return NewExitError(ExitFailure, "sampling failed")
	}
	return nil
}

func summary(res *sampler.Result) SampleSummary {
	return SampleSummary{
		Name:       res.Name,
		LengthBins: res.TotalBins,
		Ticks:      len(res.TickBins),
		PulseCount: res.PulseCount,
		Info:       res.Info,
	}
}

func sampleText(output SampleOutput) string {
	var b strings.Builder
	for _, wf := range output.Waveforms {
		if wf.Error != "" {
			fmt.Fprintf(&b, "FAIL %s: %s\n", wf.Name, wf.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: %d bins, %d ticks, %d pulses", wf.Name, wf.LengthBins, wf.Ticks, wf.PulseCount)
		if id, ok := wf.Info["run_id"]; ok {
			fmt.Fprintf(&b, " run %v", id)
		}
		b.WriteByte('\n')
	}
	for _, file := range output.Files {
		fmt.Fprintf(&b, "wrote %s\n", file)
	}
	return b.String()
}
