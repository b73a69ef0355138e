package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/sampler"
	"github.com/timzifer/pulsed/service"
	"github.com/timzifer/pulsed/store"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var sequence bool

	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show the derived metadata of an ensemble or sequence",
		Long: `Analyse a stored ensemble without rendering samples: length, tick
positions, pulse count and digital edges. With --sequence the step table of
a sequence is shown instead.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()
			if sequence {
				return sequenceInfo(sess, args[0])
			}
			return ensembleInfo(sess, args[0])
		},
	}
	cmd.Flags().BoolVarP(&sequence, "sequence", "s", false, "look up a sequence instead of an ensemble")

	return cmd
}

func ensembleInfo(sess *session, name string) error {
	lib := sess.svc.Store().Snapshot()
	ens, ok := lib.Ensemble(name)
	if !ok {
		err := fmt.Errorf("ensemble %q: %w", name, store.ErrNotFound)
		_ = sess.out.Error("not_found", err.Error(), nil)
		return WrapExitError(ExitFailure, "info", err)
	}
	analysis, err := sampler.Analyze(ens, lib, sess.svc.SamplerOptions()...)
	if err != nil {
		_ = sess.out.Error(service.FailureReason(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "info", err)
	}
	info := analysis.Info(ens)
	if hw := sess.svc.Hardware(); hw != nil {
		if size, err := hw.EstimateBytes(ens.ChannelSet(), analysis.TotalBins); err == nil {
			info["estimated_bytes"] = int64(size)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ensemble %s\n", name)
	fmt.Fprintf(&b, "  sample rate   %g Hz\n", ens.SampleRateHz())
	fmt.Fprintf(&b, "  channels      %s\n", ens.ChannelSet())
	fmt.Fprintf(&b, "  length        %d bins (%g s)\n", analysis.TotalBins, float64(analysis.TotalBins)/ens.SampleRateHz())
	fmt.Fprintf(&b, "  elements      %d\n", analysis.NumberOfElements)
	fmt.Fprintf(&b, "  ticks         %d\n", len(analysis.TickBins))
	if len(analysis.TickBins) > 0 {
		fmt.Fprintf(&b, "  tick range    %d..%d bins\n", analysis.TickBins[0], analysis.TickBins[len(analysis.TickBins)-1])
	}
	fmt.Fprintf(&b, "  pulses        %d\n", analysis.PulseCount)
	if size, ok := info["estimated_bytes"]; ok {
		fmt.Fprintf(&b, "  upload size   %d bytes\n", size)
	}
	return sess.out.Success(b.String(), info)
}

func sequenceInfo(sess *session, name string) error {
	seq, ok := sess.svc.Store().Sequence(name)
	if !ok {
		err := fmt.Errorf("sequence %q: %w", name, store.ErrNotFound)
		_ = sess.out.Error("not_found", err.Error(), nil)
		return WrapExitError(ExitFailure, "info", err)
	}
	doc := seq.ToMap()
	doc["finite"] = seq.IsFinite()

	var b strings.Builder
	fmt.Fprintf(&b, "sequence %s (finite=%t, rotating_frame=%t)\n", name, seq.IsFinite(), seq.RotatingFrame())
	fmt.Fprintf(&b, "  %-4s %-20s %6s %6s %6s %6s %6s\n", "step", "ensemble", "reps", "go_to", "event", "wait", "flag")
	for i, step := range seq.Steps() {
		p := step.Params
		fmt.Fprintf(&b, "  %-4d %-20s %6d %6d %6d %6d %6d\n", i, step.Ensemble, p.Repetitions, p.GoTo, p.EventJumpTo, p.WaitFor, p.FlagHigh)
	}
	return sess.out.Success(b.String(), doc)
}
