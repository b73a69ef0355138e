package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/sequencer"
	"github.com/timzifer/pulsed/service"
	"github.com/timzifer/pulsed/store"
)

// SimulationOutput is the JSON form of a sequencer trace.
type SimulationOutput struct {
	Sequence   string            `json:"sequence"`
	Events     []string          `json:"events"`
	Plays      map[string]uint64 `json:"plays"`
	Visited    []int             `json:"visited"`
	Terminated bool              `json:"terminated"`
	Capped     bool              `json:"capped"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cycles   int
		triggers []string
	)

	cmd := &cobra.Command{
		Use:   "simulate <sequence>",
		Short: "Walk a sequence through the sequencer model",
		Long: `Play a stored sequence cycle by cycle without sampling it. Trigger
lines are given as LINE (always asserted), LINE@CYCLE or LINE@FIRST-LAST.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := parseTriggers(triggers)
			if err != nil {
				return WrapExitError(ExitCommandError, "trigger", err)
			}
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			seq, ok := sess.svc.Store().Sequence(args[0])
			if !ok {
				err := fmt.Errorf("sequence %q: %w", args[0], store.ErrNotFound)
				_ = sess.out.Error("not_found", err.Error(), nil)
				return WrapExitError(ExitFailure, "simulate", err)
			}
			trace, err := sess.svc.Simulate(seq, sess.svc.SequenceLimits(seq), cycles, sequencer.WithTriggers(source))
			if err != nil {
				_ = sess.out.Error(service.FailureReason(err), err.Error(), nil)
				return WrapExitError(ExitFailure, "simulate", err)
			}
			output := SimulationOutput{
				Sequence:   trace.Sequence,
				Events:     make([]string, len(trace.Events)),
				Plays:      trace.Plays(),
				Visited:    trace.Visited(),
				Terminated: trace.Terminated,
				Capped:     trace.Capped,
			}
			for i, ev := range trace.Events {
				output.Events[i] = ev.String()
			}
			return sess.out.Success(trace.String(), output)
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 0, "maximum cycles to simulate (0 = sixteen passes over the step table)")
	cmd.Flags().StringArrayVarP(&triggers, "trigger", "t", nil, "asserted trigger line (repeatable)")

	return cmd
}

type cycleRange struct {
	first, last uint64
}

// triggerSet asserts lines during fixed cycle ranges.
type triggerSet map[int32][]cycleRange

func (t triggerSet) Asserted(line int32, cycle uint64) bool {
	for _, r := range t[line] {
		if cycle >= r.first && cycle <= r.last {
			return true
		}
	}
	return false
}

func parseTriggers(specs []string) (triggerSet, error) {
	set := make(triggerSet)
	for _, spec := range specs {
		lineText, cycles, hasCycles := strings.Cut(spec, "@")
		line, err := strconv.ParseInt(strings.TrimSpace(lineText), 10, 32)
		if err != nil || line < 0 {
			return nil, fmt.Errorf("invalid trigger line in %q", spec)
		}
		r := cycleRange{last: ^uint64(0)}
		if hasCycles {
			firstText, lastText, isRange := strings.Cut(cycles, "-")
			first, err := strconv.ParseUint(strings.TrimSpace(firstText), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid trigger cycle in %q", spec)
			}
			r = cycleRange{first: first, last: first}
			if isRange {
				last, err := strconv.ParseUint(strings.TrimSpace(lastText), 10, 64)
				if err != nil || last < first {
					return nil, fmt.Errorf("invalid trigger cycle range in %q", spec)
				}
				r.last = last
			}
		}
		set[int32(line)] = append(set[int32(line)], r)
	}
	return set, nil
}
