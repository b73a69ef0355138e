package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/service"
	"github.com/timzifer/pulsed/store"
)

// EntityResult is the JSON form of one checked entity.
type EntityResult struct {
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Valid      bool              `json:"valid"`
	Errors     []string          `json:"errors,omitempty"`
	LengthBins uint64            `json:"length_bins,omitempty"`
	Ticks      int               `json:"ticks,omitempty"`
	PulseCount uint64            `json:"pulse_count,omitempty"`
	Plays      map[string]uint64 `json:"plays,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Entities []EntityResult `json:"entities"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var recipes []string

	cmd := &cobra.Command{
		Use:   "validate [document...]",
		Short: "Check stored entities without sampling",
		Long: `Import the given library documents, then check every stored ensemble
and sequence: references, channel sets, tick placement, lengths, hardware
limits and sequence control flow. No waveform is rendered.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, recipes, cmd)
		},
	}
	cmd.Flags().StringArrayVar(&recipes, "recipe", nil, "recipe to import before checking (repeatable)")

	return cmd
}

func runValidate(opts *RootOptions, documents, recipes []string, cmd *cobra.Command) error {
	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	for _, path := range documents {
		lib, err := store.LoadDocument(path)
		if err == nil {
			err = store.Put(sess.svc.Store(), lib)
		}
		if err != nil {
			_ = sess.out.Error("invalid_document", err.Error(), path)
			return WrapExitError(ExitFailure, "invalid document "+path, err)
		}
	}
	for _, name := range recipes {
		if _, err := sess.svc.ImportRecipe(name, nil); err != nil {
			_ = sess.out.Error("invalid_recipe", err.Error(), name)
			return WrapExitError(ExitFailure, "recipe "+name, err)
		}
	}

	result := ValidationResult{Valid: true}
	for _, report := range sess.svc.Check() {
		result.Entities = append(result.Entities, entityResult(report))
		if !report.OK() {
			result.Valid = false
		}
	}

	if err := sess.out.Success(validationText(result), result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func entityResult(report service.EntityReport) EntityResult {
	res := EntityResult{
		Kind:   report.Kind,
		Name:   report.Name,
		Valid:  report.OK(),
		Errors: report.Errors,
		Plays:  report.Plays,
	}
	if report.Analysis != nil {
		res.LengthBins = report.Analysis.TotalBins
		res.Ticks = len(report.Analysis.TickBins)
		res.PulseCount = report.Analysis.PulseCount
	}
	return res
}

func validationText(result ValidationResult) string {
	var b strings.Builder
	failed := 0
	for _, e := range result.Entities {
		if !e.Valid {
			failed++
			fmt.Fprintf(&b, "FAIL %s %s\n", e.Kind, e.Name)
			for _, msg := range e.Errors {
				fmt.Fprintf(&b, "     %s\n", msg)
			}
			continue
		}
		switch {
		case e.Plays != nil:
			fmt.Fprintf(&b, "ok   %s %s plays %s\n", e.Kind, e.Name, formatPlays(e.Plays))
		default:
			fmt.Fprintf(&b, "ok   %s %s %d bins, %d ticks, %d pulses\n", e.Kind, e.Name, e.LengthBins, e.Ticks, e.PulseCount)
		}
	}
	if failed == 0 {
		fmt.Fprintf(&b, "%d entities valid\n", len(result.Entities))
	} else {
		fmt.Fprintf(&b, "%d of %d entities failed\n", failed, len(result.Entities))
	}
	return b.String()
}

func formatPlays(plays map[string]uint64) string {
	names := make([]string, 0, len(plays))
	for name := range plays {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, plays[name])
	}
	return strings.Join(parts, " ")
}
