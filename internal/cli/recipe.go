package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/store"
)

// ImportOutput is the output of recipe import.
type ImportOutput struct {
	Recipe     string             `json:"recipe"`
	Blocks     []string           `json:"blocks"`
	Ensemble   string             `json:"ensemble"`
	Sequence   string             `json:"sequence,omitempty"`
	Parameters map[string]float64 `json:"parameters"`
	Document   string             `json:"document,omitempty"`
}

// NewRecipeCommand creates the recipe command group.
func NewRecipeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Work with parameterised measurement recipes",
	}
	cmd.AddCommand(newRecipeListCommand(rootOpts))
	cmd.AddCommand(newRecipeImportCommand(rootOpts))
	return cmd
}

func newRecipeListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the recipes of the configured recipe directories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()
			names := nonNil(sess.svc.Recipes())
			text := strings.Join(names, "\n")
			if text != "" {
				text += "\n"
			}
			return sess.out.Success(text, names)
		},
	}
}

func newRecipeImportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sets   []string
		output string
	)

	cmd := &cobra.Command{
		Use:   "import <recipe>",
		Short: "Build a recipe and store the generated entities",
		Long: `Evaluate a recipe with its declared parameters, overridden by --set
NAME=VALUE, and write the generated blocks, ensemble and sequence into the
store. With --output the generated entities are also written as a library
document.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseOverrides(sets)
			if err != nil {
				return WrapExitError(ExitCommandError, "--set", err)
			}
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			gen, err := sess.svc.ImportRecipe(args[0], overrides)
			if err != nil {
				_ = sess.out.Error("invalid_recipe", err.Error(), args[0])
				return WrapExitError(ExitFailure, "recipe import", err)
			}
			out := ImportOutput{
				Recipe:     args[0],
				Ensemble:   gen.Ensemble.Name(),
				Parameters: gen.Parameters,
			}
			for _, b := range gen.Blocks {
				out.Blocks = append(out.Blocks, b.Name())
			}
			if gen.Sequence != nil {
				out.Sequence = gen.Sequence.Name()
			}
			if output != "" {
				data, err := json.MarshalIndent(store.NewDocument(gen.Library()), "", "  ")
				if err != nil {
					return WrapExitError(ExitFailure, "encode document", err)
				}
				if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
					return WrapExitError(ExitCommandError, "write document", err)
				}
				out.Document = output
			}
			return sess.out.Success(importText(out), out)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "parameter override NAME=VALUE (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the generated entities to this document file")

	return cmd
}

func parseOverrides(sets []string) (map[string]float64, error) {
	overrides := make(map[string]float64, len(sets))
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", set)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		overrides[name] = value
	}
	return overrides, nil
}

func importText(out ImportOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "recipe %s imported\n", out.Recipe)
	fmt.Fprintf(&b, "  blocks    %s\n", strings.Join(out.Blocks, ", "))
	fmt.Fprintf(&b, "  ensemble  %s\n", out.Ensemble)
	if out.Sequence != "" {
		fmt.Fprintf(&b, "  sequence  %s\n", out.Sequence)
	}
	names := make([]string, 0, len(out.Parameters))
	for name := range out.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-16s %g\n", name, out.Parameters[name])
	}
	if out.Document != "" {
		fmt.Fprintf(&b, "wrote %s\n", out.Document)
	}
	return b.String()
}
