package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Listing is the output of the list command.
type Listing struct {
	Blocks    []string `json:"blocks"`
	Ensembles []string `json:"ensembles"`
	Sequences []string `json:"sequences"`
	Recipes   []string `json:"recipes"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored entities and loaded recipes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			names := sess.svc.Store().Names()
			listing := Listing{
				Blocks:    nonNil(names.Blocks),
				Ensembles: nonNil(names.Ensembles),
				Sequences: nonNil(names.Sequences),
				Recipes:   nonNil(sess.svc.Recipes()),
			}
			var b strings.Builder
			for _, group := range []struct {
				title string
				names []string
			}{
				{"blocks", listing.Blocks},
				{"ensembles", listing.Ensembles},
				{"sequences", listing.Sequences},
				{"recipes", listing.Recipes},
			} {
				fmt.Fprintf(&b, "%s:", group.title)
				for _, name := range group.names {
					fmt.Fprintf(&b, " %s", name)
				}
				b.WriteByte('\n')
			}
			return sess.out.Success(b.String(), listing)
		},
	}
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
