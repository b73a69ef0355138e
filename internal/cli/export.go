package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/store"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored entities as a library document",
		Long: `Write every stored block, ensemble and sequence, including sampling
info, as one JSON library document. The document can be read back with
--library or validate.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			doc := store.NewDocument(sess.svc.Store().Snapshot())
			if output == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return WrapExitError(ExitFailure, "encode document", err)
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return WrapExitError(ExitCommandError, "write document", err)
			}
			sess.out.VerboseLog("wrote %s", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
