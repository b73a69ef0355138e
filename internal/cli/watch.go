package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var recipes []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild imported recipes whenever their files change",
		Long: `Import the given recipes, then poll the configuration and the recipe
directories until interrupted. Every change reloads the recipes and rebuilds
the imported ones with the parameters they were imported with. Requires
hot_reload in the configuration.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()
			if !sess.cfg.HotReload {
				return NewExitError(ExitCommandError, "hot_reload is disabled in the configuration")
			}

			for _, name := range recipes {
				if _, err := sess.svc.ImportRecipe(name, nil); err != nil {
					return WrapExitError(ExitFailure, "recipe "+name, err)
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			sess.logger.Info().Strs("files", sess.svc.SourceFiles()).Msg("watching for changes")
			if err := sess.svc.Watch(ctx, rootOpts.Config); err != nil {
				return WrapExitError(ExitFailure, "watch", err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&recipes, "import", nil, "recipe to import and keep rebuilt (repeatable)")

	return cmd
}
