package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/config"
	"github.com/timzifer/pulsed/internal/logging"
	"github.com/timzifer/pulsed/service"
	"github.com/timzifer/pulsed/store"
	"github.com/timzifer/pulsed/telemetry"
)

// session is the state shared by one command invocation.
type session struct {
	cfg    *config.Config
	svc    *service.Service
	logger zerolog.Logger
	out    *OutputFormatter
	close  func()
}

// openSession loads the configuration, sets up logging on stderr, opens the
// service with its recipes and imports the --library documents.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load configuration", err)
		}
		cfg = loaded
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, cleanupLogging, err := logging.SetupTo(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "setup logging", err)
	}

	collector, err := service.NewTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	svc, err := service.New(cfg, logger, service.WithTelemetry(collector))
	if err != nil {
		cleanupLogging()
		return nil, WrapExitError(ExitCommandError, "open service", err)
	}
	s := &session{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
		close: func() {
			if err := svc.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close store")
			}
			cleanupLogging()
		},
	}

	if err := svc.LoadRecipes(); err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "load recipes", err)
	}
	for _, path := range opts.Libraries {
		lib, err := store.LoadDocument(path)
		if err == nil {
			err = store.Put(svc.Store(), lib)
		}
		if err != nil {
			s.close()
			return nil, WrapExitError(ExitCommandError, "import library "+path, err)
		}
		s.out.VerboseLog("imported %d blocks, %d ensembles, %d sequences from %s",
			len(lib.Blocks), len(lib.Ensembles), len(lib.Sequences), path)
	}
	return s, nil
}
