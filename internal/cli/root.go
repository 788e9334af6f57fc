// Package cli implements the mailq administration commands.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/mailqueue/internal/app"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
)

// OpenFunc builds the backends for a loaded configuration.
type OpenFunc func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.Backends, error)

type Config struct {
	ConfigDir    string
	OutputWriter io.Writer
	// Open defaults to app.OpenBackends.
	Open OpenFunc
}

type runtimeState struct {
	configDir    string
	outputFormat string
	verbose      bool
	writer       io.Writer
	open         OpenFunc

	cfg      *config.Config
	log      zerolog.Logger
	backends *app.Backends
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigDir:    "config",
		OutputWriter: os.Stdout,
		Open:         app.OpenBackends,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configDir: cfg.ConfigDir, writer: cfg.OutputWriter, open: cfg.Open}
	if rt.open == nil {
		rt.open = app.OpenBackends
	}

	root := &cobra.Command{
		Use:           "mailq",
		Short:         "Inspect and operate the mail queue",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "completion" || cmd.Name() == "help" {
				return nil
			}
			return rt.load(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.backends != nil {
				rt.backends.Close()
				rt.backends = nil
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configDir, "config", rt.configDir, "Directory containing config.yaml")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "table", "Output format: table or json")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log at debug level to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newSendCommand(),
		newEnqueueCommand(),
		newPendingCommand(),
		newCountCommand(),
		newRetryDeferredCommand(),
		newDeferCommand(),
		newRemoveCommand(),
		newSuppressCommand(),
		newLogCommand(),
		newPurgeLogCommand(),
	)

	return root
}

func (rt *runtimeState) load(ctx context.Context) error {
	cfg, err := config.Load(rt.configDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg

	logCfg := app.LoggerConfig(cfg)
	if logCfg.Output != "file" {
		logCfg.Output = "stderr"
		logCfg.Format = "console"
	}
	if rt.verbose {
		logCfg.Level = "debug"
	}
	rt.log = logger.NewFromConfig(logCfg)

	backends, err := rt.open(ctx, cfg, rt.log)
	if err != nil {
		return err
	}
	rt.backends = backends
	return nil
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	if rt.backends == nil {
		return nil, errors.New("backends not opened")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
