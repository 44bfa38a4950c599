package main

import (
	"log/slog"
	"strings"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/spf13/cobra"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	"github.com/allison-weber/EPAnomoly/internal/config"
	"github.com/allison-weber/EPAnomoly/internal/domain"
	"github.com/allison-weber/EPAnomoly/internal/observability"
	"github.com/allison-weber/EPAnomoly/internal/pipeline"
)

// commandContext builds the store and engine once flags are parsed.
type commandContext struct {
	dataDir    string
	paramsPath string
	workers    int
	logLevel   string

	store  *filestore.Store
	engine *pipeline.Engine
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "epanomaly",
		Short:         "Outlier detection for EPA air-quality series",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cc.dataDir, "data-dir", sharedcfg.EnvOrDefault("DATA_DIR", "data"), "Root of the partitioned store")
	flags.StringVar(&cc.paramsPath, "params", "", "TOML file overriding detector parameters")
	flags.IntVar(&cc.workers, "workers", 0, "Worker pool size (0 picks from the CPU count)")
	flags.StringVar(&cc.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newFitCommand(cc))
	rootCmd.AddCommand(newDetectCommand(cc))
	rootCmd.AddCommand(newClusterCommand(cc))
	rootCmd.AddCommand(newScoresCommand(cc))

	return rootCmd
}

// ensureEngine wires the engine on first use. Logs go to stderr so stdout
// carries only command output.
func (cc *commandContext) ensureEngine(cmd *cobra.Command) (*pipeline.Engine, error) {
	if cc.engine != nil {
		return cc.engine, nil
	}

	params := domain.DefaultParams()
	if cc.paramsPath != "" {
		var err error
		if params, err = config.LoadParams(cc.paramsPath); err != nil {
			return nil, err
		}
	}
	if cc.workers > 0 {
		params.Workers = cc.workers
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cc.logLevel)}))
	cc.store = filestore.New(cc.dataDir, logger)
	pool := pipeline.NewPool(params.PoolSize(), params.BatchSize, logger)
	cc.engine = pipeline.New(cc.store, pool, params, logger, observability.NewUnregisteredMetrics())
	return cc.engine, nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// rangeFlags adds --start and --end to cmd.
func rangeFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", "First date to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(end, "end", "", "Last date to include (YYYY-MM-DD)")
}
