package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/grfn_downloader/internal/config"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

const serviceName = "grfn_downloader"

var version = "dev"

type globalOptions struct {
	envFile   string
	dir       string
	parallel  int
	transport string

	cfg *config.Config
}

func (o *globalOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.envFile, "env-file", ".env", "optional dotenv `file` loaded before the environment")
	f.StringVarP(&o.dir, "dir", "d", "", "download `directory` (overrides TARGET_DIR)")
	f.IntVarP(&o.parallel, "parallel", "p", 0, "number of concurrent workers, 0 for one per CPU (overrides MAX_PARALLEL)")
	f.StringVar(&o.transport, "transport", "", "download transport, door or s3 (overrides DOWNLOAD_TRANSPORT)")
}

// PreRun loads the configuration, applies flag overrides and installs the
// logger.
func (o *globalOptions) PreRun(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(o.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("dir") {
		cfg.TargetDir = o.dir
	}

	if flags.Changed("parallel") {
		cfg.MaxParallel = o.parallel
	}

	if flags.Changed("transport") {
		cfg.DownloadTransport = o.transport
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

	return nil
}

func newRootCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   serviceName + " <path>",
		Short: "Restore and download GRFN interferograms for a track",
		Long: `
grfn_downloader queries the catalog for every GRFN unwrapped interferogram of
a Sentinel-1 path, restores the ones still in cold storage and downloads them
in parallel. Files already present in the download directory are skipped, so
an interrupted run can simply be started again.
`,
		Version:           version,
		Args:              cobra.ExactArgs(1),
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,

		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return opts.PreRun(c)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(c.Context(), opts.cfg, args[0])
		},
	}

	opts.AddFlags(cmd.PersistentFlags())

	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(newCogsCommand(), newRunsCommand(opts))

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCommand(&globalOptions{}).ExecuteContext(ctx)

	stop()

	if err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
