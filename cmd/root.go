// Package cmd defines the eprints-archiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/app"
	"github.com/JakeFAU/eprints-archiver/internal/config"
	"github.com/JakeFAU/eprints-archiver/internal/credentials"
	"github.com/JakeFAU/eprints-archiver/internal/logging"
	"github.com/JakeFAU/eprints-archiver/internal/metrics"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
	"github.com/JakeFAU/eprints-archiver/internal/progress/sinks"
	"github.com/JakeFAU/eprints-archiver/internal/report"
	"github.com/JakeFAU/eprints-archiver/internal/runenv"
)

// version is replaced at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

// rootOptions holds the flags that are not configuration values.
type rootOptions struct {
	cfgFile  string
	services bool
	version  bool

	// appOpts are passed to every Runner; tests use them to replace the
	// network.
	appOpts []app.Option
}

// newRootCmd creates and configures the root command.
func newRootCmd(appOpts ...app.Option) *cobra.Command {
	opts := &rootOptions{appOpts: appOpts}
	cmd := &cobra.Command{
		Use:   "eprints-archiver",
		Short: "Send the pages of an EPrints repository to web archives.",
		Long: `eprints-archiver collects the public URLs of the records in an EPrints
repository and asks web archiving services such as the Internet Archive's
Wayback Machine to capture them. URLs a service already holds are skipped
unless --force is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitBadOption, Err: err}
	})

	f := cmd.Flags()
	f.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	f.StringP("api-url", "a", "", "EPrints server REST URL, e.g. https://repo.example.edu/rest")
	f.StringP("dest", "d", "all", `comma-separated destinations, or "all"`)
	f.BoolP("force", "f", false, "submit even when a destination already holds a capture")
	f.StringP("id-list", "i", "", "record ids and ranges (1,4-7), or a file with one entry per line")
	f.StringP("lastmod", "l", "", "only records modified on or after this date")
	f.StringP("status", "s", "", `only records with this status; "^a,b" excludes, "any" keeps all`)
	f.BoolP("error-out", "e", false, "stop at the first missing record or fetch error")
	f.IntP("threads", "t", 0, "concurrent repository requests (0 = half the CPUs)")
	f.IntP("delay", "y", 100, "extra milliseconds between requests to one destination")
	f.StringP("user", "u", "", "EPrints user name")
	f.StringP("password", "p", "", "EPrints password")
	f.BoolP("quiet", "q", false, "only print warnings and failures")
	f.BoolP("no-color", "C", false, "do not color the output")
	f.BoolP("no-keyring", "K", false, "do not read or save stored credentials")
	f.StringP("report", "r", "", "write a report (.csv, .md, .html, otherwise text)")
	f.StringP("debug", "@", "", `write a debug trace to this file ("-" for stderr)`)
	f.Int("timeout", 30, "per-request network timeout in seconds")
	f.String("metrics-file", "", "write Prometheus metrics to this file at exit")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address during the run")
	f.BoolVarP(&opts.services, "services", "v", false, "list the known destinations and exit")
	f.BoolVarP(&opts.version, "version", "V", false, "print the version and exit")

	return cmd
}

func (o *rootOptions) run(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	if o.version {
		_, err := fmt.Fprintf(out, "%s %s\n", cmd.Name(), version)
		return err
	}
	if o.services {
		return listServices(out)
	}

	cfg, err := config.Load(o.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Quiet:       cfg.Logging.Quiet,
		NoColor:     cfg.Logging.NoColor,
		Debug:       cfg.Logging.Debug,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	color := !cfg.Logging.NoColor
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewConsoleSink(out, color, cfg.Logging.Quiet),
		sinks.NewLogSink(logger),
		promSink,
	)

	env := runenv.New(logger, progress.NewReporter(hub), credentialCache(cfg, logger), out)
	env.Color = color
	env.Debug = cfg.Logging.Debug

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, registry, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	results, runErr := app.New(cfg, env, o.appOpts...).Run(ctx)

	cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(cctx); err != nil {
		logger.Warn("progress hub did not drain", zap.Error(err), zap.Int64("dropped", hub.Dropped()))
	}

	if err := finish(cfg, env, results, registry); err != nil {
		if runErr == nil {
			return err
		}
		logger.Error("writing results failed", zap.Error(err))
	}

	if runErr != nil {
		if ctx.Err() != nil && !errors.Is(runErr, app.ErrNoNetwork) {
			return &ExitError{Code: ExitInterrupt, Err: runErr}
		}
		return runErr
	}
	return nil
}

// finish writes the report file, the console summary and the metrics file.
func finish(cfg config.Config, env *runenv.Env, results *report.Report, registry prometheus.Gatherer) error {
	if results != nil {
		if cfg.Report.Path != "" {
			if err := results.Write(cfg.Report.Path); err != nil {
				return err
			}
			env.Logger.Info("report written", zap.String("path", cfg.Report.Path))
		}
		if err := results.RenderSummary(env.Out, env.Color); err != nil {
			return err
		}
	}
	if cfg.Metrics.File != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.File, registry); err != nil {
			return err
		}
	}
	return nil
}

// credentialCache opens the credential store unless it is disabled. A store
// that cannot be located only disables persistence.
func credentialCache(cfg config.Config, logger *zap.Logger) *credentials.Cache {
	if cfg.Credentials.Disabled {
		return credentials.NewCache(nil)
	}
	store, err := credentials.NewFileStore(cfg.Credentials.Path)
	if err != nil {
		logger.Warn("credential store unavailable", zap.Error(err))
		return credentials.NewCache(nil)
	}
	return credentials.NewCache(store)
}

func listServices(out io.Writer) error {
	reg := app.DefaultRegistry(nil, nil)
	for _, name := range reg.Names() {
		if _, err := fmt.Fprintf(out, "%-16s %s\n", name, reg.Label(name)); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer, appOpts ...app.Option) int {
	cmd := newRootCmd(appOpts...)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	if code != ExitOK {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return code
}
