package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/dnswatch/classifier"
	"github.com/semihalev/dnswatch/config"
	"github.com/semihalev/dnswatch/correlator"
	"github.com/semihalev/dnswatch/parser"
	"github.com/semihalev/dnswatch/pipeline"
	"github.com/semihalev/dnswatch/report"
	"github.com/semihalev/dnswatch/source"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type scanFlags struct {
	config   string
	format   string
	window   time.Duration
	follow   bool
	workers  int
	json     bool
	report   string
	output   string
	loglevel string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dnswatch",
		Short: "DNS spoofing and cache poisoning detector",
		Long: `dnswatch correlates DNS queries and responses from resolver logs, packet
captures and dnstap files, and reports names that received several or
conflicting answers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScanCmd(), newConfigCmd(), newVersionCmd())

	return root
}

func newScanCmd() *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan [flags] <path>",
		Short: "Scan a log file, capture or dnstap file for anomalies",
		Example: `  dnswatch scan /var/log/named/queries.log
  dnswatch scan --format pcap --window 5s capture.pcapng
  dnswatch scan --follow --json --output anomalies.jsonl /var/log/named/queries.log`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(cmd, args[0], &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "location of the config file, generated when it does not exist")
	fl.StringVar(&f.format, "format", config.FormatAuto, "input format: auto, log, pcap, dnstap")
	fl.DurationVar(&f.window, "window", 0, "finalize transactions idle for this long, 0 to wait for end of input")
	fl.BoolVar(&f.follow, "follow", false, "keep reading a log file as it grows")
	fl.IntVar(&f.workers, "workers", 0, "parse workers, 0 for one per CPU")
	fl.BoolVar(&f.json, "json", false, "write anomalies as JSON lines, same as --report json")
	fl.StringVar(&f.report, "report", config.ReportText, "report format: text, json, yaml")
	fl.StringVarP(&f.output, "output", "o", "", "write the report to a file instead of stdout")
	fl.StringVar(&f.loglevel, "loglevel", "", "log verbosity: error, warn, info, debug")

	return cmd
}

// loadConfig returns the config file settings with changed flags on top.
func loadConfig(cmd *cobra.Command, f *scanFlags) (*config.Config, error) {
	cfg := config.Default(version)

	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config, version); err != nil {
			return nil, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("format") {
		cfg.Format = f.format
	}
	if fl.Changed("window") {
		cfg.IdleWindow.Duration = f.window
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("report") {
		cfg.Report = f.report
	}
	if f.json {
		cfg.Report = config.ReportJSON
	}
	if fl.Changed("output") {
		cfg.Output = f.output
	}
	if fl.Changed("loglevel") {
		cfg.LogLevel = f.loglevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setupLogger(level string) error {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StderrTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "", "info":
		logger.SetLevel(zlog.LevelInfo)
	case "warn", "warning":
		logger.SetLevel(zlog.LevelWarn)
	case "error", "crit":
		logger.SetLevel(zlog.LevelError)
	default:
		return fmt.Errorf("log verbosity level unknown: %q", level)
	}

	zlog.SetDefault(logger)

	return nil
}

func scan(cmd *cobra.Command, path string, f *scanFlags) error {
	if err := setupLogger(f.loglevel); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return fmt.Errorf("config loading failed: %w", err)
	}

	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, format, err := source.Open(path, source.Options{Format: cfg.Format, Follow: f.follow})
	if err != nil {
		return err
	}
	defer src.Close()

	zlog.Info("Starting dnswatch...", "version", cfg.ServerVersion(), "input", path, "format", format)

	p, err := parser.New(format, cfg)
	if err != nil {
		return err
	}

	cl, err := classifier.New(classifier.Options{TrustedNets: cfg.TrustedNets})
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.MetricsFile != "" {
		reg = prometheus.NewRegistry()
	}

	opts := pipeline.Options{
		Parser:     p,
		Classifier: cl,
		Correlator: correlator.Options{
			Shards:     cfg.Shards,
			IdleWindow: cfg.IdleWindow.Duration,
		},
		Workers:       cfg.Workers,
		SweepInterval: cfg.SweepInterval.Duration,
	}
	if reg != nil {
		opts.Registerer = reg
	}

	pl, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	stats, runErr := pl.Run(ctx, src)

	if reg != nil {
		if err := pipeline.WriteTextfile(cfg.MetricsFile, reg); err != nil {
			zlog.Error("Metrics file write failed", "path", cfg.MetricsFile, "error", err.Error())
		}
	}

	if runErr != nil {
		zlog.Error("Scan failed", "units", stats.Units, "events", stats.Events, "skipped", stats.Skipped)
		return runErr
	}

	return writeReport(cmd, cfg, pl.Sink(), stats)
}

func writeReport(cmd *cobra.Command, cfg *config.Config, sink *report.Sink, stats report.Stats) (err error) {
	var w io.Writer = cmd.OutOrStdout()

	if cfg.Output != "" {
		var out *os.File
		if out, err = os.Create(cfg.Output); err != nil {
			return fmt.Errorf("could not create report file: %w", err)
		}
		defer func() {
			if cerr := out.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = out
	}

	switch cfg.Report {
	case config.ReportJSON:
		return sink.WriteJSON(w, stats)
	case config.ReportYAML:
		return sink.WriteYAML(w, stats)
	}

	sink.Colorize(w == io.Writer(os.Stdout) && !color.NoColor)

	return sink.Render(w, stats)
}

func newConfigCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "config [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "dnswatch.toml"
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := setupLogger("info"); err != nil {
				return err
			}

			return config.Generate(path)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "dnswatch v"+version)
		},
	}
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)

	return root.ExecuteContext(ctx)
}
