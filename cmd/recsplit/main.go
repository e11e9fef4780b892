// recsplit splits large text sources into records, parses them in
// parallel and writes them out, optionally validating each record.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/recsplit/pkg/config"
	"github.com/logflow/recsplit/pkg/errors"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool
)

// Reader and job flags, shared by run and watch
var (
	workersFlag     int
	codecFlag       string
	recordTypeFlag  string
	fieldsFlag      []string
	startFlag       string
	stopFlag        string
	skipLinesFlag   int
	encodingFlag    string
	batchFlag       bool
	outputKindFlag  string
	compressionFlag string
	errorPolicyFlag string
	maxSkipsFlag    int
	quarantineFlag  string
	validateFlag    bool
	failFastFlag    bool
	jobIDFlag       string
	noProgressFlag  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err, verbose)
		os.Exit(1)
	}
}

// reportError prints err, and with verbose the stack where the first
// coded error in its chain was raised.
func reportError(w io.Writer, err error, verbose bool) {
	fmt.Fprintln(w, err)
	var e *errors.Error
	if verbose && stderrors.As(err, &e) && len(e.StackTrace) > 0 {
		fmt.Fprint(w, e.FormatStack())
	}
}

var rootCmd = &cobra.Command{
	Use:   "recsplit",
	Short: "recsplit - split, parse and validate records from large text sources",
	Long: `recsplit carves CSV, XML and JSONL sources into records, parses them
with a pool of workers and writes them to CSV, XML, JSONL, zip, Parquet or
DuckDB-exported outputs.

Configuration is read from /etc/recsplit/config.yaml, ~/.recsplit/config.yaml,
./.recsplit.yaml and --config, then RECSPLIT_* variables, then flags.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "recsplit %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file loaded after the default locations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and metric logging")

	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		f := cmd.Flags()
		f.IntVarP(&workersFlag, "workers", "w", 0, "Number of parallel workers")
		f.StringVar(&codecFlag, "codec", "", "Input codec (csv, tsv, xml, jsonl)")
		f.StringVar(&recordTypeFlag, "record-type", "", "Record type name (XML element to read)")
		f.StringSliceVar(&fieldsFlag, "fields", nil, "Field names for delimited input")
		f.StringVar(&startFlag, "start", "", "Regular expression matching the first line of a record")
		f.StringVar(&stopFlag, "stop", "", "Regular expression matching the last line of a record")
		f.IntVar(&skipLinesFlag, "skip-lines", 0, "Leading lines to skip in every stream")
		f.StringVar(&encodingFlag, "encoding", "", "Input text encoding")
		f.BoolVar(&batchFlag, "batch", false, "Use the push-based batch reader")
		f.StringVar(&outputKindFlag, "output-kind", "", "Output kind (auto, file, zip, parquet, duckdb)")
		f.StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
		f.StringVar(&errorPolicyFlag, "error-policy", "", "On record failure: strict or skip")
		f.IntVar(&maxSkipsFlag, "max-skips", 0, "Fail once more records are skipped (0 = no limit)")
		f.StringVar(&quarantineFlag, "quarantine", "", "Directory for skipped records")
		f.BoolVar(&validateFlag, "validate", false, "Validate records against the configured rules")
		f.BoolVar(&failFastFlag, "fail-fast", false, "Stop validating a record at its first failed rule")
		f.StringVar(&jobIDFlag, "job-id", "", "Job ID recorded with the step execution")
		f.BoolVar(&noProgressFlag, "no-progress", false, "Hide the live record counter")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads layered configuration and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return nil, err
	}
	cfg := m.Get()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verbose {
		for _, p := range m.GetPaths() {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", p)
		}
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag the user set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string) bool {
		fl := f.Lookup(name)
		return fl != nil && fl.Changed
	}

	if set("workers") {
		cfg.Reader.Workers = workersFlag
	}
	if set("codec") {
		cfg.Reader.Codec = codecFlag
	}
	if set("record-type") {
		cfg.Reader.RecordType = recordTypeFlag
	}
	if set("fields") {
		cfg.Reader.Fields = fieldsFlag
	}
	if set("start") {
		cfg.Reader.StartPattern = startFlag
	}
	if set("stop") {
		cfg.Reader.StopPattern = stopFlag
	}
	if set("batch") {
		cfg.Reader.Batch = batchFlag
	}
	if set("skip-lines") {
		cfg.Source.SkipLines = skipLinesFlag
	}
	if set("encoding") {
		cfg.Source.Encoding = encodingFlag
	}
	if set("output-kind") {
		cfg.Output.Kind = outputKindFlag
	}
	if set("compression") {
		cfg.Output.Compression = compressionFlag
	}
	if set("error-policy") {
		cfg.Job.ErrorPolicy = errorPolicyFlag
	}
	if set("max-skips") {
		cfg.Job.MaxSkips = maxSkipsFlag
	}
	if set("quarantine") {
		cfg.Job.QuarantineDir = quarantineFlag
	}
	if set("validate") {
		cfg.Validation.Enabled = validateFlag
	}
	if set("fail-fast") {
		cfg.Validation.FailFast = failFastFlag
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
